package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
)

// newArticlesCmd groups commands that read the article archive.
func newArticlesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Inspect archived articles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <url>",
		Short: "Print one archived article as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			url, err := crawler.CanonicalURL(args[0])
			if err != nil {
				return fmt.Errorf("invalid url: %w", err)
			}
			article, err := appInstance.Frontier().GetArticle(cmd.Context(), url)
			if errors.Is(err, crawler.ErrNotFound) {
				return fmt.Errorf("no article stored for %s", url)
			}
			if err != nil {
				return fmt.Errorf("get article: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(article)
		},
	})
	return cmd
}
