package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newPruneCmd creates the 'prune-queued' subcommand.
func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune-queued",
		Short: "Drop queued URLs that are already visited or archived",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := appInstance.Frontier().PruneQueued(cmd.Context())
			if err != nil {
				return fmt.Errorf("prune queued: %w", err)
			}
			appInstance.Logger().Info("pruned queue", zap.Int("removed", removed))
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d queued urls\n", removed)
			return nil
		},
	}
}
