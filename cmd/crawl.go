// Package cmd defines and implements the CLI commands for the crawler executable.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tisorlawan/indonesian-media-crawler/internal/api"
	"github.com/tisorlawan/indonesian-media-crawler/internal/config"
	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
	"github.com/tisorlawan/indonesian-media-crawler/internal/engine"
	"github.com/tisorlawan/indonesian-media-crawler/internal/extractor/detik"
	collyfetcher "github.com/tisorlawan/indonesian-media-crawler/internal/fetcher/colly"
	"github.com/tisorlawan/indonesian-media-crawler/internal/policy/ratelimit"
	"github.com/tisorlawan/indonesian-media-crawler/internal/worker"
)

type crawlOptions struct {
	seedsFile string
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl [seed-url...]",
		Short: "Crawl until interrupted",
		Long: `Recovers URLs left running by a previous run, seeds the queue when it is
empty and crawls until SIGINT or SIGTERM. Seeds come from the arguments,
then --seeds-file, then crawl.seeds in the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.seedsFile, "seeds-file", "", "file with one seed URL per line")
	return cmd
}

func runCrawl(cmd *cobra.Command, args []string, opts *crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	seeds, err := resolveSeeds(args, opts.seedsFile, cfg.Crawl)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(cfg, appInstance.Frontier(), logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Run(gctx, seeds); err != nil {
			return fmt.Errorf("run crawler: %w", err)
		}
		// A finished engine means shutdown was requested; stop the server too.
		stop()
		return nil
	})
	if cfg.Server.Port > 0 {
		srv := api.NewServer(appInstance.Frontier(), logger.Named("api"))
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.Server.Port)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("crawl command finished")
	return nil
}

func buildEngine(cfg config.Config, frontier crawler.Frontier, logger *zap.Logger) (*engine.Engine, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	}, logger.Named("fetcher"))

	w := worker.New(
		frontier,
		fetcher,
		detik.New(),
		ratelimit.New(cfg.Delay()),
		worker.Config{
			FetchTimeout: cfg.FetchTimeout(),
			Blocklist:    crawler.NewHostBlocklist(cfg.Crawler.BlockedHosts),
		},
		logger.Named("worker"),
	)

	eng, err := engine.New(frontier, w, engine.Config{
		MaxInProgress:    cfg.Crawler.MaxInProgress,
		DispatchInterval: cfg.Crawler.DispatchInterval,
		ChannelSize:      cfg.Crawler.ChannelSize,
		StatsInterval:    cfg.Crawler.StatsInterval,
	}, logger.Named("engine"))
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	return eng, nil
}

func resolveSeeds(args []string, seedsFile string, crawl config.CrawlConfig) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if seedsFile == "" {
		seedsFile = crawl.SeedsFile
	}
	if seedsFile != "" {
		f, err := os.Open(seedsFile)
		if err != nil {
			return nil, fmt.Errorf("open seeds file: %w", err)
		}
		defer func() { _ = f.Close() }()
		return crawler.ReadSeeds(f)
	}
	return crawl.Seeds, nil
}
