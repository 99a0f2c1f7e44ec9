// Package engine wires recovery, seeding, dispatch and the worker pool into one crawl run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
	"github.com/tisorlawan/indonesian-media-crawler/internal/dispatcher"
	"github.com/tisorlawan/indonesian-media-crawler/internal/metrics"
	"github.com/tisorlawan/indonesian-media-crawler/internal/worker"
)

const defaultStatsInterval = time.Minute

// Config sizes one crawl run.
type Config struct {
	MaxInProgress    int
	DispatchInterval time.Duration
	ChannelSize      int
	StatsInterval    time.Duration
}

// Engine owns a single crawl over one frontier.
type Engine struct {
	frontier crawler.Frontier
	worker   *worker.Worker
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Engine.
func New(frontier crawler.Frontier, w *worker.Worker, cfg Config, logger *zap.Logger) (*Engine, error) {
	if frontier == nil {
		return nil, errors.New("frontier is required")
	}
	if w == nil {
		return nil, errors.New("worker is required")
	}
	if cfg.MaxInProgress <= 0 {
		return nil, fmt.Errorf("max in progress must be > 0")
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{frontier: frontier, worker: w, cfg: cfg, logger: logger}, nil
}

// Run recovers interrupted work, seeds an empty queue and crawls until ctx
// ends. Cancellation is a clean stop and returns nil.
func (e *Engine) Run(ctx context.Context, seeds []string) error {
	if err := e.Prepare(ctx, seeds); err != nil {
		return err
	}

	pool, err := worker.NewPool(e.frontier, e.worker, e.cfg.MaxInProgress, e.logger.Named("pool"))
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	disp, err := dispatcher.New(e.frontier, pool, dispatcher.Config{
		MaxInProgress: e.cfg.MaxInProgress,
		Interval:      e.cfg.DispatchInterval,
		ChannelSize:   e.cfg.ChannelSize,
	}, e.logger.Named("dispatcher"))
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if _, err := scheduler.NewJob(
		gocron.DurationJob(e.cfg.StatsInterval),
		gocron.NewTask(func() { e.ReportStats(gctx) }),
	); err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("schedule stats: %w", err)
	}

	e.logger.Info("crawl started", zap.Int("max_in_progress", e.cfg.MaxInProgress))
	scheduler.Start()
	g.Go(func() error {
		return disp.Run(gctx)
	})
	g.Go(func() error {
		return pool.Run(gctx, disp.Out())
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := scheduler.Shutdown(); err != nil {
			return fmt.Errorf("stop scheduler: %w", err)
		}
		return nil
	})

	err = g.Wait()
	e.ReportStats(context.WithoutCancel(ctx))
	e.logger.Info("crawl stopped", zap.Uint64("extracted", e.worker.Extracted().Value()))
	return err
}

// Prepare runs startup recovery, seeds an empty queue and loads the stored
// article count into the worker's counter.
func (e *Engine) Prepare(ctx context.Context, seeds []string) error {
	e.logStats(ctx, "frontier before recovery")
	merged, err := e.frontier.MergeRunningIntoQueued(ctx)
	if err != nil {
		return fmt.Errorf("recover running urls: %w", err)
	}
	if merged > 0 {
		e.logger.Info("requeued interrupted urls", zap.Int("count", merged))
	}
	e.logStats(ctx, "frontier after recovery")

	queued, err := e.frontier.Count(ctx, crawler.StateQueued)
	if err != nil {
		return fmt.Errorf("count queued: %w", err)
	}
	if queued == 0 {
		if err := e.seed(ctx, seeds); err != nil {
			return err
		}
	}

	articles, err := e.frontier.ArticleCount(ctx)
	if err != nil {
		return fmt.Errorf("count articles: %w", err)
	}
	e.worker.Extracted().Set(uint64(articles))
	return nil
}

func (e *Engine) seed(ctx context.Context, seeds []string) error {
	added := 0
	for _, raw := range seeds {
		url, err := crawler.CanonicalURL(raw)
		if err != nil {
			e.logger.Warn("invalid seed", zap.String("seed", raw), zap.Error(err))
			continue
		}
		if err := e.frontier.Enqueue(ctx, url); err != nil {
			return fmt.Errorf("enqueue seed %s: %w", url, err)
		}
		added++
	}
	if added == 0 {
		e.logger.Warn("queue is empty and no seeds were added")
		return nil
	}
	e.logger.Info("seeded queue", zap.Int("count", added))
	return nil
}

// ReportStats publishes frontier sizes to metrics and the log.
func (e *Engine) ReportStats(ctx context.Context) {
	stats, err := crawler.Stats(ctx, e.frontier)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("collect frontier stats failed", zap.Error(err))
		}
		return
	}
	for _, state := range crawler.States {
		metrics.SetFrontierSize(string(state), stats.Count(state))
	}
	e.logger.Info("frontier",
		zap.Uint("queued", stats.Queued),
		zap.Uint("running", stats.Running),
		zap.Uint("visited", stats.Visited),
		zap.Uint("warned", stats.Warned),
		zap.Uint("articles", stats.Articles),
	)
}

func (e *Engine) logStats(ctx context.Context, msg string) {
	if ce := e.logger.Check(zap.DebugLevel, msg); ce == nil {
		return
	}
	stats, err := crawler.Stats(ctx, e.frontier)
	if err != nil {
		e.logger.Debug(msg, zap.Error(err))
		return
	}
	e.logger.Debug(msg,
		zap.Uint("queued", stats.Queued),
		zap.Uint("running", stats.Running),
		zap.Uint("visited", stats.Visited),
		zap.Uint("warned", stats.Warned),
	)
}
