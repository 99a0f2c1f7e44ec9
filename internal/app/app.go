// Package app holds the long-lived services shared by CLI commands: the
// configuration, the run-scoped logger and the frontier store.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tisorlawan/indonesian-media-crawler/internal/clock/system"
	"github.com/tisorlawan/indonesian-media-crawler/internal/config"
	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
	"github.com/tisorlawan/indonesian-media-crawler/internal/id/uuid"
	"github.com/tisorlawan/indonesian-media-crawler/internal/storage"
)

// App is the dependency container built once per command invocation.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	frontier crawler.Frontier
	clock    crawler.Clock
	runID    string
}

// New opens the configured frontier and tags the logger with a fresh run id.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	clock := system.New()
	frontier, err := storage.Open(ctx, cfg, clock)
	if err != nil {
		return nil, fmt.Errorf("open frontier: %w", err)
	}
	a, err := NewWithFrontier(cfg, logger, frontier, clock, uuid.New())
	if err != nil {
		_ = frontier.Close()
		return nil, err
	}
	a.logger.Info("frontier opened",
		zap.String("driver", cfg.Storage.Driver),
		zap.String("name", cfg.Crawl.Name))
	return a, nil
}

// NewWithFrontier assembles an App around an already opened frontier.
func NewWithFrontier(
	cfg config.Config,
	logger *zap.Logger,
	frontier crawler.Frontier,
	clock crawler.Clock,
	ids crawler.IDGenerator,
) (*App, error) {
	if frontier == nil {
		return nil, errors.New("frontier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	return &App{
		cfg:      cfg,
		logger:   logger.With(zap.String("run_id", runID)),
		frontier: frontier,
		clock:    clock,
		runID:    runID,
	}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Frontier returns the open frontier store.
func (a *App) Frontier() crawler.Frontier {
	return a.frontier
}

// Clock returns the clock the frontier was opened with.
func (a *App) Clock() crawler.Clock {
	return a.clock
}

// RunID identifies this invocation in logs.
func (a *App) RunID() string {
	return a.runID
}

// Close releases the frontier and flushes the logger.
func (a *App) Close() error {
	var errs []error
	if err := a.frontier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close frontier: %w", err))
	}
	// Sync on a terminal stderr returns EINVAL; it is not worth surfacing.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
