// Package storage selects the frontier backend named by configuration.
// Backends live in subpackages (sqlite, postgres, memory) and share the
// table layout in storage/layout.
package storage

import (
	"context"
	"fmt"

	"github.com/tisorlawan/indonesian-media-crawler/internal/config"
	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
	"github.com/tisorlawan/indonesian-media-crawler/internal/storage/memory"
	"github.com/tisorlawan/indonesian-media-crawler/internal/storage/postgres"
	"github.com/tisorlawan/indonesian-media-crawler/internal/storage/sqlite"
)

// Open returns the frontier for cfg.Crawl.Name on the configured driver.
func Open(ctx context.Context, cfg config.Config, clock crawler.Clock) (crawler.Frontier, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite, "":
		f, err := sqlite.Open(ctx, sqlite.Config{Dir: cfg.Storage.Dir, Name: cfg.Crawl.Name}, clock)
		if err != nil {
			return nil, fmt.Errorf("open sqlite frontier: %w", err)
		}
		return f, nil
	case config.DriverPostgres:
		f, err := postgres.NewFrontier(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Name:     cfg.Crawl.Name,
			MaxConns: int32(cfg.DB.MaxConns),
			MinConns: int32(cfg.DB.MinConns),
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("open postgres frontier: %w", err)
		}
		return f, nil
	case config.DriverMemory:
		if clock == nil {
			return nil, fmt.Errorf("clock is required")
		}
		return memory.NewFrontier(clock), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}
