// Package dispatcher feeds the head of the queued frontier to the worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
)

const (
	defaultInterval    = time.Second
	defaultChannelSize = 10
)

// Tracker reports work the pool has accepted but not yet claimed.
type Tracker interface {
	Pending() int
	InFlight(url string) bool
}

// Config controls dispatch cadence and bounds.
type Config struct {
	MaxInProgress int
	Interval      time.Duration
	ChannelSize   int
}

// Dispatcher periodically tops up the work channel so that Running plus
// pending work stays within MaxInProgress.
type Dispatcher struct {
	frontier crawler.Frontier
	tracker  Tracker
	cfg      Config
	out      chan string
	logger   *zap.Logger

	// buffered holds URLs sent on out that the pool may not have received yet.
	buffered map[string]struct{}
}

// New creates a Dispatcher and its output channel.
func New(frontier crawler.Frontier, tracker Tracker, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.MaxInProgress <= 0 {
		return nil, fmt.Errorf("max in progress must be > 0")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = defaultChannelSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		frontier: frontier,
		tracker:  tracker,
		cfg:      cfg,
		out:      make(chan string, cfg.ChannelSize),
		logger:   logger,
		buffered: make(map[string]struct{}),
	}, nil
}

// Out is the channel the pool consumes.
func (d *Dispatcher) Out() <-chan string {
	return d.out
}

// Run ticks until ctx ends, then closes Out.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.out)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatch tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick sends up to the free capacity of queued URLs and reports how many were
// sent. URLs still waiting in the channel from an earlier tick are not sent
// again. Tick is not safe for concurrent use.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	running, err := d.frontier.Count(ctx, crawler.StateRunning)
	if err != nil {
		return 0, fmt.Errorf("count running: %w", err)
	}
	pending := len(d.out)
	if d.tracker != nil {
		pending += d.tracker.Pending()
	}
	capacity := d.cfg.MaxInProgress - int(running) - pending
	if capacity <= 0 {
		return 0, nil
	}
	head, err := d.frontier.ListN(ctx, crawler.StateQueued, uint(capacity+pending))
	if err != nil {
		return 0, fmt.Errorf("list queued: %w", err)
	}
	d.forgetReceived(head)
	sent := 0
	for _, url := range head {
		if sent == capacity {
			break
		}
		if _, ok := d.buffered[url]; ok {
			continue
		}
		if d.tracker != nil && d.tracker.InFlight(url) {
			continue
		}
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case d.out <- url:
			d.buffered[url] = struct{}{}
			sent++
		}
	}
	if sent > 0 {
		d.logger.Debug("dispatched", zap.Int("sent", sent), zap.Uint("running", running), zap.Int("pending", pending))
	}
	return sent, nil
}

// forgetReceived drops URLs that can no longer be sitting in the channel: all
// of them once it is empty, otherwise those the pool has picked up or that
// have left the queue head.
func (d *Dispatcher) forgetReceived(head []string) {
	if len(d.out) == 0 {
		clear(d.buffered)
		return
	}
	queued := make(map[string]struct{}, len(head))
	for _, url := range head {
		queued[url] = struct{}{}
	}
	for url := range d.buffered {
		_, stillQueued := queued[url]
		if !stillQueued || (d.tracker != nil && d.tracker.InFlight(url)) {
			delete(d.buffered, url)
		}
	}
}
