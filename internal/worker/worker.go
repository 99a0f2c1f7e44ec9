// Package worker implements the per-URL crawl pipeline and the bounded pool that runs it.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
	"github.com/tisorlawan/indonesian-media-crawler/internal/metrics"
)

const (
	defaultFetchTimeout = 30 * time.Second
	detachedTimeout     = 10 * time.Second
)

// Config controls Worker behavior.
type Config struct {
	FetchTimeout time.Duration
	Blocklist    *crawler.HostBlocklist
}

// Counter is the mutex-guarded count of stored articles.
type Counter struct {
	mu sync.Mutex
	n  uint64
}

// Set overwrites the count.
func (c *Counter) Set(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = n
}

// Inc increments the count and returns the new value.
func (c *Counter) Inc() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Worker moves one URL through claim, fetch, extract and record.
type Worker struct {
	frontier  crawler.Frontier
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	throttler crawler.Throttler
	cfg       Config
	extracted *Counter
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	frontier crawler.Frontier,
	fetcher crawler.Fetcher,
	extractor crawler.Extractor,
	throttler crawler.Throttler,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	return &Worker{
		frontier:  frontier,
		fetcher:   fetcher,
		extractor: extractor,
		throttler: throttler,
		cfg:       cfg,
		extracted: &Counter{},
		logger:    logger,
	}
}

// Extracted exposes the stored-article counter.
func (w *Worker) Extracted() *Counter {
	return w.extracted
}

// Process claims url and, if the claim wins, runs the pipeline for it.
func (w *Worker) Process(ctx context.Context, url string) {
	claimed, err := w.Claim(ctx, url)
	if err != nil || !claimed {
		return
	}
	w.Handle(ctx, url)
}

// Claim moves url from Queued to Running. It reports false without error when
// another claim already won.
func (w *Worker) Claim(ctx context.Context, url string) (bool, error) {
	err := w.frontier.Move(ctx, url, crawler.StateQueued, crawler.StateRunning)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, crawler.ErrNotInState):
		metrics.ObservePage(url, metrics.OutcomeSkipped)
		return false, nil
	case ctx.Err() != nil:
		return false, fmt.Errorf("claim %s: %w", url, ctx.Err())
	default:
		w.logger.Error("claim failed", zap.String("url", url), zap.Error(err))
		metrics.ObservePage(url, metrics.OutcomeFailed)
		return false, fmt.Errorf("claim %s: %w", url, err)
	}
}

// Handle runs the pipeline for a URL already in Running.
func (w *Worker) Handle(ctx context.Context, url string) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := w.throttler.Throttle(ctx); err != nil {
		w.requeue(ctx, url, err)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	w.logger.Debug("visit", zap.String("url", url))
	resp, err := w.fetcher.Fetch(fetchCtx, url)
	cancel()
	if err != nil {
		w.requeue(ctx, url, err)
		return
	}

	// The page is in hand; record the outcome even if shutdown starts now.
	storeCtx := context.WithoutCancel(ctx)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		w.logger.Error("parse failed", zap.String("url", url), zap.Error(err))
		w.finish(storeCtx, url, crawler.StateWarned, metrics.OutcomeWarned)
		return
	}

	extraction, err := w.extractor.Extract(crawler.Page{URL: url, Document: doc})
	if err != nil {
		w.logger.Error("extraction failed", zap.String("url", url), zap.Error(err))
		w.finish(storeCtx, url, crawler.StateWarned, metrics.OutcomeWarned)
		return
	}

	switch extraction.Kind {
	case crawler.LinksOnly:
		if w.finish(storeCtx, url, crawler.StateVisited, metrics.OutcomeVisited) {
			w.discover(storeCtx, url, extraction.Links)
		}
	case crawler.DocumentAndLinks:
		if len(extraction.Article.Paragraphs) == 0 {
			w.logger.Warn("empty document extracted", zap.String("url", url))
			w.finish(storeCtx, url, crawler.StateWarned, metrics.OutcomeWarned)
			return
		}
		if err := w.frontier.PutArticle(storeCtx, url, extraction.Article); err != nil {
			w.logger.Error("store article failed", zap.String("url", url), zap.Error(err))
			w.requeue(storeCtx, url, err)
			return
		}
		if !w.finish(storeCtx, url, crawler.StateVisited, metrics.OutcomeStored) {
			return
		}
		n := w.extracted.Inc()
		metrics.IncArticlesExtracted()
		w.logger.Info(fmt.Sprintf("[%d] insert result %s", n, url),
			zap.Uint64("extracted", n), zap.String("url", url))
		w.discover(storeCtx, url, extraction.Links)
	default:
		w.logger.Error("unknown extraction kind", zap.String("url", url), zap.Stringer("kind", extraction.Kind))
		w.finish(storeCtx, url, crawler.StateWarned, metrics.OutcomeWarned)
	}
}

// finish moves url out of Running into a terminal state.
func (w *Worker) finish(ctx context.Context, url string, to crawler.State, outcome string) bool {
	if err := w.frontier.Move(ctx, url, crawler.StateRunning, to); err != nil {
		w.logger.Error("move failed",
			zap.String("url", url), zap.String("to", string(to)), zap.Error(err))
		metrics.ObservePage(url, metrics.OutcomeFailed)
		return false
	}
	metrics.ObservePage(url, outcome)
	return true
}

// requeue returns url to the back of Queued. It runs on a detached context so
// a cancelled crawl still hands the URL back.
func (w *Worker) requeue(ctx context.Context, url string, cause error) {
	if ctx.Err() != nil {
		w.logger.Debug("requeue on shutdown", zap.String("url", url), zap.Error(cause))
	} else {
		w.logger.Warn("requeueing", zap.String("url", url), zap.Error(cause))
	}
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()
	if err := w.frontier.Move(detached, url, crawler.StateRunning, crawler.StateQueued); err != nil {
		w.logger.Error("requeue failed", zap.String("url", url), zap.Error(err))
		metrics.ObservePage(url, metrics.OutcomeFailed)
		return
	}
	metrics.ObservePage(url, metrics.OutcomeRequeued)
}

// discover enqueues links that are not yet known to the frontier.
func (w *Worker) discover(ctx context.Context, from string, links []string) {
	added := 0
	for _, link := range links {
		canonical, err := crawler.CanonicalURL(link)
		if err != nil {
			w.logger.Debug("skip link", zap.String("link", link), zap.Error(err))
			continue
		}
		if w.cfg.Blocklist.BlocksURL(canonical) {
			continue
		}
		known, err := w.known(ctx, canonical)
		if err != nil {
			w.logger.Error("link lookup failed", zap.String("link", canonical), zap.Error(err))
			continue
		}
		if known {
			continue
		}
		if err := w.retry(ctx, canonical); err != nil {
			w.logger.Error("enqueue failed", zap.String("link", canonical), zap.Error(err))
			continue
		}
		added++
	}
	if added > 0 {
		w.logger.Debug("links discovered", zap.String("url", from), zap.Int("added", added))
	}
}

// retry queues url. A url that previously ended Warned is moved out of Warned
// so it never sits in two states.
func (w *Worker) retry(ctx context.Context, url string) error {
	warned, err := w.frontier.Exists(ctx, crawler.StateWarned, url)
	if err != nil {
		return err
	}
	if warned {
		err := w.frontier.Move(ctx, url, crawler.StateWarned, crawler.StateQueued)
		if err == nil || !errors.Is(err, crawler.ErrNotInState) {
			return err
		}
	}
	return w.frontier.Enqueue(ctx, url)
}

func (w *Worker) known(ctx context.Context, url string) (bool, error) {
	for _, state := range []crawler.State{crawler.StateVisited, crawler.StateRunning, crawler.StateQueued} {
		ok, err := w.frontier.Exists(ctx, state, url)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
