package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
	"github.com/tisorlawan/indonesian-media-crawler/internal/storage/memory"
)

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newFrontier() *memory.Frontier {
	return memory.NewFrontier(&tickClock{now: time.Unix(1700000000, 0)})
}

type fakeFetcher struct {
	mu      sync.Mutex
	errs    map[string]error
	calls   map[string]int
	gate    chan struct{}
	active  int
	maxSeen int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (crawler.Response, error) {
	f.mu.Lock()
	f.calls[url]++
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	err := f.errs[url]
	gate := f.gate
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return crawler.Response{}, &crawler.TransportError{URL: url, Err: ctx.Err()}
		}
	}
	if err != nil {
		return crawler.Response{}, &crawler.TransportError{URL: url, StatusCode: 503, Err: err}
	}
	return crawler.Response{URL: url, StatusCode: 200, Body: []byte("<html><body></body></html>")}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

type fakeExtractor struct {
	mu      sync.Mutex
	results map[string]crawler.Extraction
	errs    map[string]error
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{results: map[string]crawler.Extraction{}, errs: map[string]error{}}
}

func (e *fakeExtractor) set(url string, ex crawler.Extraction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[url] = ex
}

func (e *fakeExtractor) Extract(page crawler.Page) (crawler.Extraction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errs[page.URL]; err != nil {
		return crawler.Extraction{}, &crawler.ExtractionError{URL: page.URL, Err: err}
	}
	if ex, ok := e.results[page.URL]; ok {
		return ex, nil
	}
	return crawler.Extraction{Kind: crawler.LinksOnly}, nil
}

type countingThrottler struct {
	mu    sync.Mutex
	calls int
}

func (t *countingThrottler) Throttle(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return ctx.Err()
}

func article(paragraphs ...string) crawler.Article {
	return crawler.Article{Title: "Judul", Paragraphs: paragraphs}
}

var errUnavailable = errors.New("service unavailable")

func stateOf(ctx context.Context, f crawler.Frontier, url string) []crawler.State {
	var states []crawler.State
	for _, s := range crawler.States {
		if ok, _ := f.Exists(ctx, s, url); ok {
			states = append(states, s)
		}
	}
	return states
}
