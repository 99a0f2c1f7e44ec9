package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
)

func newTestWorker(f crawler.Frontier, fetcher *fakeFetcher, extractor *fakeExtractor, cfg Config) *Worker {
	return New(f, fetcher, extractor, &countingThrottler{}, cfg, zap.NewNop())
}

func TestProcessLinksOnlyMarksVisitedAndDiscovers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFrontier()
	extractor := newFakeExtractor()
	extractor.set("https://www.detik.com", crawler.Extraction{
		Kind: crawler.LinksOnly,
		Links: []string{
			"https://news.detik.com/berita/d-1/",
			"https://20.detik.com/video",
			"https://news.detik.com/berita/d-known",
			"not a url",
		},
	})
	require.NoError(t, f.Enqueue(ctx, "https://www.detik.com"))
	require.NoError(t, f.Insert(ctx, crawler.StateVisited, "https://news.detik.com/berita/d-known"))

	w := newTestWorker(f, newFakeFetcher(), extractor, Config{
		Blocklist: crawler.NewHostBlocklist([]string{"20.detik.com"}),
	})
	w.Process(ctx, "https://www.detik.com")

	require.Equal(t, []crawler.State{crawler.StateVisited}, stateOf(ctx, f, "https://www.detik.com"))
	queued, err := f.List(ctx, crawler.StateQueued)
	require.NoError(t, err)
	require.Equal(t, []string{"https://news.detik.com/berita/d-1"}, queued)
	require.Zero(t, w.Extracted().Value())
}

func TestProcessDocumentStoresArticle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFrontier()
	url := "https://news.detik.com/berita/d-1"
	extractor := newFakeExtractor()
	extractor.set(url, crawler.Extraction{
		Kind:    crawler.DocumentAndLinks,
		Article: article("satu", "dua"),
		Links:   []string{"https://news.detik.com/berita/d-2"},
	})
	require.NoError(t, f.Enqueue(ctx, url))

	w := newTestWorker(f, newFakeFetcher(), extractor, Config{})
	w.Extracted().Set(41)
	w.Process(ctx, url)

	require.Equal(t, []crawler.State{crawler.StateVisited}, stateOf(ctx, f, url))
	stored, err := f.GetArticle(ctx, url)
	require.NoError(t, err)
	require.Equal(t, []string{"satu", "dua"}, stored.Paragraphs)
	require.Equal(t, uint64(42), w.Extracted().Value())

	ok, err := f.Exists(ctx, crawler.StateQueued, "https://news.detik.com/berita/d-2")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestProcessEmptyDocumentIsWarned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFrontier()
	url := "https://news.detik.com/berita/d-empty"
	extractor := newFakeExtractor()
	extractor.set(url, crawler.Extraction{
		Kind:    crawler.DocumentAndLinks,
		Article: article(),
		Links:   []string{"https://news.detik.com/berita/d-next"},
	})
	require.NoError(t, f.Enqueue(ctx, url))

	newTestWorker(f, newFakeFetcher(), extractor, Config{}).Process(ctx, url)

	require.Equal(t, []crawler.State{crawler.StateWarned}, stateOf(ctx, f, url))
	n, err := f.ArticleCount(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	queued, err := f.Count(ctx, crawler.StateQueued)
	require.NoError(t, err)
	require.Zero(t, queued, "links of an empty document are not followed")
}

func TestProcessExtractionErrorIsWarned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFrontier()
	url := "https://news.detik.com/berita/d-broken"
	extractor := newFakeExtractor()
	extractor.errs[url] = errors.New("malformed")
	require.NoError(t, f.Enqueue(ctx, url))

	newTestWorker(f, newFakeFetcher(), extractor, Config{}).Process(ctx, url)
	require.Equal(t, []crawler.State{crawler.StateWarned}, stateOf(ctx, f, url))
}

func TestProcessRediscoveredWarnedURLEndsVisitedOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFrontier()
	hub := "https://news.detik.com/indeks"
	flaky := "https://news.detik.com/berita/d-flaky"
	extractor := newFakeExtractor()
	extractor.set(flaky, crawler.Extraction{Kind: crawler.DocumentAndLinks, Article: article()})
	extractor.set(hub, crawler.Extraction{Kind: crawler.LinksOnly, Links: []string{flaky}})
	w := newTestWorker(f, newFakeFetcher(), extractor, Config{})

	require.NoError(t, f.Enqueue(ctx, flaky))
	w.Process(ctx, flaky)
	require.Equal(t, []crawler.State{crawler.StateWarned}, stateOf(ctx, f, flaky))

	require.NoError(t, f.Enqueue(ctx, hub))
	w.Process(ctx, hub)
	require.Equal(t, []crawler.State{crawler.StateQueued}, stateOf(ctx, f, flaky))

	extractor.set(flaky, crawler.Extraction{Kind: crawler.DocumentAndLinks, Article: article("isi")})
	w.Process(ctx, flaky)
	require.Equal(t, []crawler.State{crawler.StateVisited}, stateOf(ctx, f, flaky))
	require.Equal(t, uint64(1), w.Extracted().Value())
}

func TestProcessClearsStrayWarnedRowOnVisit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFrontier()
	url := "https://news.detik.com/berita/d-stray"
	extractor := newFakeExtractor()
	extractor.set(url, crawler.Extraction{Kind: crawler.DocumentAndLinks, Article: article("isi")})
	require.NoError(t, f.Enqueue(ctx, url))
	require.NoError(t, f.Insert(ctx, crawler.StateWarned, url))

	newTestWorker(f, newFakeFetcher(), extractor, Config{}).Process(ctx, url)
	require.Equal(t, []crawler.State{crawler.StateVisited}, stateOf(ctx, f, url))
}

func TestProcessFetchFailureRequeuesAtBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFrontier()
	fetcher := newFakeFetcher()
	fetcher.errs["https://a.detik.com"] = errUnavailable
	require.NoError(t, f.Enqueue(ctx, "https://a.detik.com"))
	require.NoError(t, f.Enqueue(ctx, "https://b.detik.com"))

	newTestWorker(f, fetcher, newFakeExtractor(), Config{}).Process(ctx, "https://a.detik.com")

	queued, err := f.List(ctx, crawler.StateQueued)
	require.NoError(t, err)
	require.Equal(t, []string{"https://b.detik.com", "https://a.detik.com"}, queued)
	running, err := f.Count(ctx, crawler.StateRunning)
	require.NoError(t, err)
	require.Zero(t, running)
}

func TestProcessLostClaimDoesNotFetch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFrontier()
	fetcher := newFakeFetcher()
	url := "https://www.detik.com"
	require.NoError(t, f.Insert(ctx, crawler.StateRunning, url))

	newTestWorker(f, fetcher, newFakeExtractor(), Config{}).Process(ctx, url)
	require.Zero(t, fetcher.callCount(url))
	require.Equal(t, []crawler.State{crawler.StateRunning}, stateOf(ctx, f, url))
}

func TestProcessCancelledMidFetchRequeues(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	url := "https://www.detik.com"
	require.NoError(t, f.Enqueue(context.Background(), url))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		newTestWorker(f, fetcher, newFakeExtractor(), Config{}).Process(ctx, url)
	}()

	require.Eventually(t, func() bool { return fetcher.callCount(url) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	require.Equal(t, []crawler.State{crawler.StateQueued}, stateOf(context.Background(), f, url))
}

func TestCounter(t *testing.T) {
	t.Parallel()

	var c Counter
	c.Set(3)
	require.Equal(t, uint64(4), c.Inc())
	require.Equal(t, uint64(4), c.Value())
}
