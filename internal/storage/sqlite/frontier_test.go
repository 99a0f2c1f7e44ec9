package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestFrontier(t *testing.T) *Frontier {
	t.Helper()
	f, err := Open(context.Background(), Config{Dir: t.TempDir(), Name: "detik"}, &stepClock{now: time.Unix(1700000000, 0)})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, f.Close()) })
	return f
}

func TestOpenCreatesTablesLazily(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	f, err := Open(ctx, Config{Dir: dir, Name: "detik"}, &stepClock{})
	require.NoError(t, err)

	var names []string
	require.NoError(t, f.db.SelectContext(ctx, &names,
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`))
	require.Equal(t, []string{"detik_queued", "detik_results", "detik_running", "detik_visited", "detik_warned"}, names)
	require.NoError(t, f.Enqueue(ctx, "https://www.detik.com"))
	require.NoError(t, f.Close())

	reopened, err := Open(ctx, Config{Path: filepath.Join(dir, "detik.db"), Name: "detik"}, &stepClock{})
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.Count(ctx, crawler.StateQueued)
	require.NoError(t, err)
	require.Equal(t, uint(1), n)
}

func TestOpenRejectsInvalidName(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Dir: t.TempDir(), Name: "detik;drop"}, &stepClock{})
	require.Error(t, err)
}

func TestInsertIsIdempotentForEveryState(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t)
	ctx := context.Background()
	for _, state := range crawler.States {
		require.NoError(t, f.insert(ctx, f.db, state, "https://news.detik.com/a"))
		require.NoError(t, f.insert(ctx, f.db, state, "https://news.detik.com/a"))
		n, err := f.Count(ctx, state)
		require.NoError(t, err)
		require.Equal(t, uint(1), n, state)
		ok, err := f.Exists(ctx, state, "https://news.detik.com/a")
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestListNPreservesFIFOOrder(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t)
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, f.Enqueue(ctx, u))
	}

	head, err := f.ListN(ctx, crawler.StateQueued, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, head)

	require.NoError(t, f.Delete(ctx, crawler.StateQueued, "b"))
	require.NoError(t, f.Enqueue(ctx, "b"))

	all, err := f.List(ctx, crawler.StateQueued)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c", "b"}, all)

	none, err := f.ListN(ctx, crawler.StateQueued, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestEnqueueKeepsOriginalPosition(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t)
	ctx := context.Background()
	require.NoError(t, f.Enqueue(ctx, "a"))
	require.NoError(t, f.Enqueue(ctx, "b"))
	require.NoError(t, f.Enqueue(ctx, "a"))

	all, err := f.List(ctx, crawler.StateQueued)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, all)
}

func TestMoveIsExclusive(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t)
	ctx := context.Background()
	url := "https://news.detik.com/berita/d-1"
	require.NoError(t, f.Enqueue(ctx, url))

	require.NoError(t, f.Move(ctx, url, crawler.StateQueued, crawler.StateRunning))
	err := f.Move(ctx, url, crawler.StateQueued, crawler.StateRunning)
	require.ErrorIs(t, err, crawler.ErrNotInState)
	require.False(t, crawler.IsStorageError(err))

	inQueue, err := f.Exists(ctx, crawler.StateQueued, url)
	require.NoError(t, err)
	require.False(t, inQueue)
	running, err := f.Exists(ctx, crawler.StateRunning, url)
	require.NoError(t, err)
	require.True(t, running)

	require.NoError(t, f.Move(ctx, url, crawler.StateRunning, crawler.StateVisited))
	for state, want := range map[crawler.State]bool{
		crawler.StateQueued:  false,
		crawler.StateRunning: false,
		crawler.StateVisited: true,
		crawler.StateWarned:  false,
	} {
		got, err := f.Exists(ctx, state, url)
		require.NoError(t, err)
		require.Equal(t, want, got, state)
	}
}

func TestMoveLeavesURLOnlyInTarget(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t)
	ctx := context.Background()
	url := "https://news.detik.com/berita/d-2"
	require.NoError(t, f.insert(ctx, f.db, crawler.StateWarned, url))
	require.NoError(t, f.Enqueue(ctx, url))

	require.NoError(t, f.Move(ctx, url, crawler.StateQueued, crawler.StateRunning))
	require.NoError(t, f.insert(ctx, f.db, crawler.StateWarned, url))
	require.NoError(t, f.Move(ctx, url, crawler.StateRunning, crawler.StateVisited))

	for _, state := range crawler.States {
		got, err := f.Exists(ctx, state, url)
		require.NoError(t, err)
		require.Equal(t, state == crawler.StateVisited, got, state)
	}
}

func TestConcurrentClaimsSucceedOnce(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t)
	ctx := context.Background()
	require.NoError(t, f.Enqueue(ctx, "https://www.detik.com"))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.Move(ctx, "https://www.detik.com", crawler.StateQueued, crawler.StateRunning)
			if err == nil {
				mu.Lock()
				claims++
				mu.Unlock()
				return
			}
			if !errors.Is(err, crawler.ErrNotInState) {
				t.Errorf("unexpected move error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, claims)
}

func TestMergeRunningIntoQueued(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t)
	ctx := context.Background()
	require.NoError(t, f.Enqueue(ctx, "x"))
	require.NoError(t, f.Enqueue(ctx, "y"))
	require.NoError(t, f.Move(ctx, "x", crawler.StateQueued, crawler.StateRunning))
	require.NoError(t, f.Move(ctx, "y", crawler.StateQueued, crawler.StateRunning))
	require.NoError(t, f.Enqueue(ctx, "z"))

	moved, err := f.MergeRunningIntoQueued(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, moved)

	queued, err := f.List(ctx, crawler.StateQueued)
	require.NoError(t, err)
	require.Equal(t, []string{"z", "x", "y"}, queued)
	running, err := f.Count(ctx, crawler.StateRunning)
	require.NoError(t, err)
	require.Zero(t, running)

	moved, err = f.MergeRunningIntoQueued(ctx)
	require.NoError(t, err)
	require.Zero(t, moved)
}

func TestArticleRoundTrip(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t)
	ctx := context.Background()
	wib := time.FixedZone("WIB", 7*60*60)
	in := crawler.Article{
		Title:         "Banjir Rendam Jakarta",
		Author:        "Tim detikcom",
		PublishedDate: time.Date(2023, 1, 2, 15, 4, 5, 0, wib),
		Description:   "Hujan deras sejak pagi.",
		ThumbnailURL:  "https://akcdn.detik.net.id/community/media/visual/2023/01/02/banjir.jpeg",
		Keywords:      []string{"banjir", "jakarta", "hujan"},
		Paragraphs:    []string{"Paragraf pertama.", "Paragraf kedua."},
	}
	url := "https://news.detik.com/berita/d-6500000/banjir-rendam-jakarta"
	require.NoError(t, f.PutArticle(ctx, url, in))

	out, err := f.GetArticle(ctx, url)
	require.NoError(t, err)
	require.True(t, in.PublishedDate.Equal(out.PublishedDate), "published %v != %v", in.PublishedDate, out.PublishedDate)
	require.False(t, out.CreatedAt.IsZero())

	out.PublishedDate = in.PublishedDate
	out.CreatedAt = time.Time{}
	in.URL = url
	require.Equal(t, in, out)

	n, err := f.ArticleCount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint(1), n)
}

func TestArticleWithoutOptionalFields(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t)
	ctx := context.Background()
	require.NoError(t, f.PutArticle(ctx, "u", crawler.Article{Paragraphs: []string{"isi"}}))

	out, err := f.GetArticle(ctx, "u")
	require.NoError(t, err)
	require.True(t, out.PublishedDate.IsZero())
	require.Empty(t, out.Title)
	require.Nil(t, out.Keywords)
	require.Equal(t, []string{"isi"}, out.Paragraphs)
}

func TestPutArticleFirstWriterWins(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t)
	ctx := context.Background()
	require.NoError(t, f.PutArticle(ctx, "u", crawler.Article{Title: "first", Paragraphs: []string{"a"}}))
	require.NoError(t, f.PutArticle(ctx, "u", crawler.Article{Title: "second", Paragraphs: []string{"b"}}))

	out, err := f.GetArticle(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, "first", out.Title)

	_, err = f.GetArticle(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestPruneQueued(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t)
	ctx := context.Background()
	for _, u := range []string{"visited", "archived", "fresh"} {
		require.NoError(t, f.Enqueue(ctx, u))
	}
	require.NoError(t, f.insert(ctx, f.db, crawler.StateVisited, "visited"))
	require.NoError(t, f.PutArticle(ctx, "archived", crawler.Article{Paragraphs: []string{"p"}}))

	removed, err := f.PruneQueued(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	queued, err := f.List(ctx, crawler.StateQueued)
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, queued)
}

func TestStorageErrorsAfterClose(t *testing.T) {
	t.Parallel()

	f, err := Open(context.Background(), Config{Dir: t.TempDir(), Name: "detik"}, &stepClock{})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = f.Count(context.Background(), crawler.StateQueued)
	require.Error(t, err)
	require.True(t, crawler.IsStorageError(err))
}
