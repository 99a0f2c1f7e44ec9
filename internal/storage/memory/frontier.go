// Package memory keeps the frontier in process memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
)

type entry struct {
	at  time.Time
	seq uint64
}

// Frontier is a crawler.Frontier backed by maps guarded by one mutex.
type Frontier struct {
	mu       sync.Mutex
	clock    crawler.Clock
	seq      uint64
	states   map[crawler.State]map[string]entry
	articles map[string]crawler.Article
	closed   bool
}

// NewFrontier returns an empty in-memory frontier.
func NewFrontier(clock crawler.Clock) *Frontier {
	states := make(map[crawler.State]map[string]entry, len(crawler.States))
	for _, s := range crawler.States {
		states[s] = make(map[string]entry)
	}
	return &Frontier{
		clock:    clock,
		states:   states,
		articles: make(map[string]crawler.Article),
	}
}

func (f *Frontier) table(state crawler.State) (map[string]entry, error) {
	if f.closed {
		return nil, crawler.NewStorageError("access", string(state), fmt.Errorf("frontier closed"))
	}
	t, ok := f.states[state]
	if !ok {
		return nil, fmt.Errorf("unknown frontier state %q", state)
	}
	return t, nil
}

func (f *Frontier) insertLocked(t map[string]entry, url string) {
	if _, ok := t[url]; ok {
		return
	}
	f.seq++
	t[url] = entry{at: f.clock.Now().UTC(), seq: f.seq}
}

// Enqueue adds url to Queued if absent.
func (f *Frontier) Enqueue(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(crawler.StateQueued)
	if err != nil {
		return err
	}
	f.insertLocked(t, url)
	return nil
}

// Insert adds url directly to state. Used to seed fixtures.
func (f *Frontier) Insert(_ context.Context, state crawler.State, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(state)
	if err != nil {
		return err
	}
	f.insertLocked(t, url)
	return nil
}

// Exists reports whether url is in state.
func (f *Frontier) Exists(_ context.Context, state crawler.State, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(state)
	if err != nil {
		return false, err
	}
	_, ok := t[url]
	return ok, nil
}

// Count returns the size of state.
func (f *Frontier) Count(_ context.Context, state crawler.State) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(state)
	if err != nil {
		return 0, err
	}
	return uint(len(t)), nil
}

// List returns every url in state, oldest first.
func (f *Frontier) List(ctx context.Context, state crawler.State) ([]string, error) {
	return f.list(state, -1)
}

// ListN returns at most n urls from state, oldest first.
func (f *Frontier) ListN(_ context.Context, state crawler.State, n uint) ([]string, error) {
	if n == 0 {
		return nil, nil
	}
	return f.list(state, int(n))
}

func (f *Frontier) list(state crawler.State, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(state)
	if err != nil {
		return nil, err
	}
	return ordered(t, limit), nil
}

func ordered(t map[string]entry, limit int) []string {
	urls := make([]string, 0, len(t))
	for u := range t {
		urls = append(urls, u)
	}
	sort.Slice(urls, func(i, j int) bool {
		a, b := t[urls[i]], t[urls[j]]
		if !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		return a.seq < b.seq
	})
	if limit >= 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	if len(urls) == 0 {
		return nil
	}
	return urls
}

// Move transfers url between states atomically with respect to other callers.
// The url is left in to and nowhere else.
func (f *Frontier) Move(_ context.Context, url string, from, to crawler.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, err := f.table(from)
	if err != nil {
		return err
	}
	dst, err := f.table(to)
	if err != nil {
		return err
	}
	if _, ok := src[url]; !ok {
		return fmt.Errorf("move %s from %s: %w", url, from, crawler.ErrNotInState)
	}
	delete(src, url)
	for state, t := range f.states {
		if state != to {
			delete(t, url)
		}
	}
	f.insertLocked(dst, url)
	return nil
}

// Delete removes url from state. Removing an absent url is not an error.
func (f *Frontier) Delete(_ context.Context, state crawler.State, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(state)
	if err != nil {
		return err
	}
	delete(t, url)
	return nil
}

// PutArticle keeps the first article stored for url.
func (f *Frontier) PutArticle(_ context.Context, url string, article crawler.Article) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return crawler.NewStorageError("insert", "results", fmt.Errorf("frontier closed"))
	}
	if _, ok := f.articles[url]; ok {
		return nil
	}
	article.URL = url
	article.CreatedAt = f.clock.Now().UTC()
	article.Keywords = append([]string(nil), article.Keywords...)
	article.Paragraphs = append([]string(nil), article.Paragraphs...)
	f.articles[url] = article
	return nil
}

// GetArticle returns the stored article or crawler.ErrNotFound.
func (f *Frontier) GetArticle(_ context.Context, url string) (crawler.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.articles[url]
	if !ok {
		return crawler.Article{}, fmt.Errorf("article %s: %w", url, crawler.ErrNotFound)
	}
	return a, nil
}

// ArticleCount returns the number of stored articles.
func (f *Frontier) ArticleCount(context.Context) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint(len(f.articles)), nil
}

// MergeRunningIntoQueued appends every Running url to the back of Queued
// and returns how many moved.
func (f *Frontier) MergeRunningIntoQueued(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running, err := f.table(crawler.StateRunning)
	if err != nil {
		return 0, err
	}
	queued := f.states[crawler.StateQueued]
	urls := ordered(running, -1)
	for _, u := range urls {
		f.insertLocked(queued, u)
		delete(running, u)
	}
	return len(urls), nil
}

// PruneQueued drops queued urls that are already visited or archived.
func (f *Frontier) PruneQueued(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queued, err := f.table(crawler.StateQueued)
	if err != nil {
		return 0, err
	}
	visited := f.states[crawler.StateVisited]
	removed := 0
	for u := range queued {
		_, seen := visited[u]
		_, archived := f.articles[u]
		if seen || archived {
			delete(queued, u)
			removed++
		}
	}
	return removed, nil
}

// Close marks the frontier closed. Later membership calls fail.
func (f *Frontier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
