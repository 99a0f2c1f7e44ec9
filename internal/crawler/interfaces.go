package crawler

import (
	"context"
	"time"
)

// Frontier persists URL membership per state plus the article archive.
type Frontier interface {
	Enqueue(ctx context.Context, url string) error
	Exists(ctx context.Context, state State, url string) (bool, error)
	Count(ctx context.Context, state State) (uint, error)
	List(ctx context.Context, state State) ([]string, error)
	ListN(ctx context.Context, state State, n uint) ([]string, error)
	// Move fails with ErrNotInState when url is not in from. On success url
	// is a member of to only.
	Move(ctx context.Context, url string, from, to State) error
	Delete(ctx context.Context, state State, url string) error
	PutArticle(ctx context.Context, url string, article Article) error
	GetArticle(ctx context.Context, url string) (Article, error)
	ArticleCount(ctx context.Context) (uint, error)
	MergeRunningIntoQueued(ctx context.Context) (int, error)
	PruneQueued(ctx context.Context) (int, error)
	Close() error
}

// Fetcher turns a URL into page bytes or a *TransportError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// Extractor classifies a parsed page and extracts its article and links.
type Extractor interface {
	Extract(page Page) (Extraction, error)
}

// Throttler gates outbound fetch issuance.
type Throttler interface {
	Throttle(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Stats collects the size of every frontier set.
func Stats(ctx context.Context, f Frontier) (FrontierStats, error) {
	var stats FrontierStats
	for _, state := range States {
		n, err := f.Count(ctx, state)
		if err != nil {
			return FrontierStats{}, err
		}
		switch state {
		case StateQueued:
			stats.Queued = n
		case StateRunning:
			stats.Running = n
		case StateVisited:
			stats.Visited = n
		case StateWarned:
			stats.Warned = n
		}
	}
	articles, err := f.ArticleCount(ctx)
	if err != nil {
		return FrontierStats{}, err
	}
	stats.Articles = articles
	return stats, nil
}
