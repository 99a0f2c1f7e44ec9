package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
)

// Processor claims and handles a single URL.
type Processor interface {
	Claim(ctx context.Context, url string) (bool, error)
	Handle(ctx context.Context, url string)
}

// Pool runs at most maxInProgress processors concurrently and never runs the
// same URL twice at once.
type Pool struct {
	frontier crawler.Frontier
	proc     Processor
	sem      *semaphore.Weighted
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool // value reports whether the claim has completed
	wg       sync.WaitGroup
}

// NewPool creates a Pool.
func NewPool(frontier crawler.Frontier, proc Processor, maxInProgress int, logger *zap.Logger) (*Pool, error) {
	if maxInProgress <= 0 {
		return nil, fmt.Errorf("max in progress must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		frontier: frontier,
		proc:     proc,
		sem:      semaphore.NewWeighted(int64(maxInProgress)),
		logger:   logger,
		inflight: make(map[string]bool),
	}, nil
}

// Run dispatches URLs from in until it closes or ctx ends, then waits for
// in-flight work to finish.
func (p *Pool) Run(ctx context.Context, in <-chan string) error {
	defer p.wg.Wait()
	for {
		var (
			url string
			ok  bool
		)
		select {
		case <-ctx.Done():
			return nil
		case url, ok = <-in:
			if !ok {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		p.dispatch(ctx, url)
	}
}

func (p *Pool) dispatch(ctx context.Context, url string) {
	settled, err := p.alreadySettled(ctx, url)
	if err != nil {
		p.logger.Error("dispatch lookup failed", zap.String("url", url), zap.Error(err))
		return
	}
	if settled {
		if err := p.frontier.Delete(ctx, crawler.StateQueued, url); err != nil {
			p.logger.Error("drop stale queue entry failed", zap.String("url", url), zap.Error(err))
		}
		return
	}
	if !p.track(url) {
		return
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.untrack(url)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.untrack(url)

		claimed, err := p.proc.Claim(ctx, url)
		p.markClaimed(url)
		if err != nil || !claimed {
			return
		}
		p.proc.Handle(ctx, url)
	}()
}

// alreadySettled reports whether url is already Running or Visited.
func (p *Pool) alreadySettled(ctx context.Context, url string) (bool, error) {
	for _, state := range []crawler.State{crawler.StateRunning, crawler.StateVisited} {
		ok, err := p.frontier.Exists(ctx, state, url)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *Pool) track(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[url]; busy {
		return false
	}
	p.inflight[url] = false
	return true
}

func (p *Pool) markClaimed(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[url]; ok {
		p.inflight[url] = true
	}
}

func (p *Pool) untrack(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, url)
}

// InFlight reports whether url is currently being processed by this pool.
func (p *Pool) InFlight(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[url]
	return ok
}

// Pending counts URLs accepted by the pool whose claim has not completed yet.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, claimed := range p.inflight {
		if !claimed {
			n++
		}
	}
	return n
}

// Active counts URLs currently held by the pool.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}
