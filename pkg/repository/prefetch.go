package repository

import (
	"context"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/stacklock/pkg/requirement"
)

// DefaultConcurrency bounds the number of concurrent prefetches.
const DefaultConcurrency = 8

// Prefetcher warms a [Memo] ahead of the resolver. For every requirement it
// is given it looks up the candidates and the dependencies of the best one,
// so that by the time the resolver asks, the answer is usually in memory.
// Failures are only logged: the resolver repeats the lookup itself and sees
// the error in its own order.
type Prefetcher struct {
	memo   *Memo
	ctx    context.Context
	g      *errgroup.Group
	logger *log.Logger

	queued sync.WaitGroup
	mu     sync.Mutex
	seen   map[string]bool
}

// NewPrefetcher starts a pool of at most limit concurrent fetches. The pool
// stops when ctx is cancelled; call Close to wait for it.
func NewPrefetcher(ctx context.Context, memo *Memo, limit int, logger *log.Logger) *Prefetcher {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	return &Prefetcher{
		memo:   memo,
		ctx:    gctx,
		g:      g,
		logger: logger,
		seen:   make(map[string]bool),
	}
}

// Prefetch schedules lookups for reqs and returns immediately. Requirements
// already scheduled are skipped.
func (p *Prefetcher) Prefetch(reqs ...*requirement.Requirement) {
	for _, req := range reqs {
		key := RequirementKey(req)
		p.mu.Lock()
		if p.seen[key] {
			p.mu.Unlock()
			continue
		}
		p.seen[key] = true
		p.mu.Unlock()

		p.queued.Add(1)
		go func() {
			defer p.queued.Done()
			// Go blocks while the pool is full.
			p.g.Go(func() error {
				p.fetch(req)
				return nil
			})
		}()
	}
}

func (p *Prefetcher) fetch(req *requirement.Requirement) {
	if p.ctx.Err() != nil {
		return
	}
	seq, err := p.memo.FindCandidates(p.ctx, req)
	if err != nil {
		p.logger.Debug("prefetch failed", "requirement", req.String(), "err", err)
		return
	}
	for c := range seq {
		if _, err := p.memo.Dependencies(p.ctx, c); err != nil {
			p.logger.Debug("prefetch failed", "candidate", c.String(), "err", err)
		}
		return
	}
}

// Close waits for scheduled lookups to finish.
func (p *Prefetcher) Close() {
	p.queued.Wait()
	_ = p.g.Wait()
}
