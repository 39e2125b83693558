package repository

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/stacklock/pkg/requirement"
)

// flight loads each key at most once at a time and keeps the first
// successful result. Failed loads are not remembered.
type flight[V any] struct {
	group singleflight.Group
	mu    sync.RWMutex
	done  map[uint64]flightEntry[V]
}

type flightEntry[V any] struct {
	key   string
	value V
}

func (f *flight[V]) get(key string) (V, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.done[xxhash.Sum64String(key)]
	if !ok || e.key != key {
		var zero V
		return zero, false
	}
	return e.value, true
}

// store records v unless a value is already present, and returns the value
// that ends up stored.
func (f *flight[V]) store(key string, v V) V {
	h := xxhash.Sum64String(key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done == nil {
		f.done = make(map[uint64]flightEntry[V])
	}
	if e, ok := f.done[h]; ok {
		if e.key == key {
			return e.value
		}
		// Hash collision: keep the first key, serve this one uncached.
		return v
	}
	f.done[h] = flightEntry[V]{key: key, value: v}
	return v
}

func (f *flight[V]) do(key string, load func() (V, error)) (V, error) {
	if v, ok := f.get(key); ok {
		return v, nil
	}
	res, err, _ := f.group.Do(key, func() (any, error) {
		if v, ok := f.get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return v, err
		}
		return f.store(key, v), nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Memo wraps a Repository with per-run memoization. Candidates are keyed by
// the requirement's name, specifiers and source; dependencies by candidate
// identity. Concurrent callers of one key share a single fetch.
type Memo struct {
	repo   Repository
	cands  flight[[]*Candidate]
	deps   flight[[]*requirement.Requirement]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemo wraps repo.
func NewMemo(repo Repository) *Memo {
	return &Memo{repo: repo}
}

// RequirementKey is the memo key of a candidate lookup. Markers and extras
// do not change which candidates exist.
func RequirementKey(req *requirement.Requirement) string {
	var b strings.Builder
	b.WriteString(req.Name)
	b.WriteString(req.Specifiers.String())
	if req.Source != nil {
		b.WriteString(" @ ")
		b.WriteString(req.Source.String())
	}
	return b.String()
}

func (m *Memo) FindCandidates(ctx context.Context, req *requirement.Requirement) (Sequence, error) {
	key := RequirementKey(req)
	if cands, ok := m.cands.get(key); ok {
		m.hits.Add(1)
		return Slice(cands), nil
	}
	m.misses.Add(1)
	cands, err := m.cands.do(key, func() ([]*Candidate, error) {
		seq, err := m.repo.FindCandidates(ctx, req)
		if err != nil {
			return nil, err
		}
		return Collect(seq), nil
	})
	if err != nil {
		return nil, err
	}
	return Slice(cands), nil
}

func (m *Memo) Dependencies(ctx context.Context, c *Candidate) ([]*requirement.Requirement, error) {
	if deps, ok := m.deps.get(c.Key()); ok {
		m.hits.Add(1)
		return deps, nil
	}
	m.misses.Add(1)
	return m.deps.do(c.Key(), func() ([]*requirement.Requirement, error) {
		return m.repo.Dependencies(ctx, c)
	})
}

// Stats returns the number of lookups answered from memory and the number
// that went to the wrapped repository.
func (m *Memo) Stats() (hits, misses int64) {
	return m.hits.Load(), m.misses.Load()
}

var _ Repository = (*Memo)(nil)
