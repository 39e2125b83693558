package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// SourceOrder decides how a [Chain] combines its sources.
type SourceOrder string

const (
	// RespectOrder takes all candidates of a package from the first source
	// that knows the package, and keeps using that source for the rest of
	// the run.
	RespectOrder SourceOrder = "respect-order"
	// BestMatch merges every source's candidates. When several sources
	// offer the same version, the one listed first in the priority list
	// wins, then the one declared first.
	BestMatch SourceOrder = "best-match"
)

// ParseSourceOrder validates a policy name. The empty string means
// RespectOrder.
func ParseSourceOrder(s string) (SourceOrder, error) {
	switch SourceOrder(s) {
	case "", RespectOrder:
		return RespectOrder, nil
	case BestMatch:
		return BestMatch, nil
	}
	return "", errors.New(errors.ErrCodeInvalidInput, "unknown source order %q (want %s or %s)", s, RespectOrder, BestMatch)
}

// ChainOptions configure a Chain.
type ChainOptions struct {
	Order SourceOrder
	// Priority ranks sources by name for BestMatch tie-breaks.
	Priority []string
	// SourceFor pins packages to a named source. A pinned package is
	// looked up only there, and that source failing is an error.
	SourceFor map[string]string
	Logger    *log.Logger
}

// Chain combines index and find-links sources.
type Chain struct {
	sources []Source
	byName  map[string]Source
	opts    ChainOptions
	rank    map[string]int

	mu     sync.RWMutex
	served map[string]Source // RespectOrder: package -> source
}

// NewChain builds a chain over sources in declaration order.
func NewChain(sources []Source, opts ChainOptions) (*Chain, error) {
	if opts.Order == "" {
		opts.Order = RespectOrder
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	c := &Chain{
		sources: sources,
		byName:  make(map[string]Source, len(sources)),
		opts:    opts,
		rank:    make(map[string]int, len(sources)),
		served:  make(map[string]Source),
	}
	for i, s := range sources {
		if _, dup := c.byName[s.Name()]; dup {
			return nil, errors.New(errors.ErrCodeInvalidInput, "duplicate source name %q", s.Name())
		}
		c.byName[s.Name()] = s
		c.rank[s.Name()] = len(opts.Priority) + i
	}
	for i, name := range opts.Priority {
		if _, ok := c.byName[name]; !ok {
			return nil, errors.New(errors.ErrCodeInvalidInput, "priority names unknown source %q", name)
		}
		c.rank[name] = i
	}
	for pkg, name := range opts.SourceFor {
		if _, ok := c.byName[name]; !ok {
			return nil, errors.New(errors.ErrCodeInvalidInput, "package %s is pinned to unknown source %q", pkg, name)
		}
	}
	return c, nil
}

// Sources returns the chain's sources in declaration order.
func (c *Chain) Sources() []Source { return slices.Clone(c.sources) }

// SourceFor returns the source that served name under RespectOrder, or the
// source name is pinned to.
func (c *Chain) SourceFor(name string) (Source, bool) {
	if pinned, ok := c.opts.SourceFor[name]; ok {
		return c.byName[pinned], true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.served[name]
	return s, ok
}

func (c *Chain) FindCandidates(ctx context.Context, req *requirement.Requirement) (Sequence, error) {
	if req.Source != nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s has an explicit source", req)
	}
	if name, ok := c.opts.SourceFor[req.Name]; ok {
		seq, err := c.byName[name].FindCandidates(ctx, req)
		if err != nil {
			return nil, Unavailable(name, err)
		}
		return seq, nil
	}
	if c.opts.Order == BestMatch {
		return c.bestMatch(ctx, req)
	}
	return c.respectOrder(ctx, req)
}

func (c *Chain) respectOrder(ctx context.Context, req *requirement.Requirement) (Sequence, error) {
	c.mu.RLock()
	src, ok := c.served[req.Name]
	c.mu.RUnlock()
	if ok {
		return c.degrade(src, req, func() (Sequence, error) { return src.FindCandidates(ctx, req) })
	}

	for _, s := range c.sources {
		has, err := s.Has(ctx, req.Name)
		if err != nil {
			c.opts.Logger.Warn("source failed, trying next", "source", s.Name(), "project", req.Name, "err", err)
			continue
		}
		if !has {
			continue
		}
		c.mu.Lock()
		if prev, ok := c.served[req.Name]; ok {
			s = prev
		} else {
			c.served[req.Name] = s
		}
		c.mu.Unlock()
		return c.degrade(s, req, func() (Sequence, error) { return s.FindCandidates(ctx, req) })
	}
	return Empty(), nil
}

func (c *Chain) degrade(s Source, req *requirement.Requirement, find func() (Sequence, error)) (Sequence, error) {
	seq, err := find()
	if err != nil {
		if ctxErr := contextError(err); ctxErr != nil {
			return nil, ctxErr
		}
		c.opts.Logger.Warn("source failed", "source", s.Name(), "requirement", req.String(), "err", err)
		return Empty(), nil
	}
	return seq, nil
}

func (c *Chain) bestMatch(ctx context.Context, req *requirement.Requirement) (Sequence, error) {
	best := map[string]*Candidate{}
	for _, s := range c.sources {
		seq, err := c.degrade(s, req, func() (Sequence, error) { return s.FindCandidates(ctx, req) })
		if err != nil {
			return nil, err
		}
		for cand := range seq {
			v := cand.Version.String()
			if prev, ok := best[v]; !ok || c.rank[cand.Index] < c.rank[prev.Index] {
				best[v] = cand
			}
		}
	}
	out := make([]*Candidate, 0, len(best))
	for _, cand := range best {
		out = append(out, cand)
	}
	sortCandidates(out)
	return Slice(out), nil
}

// Dependencies asks the source that produced c.
func (c *Chain) Dependencies(ctx context.Context, cand *Candidate) ([]*requirement.Requirement, error) {
	if cand.origin == nil {
		return nil, fmt.Errorf("candidate %s has no origin", cand)
	}
	return cand.origin.Dependencies(ctx, cand)
}

func contextError(err error) error {
	if errors.Is(err, errors.ErrCodeCancelled) {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

var _ Repository = (*Chain)(nil)
