// Package resolver computes one consistent set of pins for a project's root
// requirements.
//
// The search follows resolvelib, the algorithm pip and PDM use: a stack of
// snapshot states, each holding the pins made so far and a criterion per
// project name. Every round picks the most constrained unsatisfied name and
// tries its candidates best first. When no candidate works, the resolver
// pops states until the failing decision can be recorded as an
// incompatibility and a different choice remains.
//
// Candidates and dependencies come from a [repository.Repository]. Resolve
// wraps it in a [repository.Memo] and warms the memo with a
// [repository.Prefetcher], but always reads the results in its own decision
// order, so fetch latency never changes the outcome.
//
// # Usage
//
//	res, err := resolver.Resolve(ctx, roots, repo, resolver.Options{
//	    Targets:  targets,
//	    Strategy: resolver.StrategyHighest,
//	})
//	var conflict *resolver.ConflictError
//	if errors.As(err, &conflict) {
//	    fmt.Println(conflict.Explain())
//	}
package resolver

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/observability"
	"github.com/matzehuels/stacklock/pkg/pep440"
	"github.com/matzehuels/stacklock/pkg/repository"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// DefaultMaxRounds bounds the number of pin attempts. pip stops at the
// same number.
const DefaultMaxRounds = 200000

// Strategy selects which satisfying version is tried first.
type Strategy string

const (
	StrategyHighest Strategy = "highest"
	StrategyLowest  Strategy = "lowest"
	// StrategyLowestDirect uses the lowest versions for root requirements
	// and the highest for everything else.
	StrategyLowestDirect Strategy = "lowest-direct"
)

// ParseStrategy parses a strategy name. The empty string means
// [StrategyHighest].
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyHighest:
		return StrategyHighest, nil
	case StrategyLowest, StrategyLowestDirect:
		return Strategy(s), nil
	}
	return "", errors.New(errors.ErrCodeInvalidInput, "unknown resolution strategy %q (want highest, lowest or lowest-direct)", s)
}

// UpdateStrategy decides which preferred pins survive a re-lock.
type UpdateStrategy string

const (
	// UpdateReuse keeps every preferred pin except those of tracked names.
	UpdateReuse UpdateStrategy = "reuse"
	// UpdateAll also releases the dependencies of tracked names. With no
	// tracked names it ignores the preferred pins entirely.
	UpdateAll UpdateStrategy = "all"
)

// ParseUpdateStrategy parses an update strategy name. The empty string
// means [UpdateReuse].
func ParseUpdateStrategy(s string) (UpdateStrategy, error) {
	switch UpdateStrategy(s) {
	case "", UpdateReuse:
		return UpdateReuse, nil
	case UpdateAll:
		return UpdateAll, nil
	}
	return "", errors.New(errors.ErrCodeInvalidInput, "unknown update strategy %q (want reuse or all)", s)
}

// Root is a requirement declared by the project, tagged with the dependency
// group that declares it.
type Root struct {
	Requirement *requirement.Requirement
	Group       string
}

// Options configure a resolution.
type Options struct {
	// AllowPrereleases admits pre-releases for every package.
	AllowPrereleases bool
	// Prereleases admits pre-releases for the named packages only.
	Prereleases []string
	Strategy    Strategy

	// Preferred pins, usually read from an existing lock, are tried first.
	Preferred      map[string]pep440.Version
	UpdateStrategy UpdateStrategy
	// Tracked names are being updated and do not use their preferred pin.
	Tracked []string

	// Targets are the environments the result must be valid for. Empty
	// means the universal target.
	Targets []markers.Target
	// Split resolves every target on its own and merges the results, so a
	// package may be pinned to different versions in disjoint targets.
	Split bool

	MaxRounds   int
	Concurrency int
	Logger      *log.Logger
	// Hooks override the globally registered resolver hooks.
	Hooks observability.ResolverHooks
}

// WithDefaults returns a copy of o with zero fields set to their defaults.
func (o Options) WithDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyHighest
	}
	if o.UpdateStrategy == "" {
		o.UpdateStrategy = UpdateReuse
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.Concurrency <= 0 {
		o.Concurrency = repository.DefaultConcurrency
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	if o.Hooks == nil {
		o.Hooks = observability.Resolver()
	}
	return o
}

// ErrTooDeep is returned when the round limit is reached.
var ErrTooDeep = errors.New(errors.ErrCodeResolutionConflict, "resolution too deep: gave up before finding a consistent set")

// Resolve pins one candidate per reachable project name such that every
// active requirement is satisfied in every target. It fails with a
// [*requirement.DuplicateRootError] for ambiguous roots, a [*ConflictError]
// when no consistent set exists, and a CANCELLED error when ctx ends first.
// No partial result is ever returned.
func Resolve(ctx context.Context, roots []Root, repo repository.Repository, opts Options) (*Result, error) {
	opts = opts.WithDefaults()
	start := time.Now()

	reqs := make([]*requirement.Requirement, len(roots))
	for i, r := range roots {
		reqs[i] = r.Requirement
	}
	if _, err := requirement.ValidateRoots(reqs); err != nil {
		return nil, err
	}
	for _, t := range opts.Targets {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}

	memo, ok := repo.(*repository.Memo)
	if !ok {
		memo = repository.NewMemo(repo)
	}
	pctx, cancel := context.WithCancel(ctx)
	prefetch := repository.NewPrefetcher(pctx, memo, opts.Concurrency, opts.Logger)
	defer func() {
		cancel()
		prefetch.Close()
	}()

	var (
		res *Result
		err error
	)
	if opts.Split && len(opts.Targets) > 1 {
		res, err = resolveSplit(ctx, roots, memo, prefetch, opts)
	} else {
		res, err = resolveOnce(ctx, roots, memo, prefetch, opts)
	}
	if err != nil && ctx.Err() != nil && !errors.Is(err, errors.ErrCodeCancelled) {
		// A lookup failed because the run was cancelled.
		res, err = nil, cancelled(ctx.Err())
	}

	rounds, pinned := 0, 0
	if res != nil {
		rounds, pinned = res.Rounds, len(res.Packages)
	}
	opts.Hooks.OnResolveComplete(ctx, rounds, pinned, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	hits, misses := memo.Stats()
	opts.Logger.Debug("resolved", "packages", pinned, "rounds", rounds, "memo_hits", hits, "memo_misses", misses, "elapsed", time.Since(start))
	return res, nil
}

func resolveOnce(ctx context.Context, roots []Root, memo *repository.Memo, prefetch *repository.Prefetcher, opts Options) (*Result, error) {
	p := newProvider(memo, prefetch, roots, opts)
	r := &resolution{p: p, opts: opts, roots: roots}
	st, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	res := buildResult(st, p, roots)
	res.Rounds = r.rounds
	res.Targets = opts.Targets
	return res, nil
}

func cancelled(err error) error {
	return errors.Wrap(errors.ErrCodeCancelled, err, "resolution cancelled")
}
