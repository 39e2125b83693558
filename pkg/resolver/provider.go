package resolver

import (
	"context"
	"math"
	"slices"

	"github.com/matzehuels/stacklock/pkg/pep440"
	"github.com/matzehuels/stacklock/pkg/repository"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// provider answers the questions the search asks: which candidates match a
// set of requirements, what a pinned candidate depends on, and which name to
// decide next. Everything it reads goes through the memo.
type provider struct {
	repo     *repository.Memo
	prefetch *repository.Prefetcher
	opts     Options

	// direct holds the position of each root name, used both as a
	// preference and for the lowest-direct strategy.
	direct      map[string]int
	prereleases map[string]bool
	// unlocked names ignore their preferred pin. With UpdateAll the set
	// grows with the dependencies of unlocked candidates.
	unlocked  map[string]bool
	preferred map[string]pep440.Version
}

func newProvider(memo *repository.Memo, prefetch *repository.Prefetcher, roots []Root, opts Options) *provider {
	p := &provider{
		repo:        memo,
		prefetch:    prefetch,
		opts:        opts,
		direct:      make(map[string]int, len(roots)),
		prereleases: make(map[string]bool, len(opts.Prereleases)),
		unlocked:    make(map[string]bool, len(opts.Tracked)),
		preferred:   opts.Preferred,
	}
	for i, r := range roots {
		if _, ok := p.direct[r.Requirement.Name]; !ok {
			p.direct[r.Requirement.Name] = i
		}
	}
	for _, name := range opts.Prereleases {
		p.prereleases[requirement.NormalizeName(name)] = true
	}
	for _, name := range opts.Tracked {
		p.unlocked[requirement.NormalizeName(name)] = true
	}
	if opts.UpdateStrategy == UpdateAll && len(opts.Tracked) == 0 {
		p.preferred = nil
	}
	return p
}

// live returns req with extra comparisons removed, or false when its marker
// cannot hold in any target with the given extras. Such requirements never
// reach a criterion.
func (p *provider) live(req *requirement.Requirement, extras []string) (*requirement.Requirement, bool) {
	m, ok := req.Marker.WithExtras(extras)
	if !ok || !m.EvaluateAny(p.opts.Targets) {
		return nil, false
	}
	if m.Equal(req.Marker) {
		return req, true
	}
	return req.WithMarker(m), true
}

// roots returns the live root requirements in declaration order.
func (p *provider) roots(roots []Root) []*requirement.Requirement {
	var out []*requirement.Requirement
	for _, r := range roots {
		if req, ok := p.live(r.Requirement, nil); ok {
			out = append(out, req)
		}
	}
	return out
}

// dependencies returns the live requirements of c with extras activated.
// A dependency of a package on itself only matters for the extras it adds.
func (p *provider) dependencies(ctx context.Context, c *repository.Candidate, extras []string) ([]*requirement.Requirement, error) {
	deps, err := p.repo.Dependencies(ctx, c)
	if err != nil {
		return nil, &metadataError{cand: c, err: err}
	}
	var out []*requirement.Requirement
	for _, d := range deps {
		if d.Name == c.Name && len(d.Extras) == 0 {
			continue
		}
		if req, ok := p.live(d, extras); ok {
			out = append(out, req)
		}
	}
	return out, nil
}

// release unlocks the dependencies of an unlocked candidate under
// UpdateAll.
func (p *provider) release(parent *repository.Candidate, deps []*requirement.Requirement) {
	if p.opts.UpdateStrategy != UpdateAll || parent == nil || !p.unlocked[parent.Name] {
		return
	}
	for _, d := range deps {
		p.unlocked[d.Name] = true
	}
}

func (p *provider) warm(reqs []*requirement.Requirement) {
	if p.prefetch != nil {
		p.prefetch.Prefetch(reqs...)
	}
}

// findMatches returns the candidates that satisfy every requirement in
// reqs, best first, minus incompatibilities. A requirement with an explicit
// source supplies the only candidates; the others merely filter them.
func (p *provider) findMatches(ctx context.Context, name string, reqs []*requirement.Requirement, incompatibilities map[string]bool) ([]*repository.Candidate, error) {
	cands, err := p.matches(ctx, name, reqs)
	if err != nil {
		return nil, err
	}
	out := cands[:0]
	for _, c := range cands {
		if !incompatibilities[c.Key()] {
			out = append(out, c)
		}
	}
	return p.order(name, out), nil
}

// matches intersects the candidates of every requirement and applies the
// pre-release policy.
func (p *provider) matches(ctx context.Context, name string, reqs []*requirement.Requirement) ([]*repository.Candidate, error) {
	var sourced *requirement.Requirement
	for _, r := range reqs {
		if r.Source == nil {
			continue
		}
		if sourced == nil {
			sourced = r
		} else if !sourced.Source.Equal(r.Source) {
			return nil, nil
		}
	}

	var cands []*repository.Candidate
	if sourced != nil {
		seq, err := p.repo.FindCandidates(ctx, sourced)
		if err != nil {
			return nil, err
		}
		for c := range seq {
			if satisfiesAll(c, reqs) && c.SupportsAny(p.opts.Targets) {
				cands = append(cands, c)
			}
		}
		return cands, nil
	}

	for i, r := range reqs {
		seq, err := p.repo.FindCandidates(ctx, r)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			for c := range seq {
				if c.SupportsAny(p.opts.Targets) {
					cands = append(cands, c)
				}
			}
		} else {
			cands = intersect(cands, seq)
		}
		if len(cands) == 0 {
			return nil, nil
		}
	}
	if p.allowPrereleases(name, reqs) {
		return cands, nil
	}
	stable := slices.DeleteFunc(slices.Clone(cands), func(c *repository.Candidate) bool { return c.Version.IsPrerelease() })
	if len(stable) == 0 {
		// Only pre-releases satisfy the requirements.
		return cands, nil
	}
	return stable, nil
}

func satisfiesAll(c *repository.Candidate, reqs []*requirement.Requirement) bool {
	for _, r := range reqs {
		if !r.Specifiers.Contains(c.Version) {
			return false
		}
	}
	return true
}

// intersect keeps the candidates of a that also appear in seq. It reuses
// a's backing array.
func intersect(a []*repository.Candidate, seq repository.Sequence) []*repository.Candidate {
	keep := make(map[string]bool)
	for c := range seq {
		keep[c.Key()] = true
	}
	out := a[:0]
	for _, c := range a {
		if keep[c.Key()] {
			out = append(out, c)
		}
	}
	return out
}

func (p *provider) allowPrereleases(name string, reqs []*requirement.Requirement) bool {
	if p.opts.AllowPrereleases || p.prereleases[name] {
		return true
	}
	for _, r := range reqs {
		if r.Specifiers.Prereleases() {
			return true
		}
	}
	v, ok := p.preferredVersion(name)
	return ok && v.IsPrerelease()
}

func (p *provider) preferredVersion(name string) (pep440.Version, bool) {
	if p.unlocked[name] {
		return pep440.Version{}, false
	}
	v, ok := p.preferred[name]
	return v, ok
}

// order applies the strategy and moves the preferred pin to the front.
func (p *provider) order(name string, cands []*repository.Candidate) []*repository.Candidate {
	_, isDirect := p.direct[name]
	if p.opts.Strategy == StrategyLowest || (p.opts.Strategy == StrategyLowestDirect && isDirect) {
		slices.SortStableFunc(cands, func(a, b *repository.Candidate) int { return a.Version.Compare(b.Version) })
	}
	if v, ok := p.preferredVersion(name); ok {
		i := slices.IndexFunc(cands, func(c *repository.Candidate) bool { return c.Version.Equal(v) })
		if i > 0 {
			c := cands[i]
			copy(cands[1:i+1], cands[:i])
			cands[0] = c
		}
	}
	return cands
}

// preferenceKey orders the unsatisfied names: names implicated in the last
// backtrack first, then setuptools last, then fewest candidates, then root
// order, then name.
type preferenceKey struct {
	notCause   bool
	delay      bool
	candidates int
	order      int
	name       string
}

func (a preferenceKey) less(b preferenceKey) bool {
	if a.notCause != b.notCause {
		return !a.notCause
	}
	if a.delay != b.delay {
		return !a.delay
	}
	if a.candidates != b.candidates {
		return a.candidates < b.candidates
	}
	if a.order != b.order {
		return a.order < b.order
	}
	return a.name < b.name
}

func (p *provider) preference(name string, crit criterion, causes map[string]bool) preferenceKey {
	key := preferenceKey{
		notCause:   !causes[name],
		delay:      name == "setuptools",
		candidates: len(crit.candidates),
		order:      math.MaxInt32,
		name:       name,
	}
	if i, ok := p.direct[name]; ok {
		key.order = i
	}
	return key
}
