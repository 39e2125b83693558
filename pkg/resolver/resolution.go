package resolver

import (
	"context"
	stderrors "errors"
	"maps"
	"slices"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/repository"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// resolution runs one search. states is a stack with the current state on
// top.
type resolution struct {
	p      *provider
	opts   Options
	roots  []Root
	states []*state
	rounds int
	// causes holds the names implicated in the most recent backtrack.
	causes map[string]bool
}

func (r *resolution) state() *state { return r.states[len(r.states)-1] }

func (r *resolution) pushNewState() {
	r.states = append(r.states, r.state().clone())
}

// mergeIntoCriterion returns the criterion for req's name with req added.
// The current state is left untouched.
func (r *resolution) mergeIntoCriterion(ctx context.Context, req *requirement.Requirement, parent *repository.Candidate) (string, criterion, error) {
	name := req.Identify()
	crit, _ := r.state().criteria.get(name)
	if crit.has(req, parent) {
		return name, crit, nil
	}
	reqs := append(slices.Clip(crit.reqs), req)
	parents := append(slices.Clip(crit.parents), parent)

	matches, err := r.p.findMatches(ctx, name, reqs, crit.incompatibilities)
	if err != nil {
		return "", criterion{}, err
	}
	if len(matches) == 0 {
		return "", criterion{}, &conflict{name: name, reqs: reqs, parents: parents, st: r.state()}
	}
	next := crit.copy()
	next.reqs = reqs
	next.parents = parents
	next.candidates = matches
	next.extras = unionExtras(crit.extras, req.Extras)
	return name, next, nil
}

// isCurrentPinSatisfying reports whether the pin for name is still among
// the criterion's candidates and was made with every extra it now asks for.
func (r *resolution) isCurrentPinSatisfying(name string, crit criterion) bool {
	cur, ok := r.state().pins.get(name)
	if !ok {
		return false
	}
	return crit.allows(cur.cand) && containsAll(cur.extras, crit.extras)
}

// mergeDependencies merges the dependencies of cand into the criteria of
// the current state and returns them. On error the criteria are partially
// updated and the caller restores them.
func (r *resolution) mergeDependencies(ctx context.Context, cand *repository.Candidate, extras []string) ([]*requirement.Requirement, error) {
	deps, err := r.p.dependencies(ctx, cand, extras)
	if err != nil {
		return nil, err
	}
	r.p.release(cand, deps)
	for _, d := range deps {
		name, crit, err := r.mergeIntoCriterion(ctx, d, cand)
		if err != nil {
			return nil, err
		}
		// Later requirements on the same name must see earlier ones.
		r.state().criteria.put(name, crit)
	}
	return deps, nil
}

// attemptToPinCriterion tries the candidates of name best first. On success
// the pin and the criteria of its dependencies are recorded in the current
// state. Otherwise it returns why every candidate failed.
func (r *resolution) attemptToPinCriterion(ctx context.Context, name string) ([]*conflict, error) {
	crit, _ := r.state().criteria.get(name)
	cands := crit.candidates
	// A pin that only needs more extras is tried again first.
	if cur, ok := r.state().pins.get(name); ok && crit.allows(cur.cand) {
		i := slices.IndexFunc(cands, func(c *repository.Candidate) bool { return c.Key() == cur.cand.Key() })
		if i > 0 {
			cands = slices.Concat(cands[i:i+1], cands[:i], cands[i+1:])
		}
	}

	var causes []*conflict
	for _, cand := range cands {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		// Dependencies are merged into the live state as they go, so
		// keep a copy to restore when the candidate fails.
		saved := r.state().criteria.copy()
		deps, err := r.mergeDependencies(ctx, cand, crit.extras)
		if err != nil {
			r.state().criteria = saved
			var c *conflict
			if stderrors.As(err, &c) {
				r.opts.Logger.Debug("candidate rejected", "candidate", cand.String(), "conflict", c.Error())
				causes = append(causes, c)
				continue
			}
			if skippable(cand, err) {
				r.opts.Logger.Warn("skipping candidate without usable metadata", "candidate", cand.String(), "err", err)
				continue
			}
			return nil, err
		}
		r.state().pins.set(name, pin{cand: cand, extras: crit.extras})
		r.opts.Hooks.OnPin(ctx, name, cand.Version.String(), r.rounds)
		r.opts.Logger.Debug("pinned", "package", name, "version", cand.Version.String(), "round", r.rounds)
		r.p.warm(deps)
		return nil, nil
	}
	if len(causes) == 0 {
		// Every candidate lacked metadata.
		causes = append(causes, &conflict{name: name, reqs: crit.reqs, parents: crit.parents, noCandidates: true, st: r.state()})
	}
	return causes, nil
}

// metadataError is a failure to read the dependencies of cand itself, as
// opposed to a failure while looking up one of them.
type metadataError struct {
	cand *repository.Candidate
	err  error
}

func (e *metadataError) Error() string { return "dependencies of " + e.cand.String() + ": " + e.err.Error() }
func (e *metadataError) Unwrap() error { return e.err }

// skippable reports whether err only rules out the candidate: its own
// metadata could not be read from an index. Candidates of explicit sources
// and cancellations are fatal.
func skippable(c *repository.Candidate, err error) bool {
	var me *metadataError
	if !stderrors.As(err, &me) || me.cand != c || c.Source != nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	code := errors.GetCode(err)
	return code == errors.ErrCodeSourceUnavailable || code == errors.ErrCodeNotFound || code == errors.ErrCodeUnsupported
}

// backtrack jumps back to the most recent pin implicated in the last
// conflict (r.causes), records it as an incompatibility and checks that at
// least one candidate remains for every name it touches. Pins in between
// that have nothing to do with the conflict are discarded without being
// blamed; they are decided again afterwards. It reports false when no such
// state exists.
func (r *resolution) backtrack(ctx context.Context) bool {
	for len(r.states) >= 3 {
		// Drop the state that failed to make progress.
		r.states = r.states[:len(r.states)-1]

		var (
			broken *state
			name   string
			bad    pin
		)
		for {
			// states[0] holds no pins; something must remain to patch.
			if len(r.states) < 2 {
				return false
			}
			broken = r.state()
			r.states = r.states[:len(r.states)-1]
			if broken.pins.len() == 0 {
				continue
			}
			name, bad = broken.pins.pop()
			if r.causes[name] || dependsOnAny(broken, bad.cand, r.causes) {
				break
			}
			r.opts.Logger.Debug("discarding unrelated pin", "package", name, "version", bad.cand.Version.String(), "round", r.rounds)
		}
		r.opts.Logger.Debug("backtracking", "package", name, "version", bad.cand.Version.String(), "round", r.rounds)
		r.opts.Hooks.OnBacktrack(ctx, name, r.rounds)

		type incompat struct {
			name string
			keys map[string]bool
		}
		var found []incompat
		for _, c := range broken.criteria {
			if len(c.crit.incompatibilities) > 0 {
				found = append(found, incompat{c.name, c.crit.incompatibilities})
			}
		}
		found = append(found, incompat{name, map[string]bool{bad.cand.Key(): true}})

		r.pushNewState()
		ok := true
		for _, inc := range found {
			crit, exists := r.state().criteria.get(inc.name)
			if !exists {
				continue
			}
			all := maps.Clone(inc.keys)
			maps.Copy(all, crit.incompatibilities)
			var remaining []*repository.Candidate
			for _, c := range crit.candidates {
				if !all[c.Key()] {
					remaining = append(remaining, c)
				}
			}
			if len(remaining) == 0 {
				ok = false
				break
			}
			next := crit.copy()
			next.incompatibilities = all
			next.candidates = remaining
			r.state().criteria.put(inc.name, next)
		}
		if ok {
			return true
		}
	}
	return false
}

// resolve runs the search and returns the final state.
func (r *resolution) resolve(ctx context.Context) (*state, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	r.states = []*state{{pins: newPinMap()}}
	roots := r.p.roots(r.roots)
	r.p.warm(roots)
	for _, req := range roots {
		name, crit, err := r.mergeIntoCriterion(ctx, req, nil)
		if err != nil {
			var c *conflict
			if stderrors.As(err, &c) {
				return nil, r.conflictError(ctx, []*conflict{c})
			}
			return nil, err
		}
		r.state().criteria.put(name, crit)
	}
	// Keep a copy of the seeded state to backtrack to.
	r.pushNewState()

	var unsatisfied []string
	for r.rounds = 0; r.rounds < r.opts.MaxRounds; r.rounds++ {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		st := r.state()
		unsatisfied = unsatisfied[:0]
		for _, c := range st.criteria {
			if !r.isCurrentPinSatisfying(c.name, c.crit) {
				unsatisfied = append(unsatisfied, c.name)
			}
		}
		if len(unsatisfied) == 0 {
			return st, nil
		}

		best := unsatisfied[0]
		bestCrit, _ := st.criteria.get(best)
		bestKey := r.p.preference(best, bestCrit, r.causes)
		for _, name := range unsatisfied[1:] {
			crit, _ := st.criteria.get(name)
			if key := r.p.preference(name, crit, r.causes); key.less(bestKey) {
				best, bestKey = name, key
			}
		}

		causes, err := r.attemptToPinCriterion(ctx, best)
		if err != nil {
			return nil, err
		}
		if len(causes) == 0 {
			// The pin worked; keep it in a state of its own.
			r.pushNewState()
			continue
		}
		r.causes = causeNames(causes)
		if !r.backtrack(ctx) {
			return nil, r.conflictError(ctx, causes)
		}
	}
	return nil, ErrTooDeep
}

// dependsOnAny reports whether cand introduced a requirement on one of
// names in st.
func dependsOnAny(st *state, cand *repository.Candidate, names map[string]bool) bool {
	key := cand.Key()
	for _, c := range st.criteria {
		if !names[c.name] {
			continue
		}
		if slices.ContainsFunc(c.crit.parents, func(p *repository.Candidate) bool { return parentKey(p) == key }) {
			return true
		}
	}
	return false
}

// causeNames returns the conflicting names and the names of the candidates
// that introduced the conflicting requirements.
func causeNames(causes []*conflict) map[string]bool {
	out := make(map[string]bool)
	for _, c := range causes {
		out[c.name] = true
		for _, p := range c.parents {
			if p != nil {
				out[p.Name] = true
			}
		}
	}
	return out
}
