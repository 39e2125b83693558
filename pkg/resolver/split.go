package resolver

import (
	"context"
	"fmt"
	"slices"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/repository"
)

// resolveSplit resolves every target on its own and merges the results.
// All runs share the memo, so a target mostly re-reads what the previous
// one fetched.
func resolveSplit(ctx context.Context, roots []Root, memo *repository.Memo, prefetch *repository.Prefetcher, opts Options) (*Result, error) {
	results := make([]*Result, 0, len(opts.Targets))
	rounds := 0
	for _, t := range opts.Targets {
		sub := opts
		sub.Targets = []markers.Target{t}
		sub.Split = false
		res, err := resolveOnce(ctx, roots, memo, prefetch, sub)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t, err)
		}
		opts.Logger.Debug("resolved target", "target", t.String(), "packages", len(res.Packages), "rounds", res.Rounds)
		results = append(results, res)
		rounds += res.Rounds
	}
	merged, err := mergeSplit(opts.Targets, results)
	if err != nil {
		return nil, err
	}
	merged.Rounds = rounds
	return merged, nil
}

// variant is one candidate of a name across the targets that picked it.
type variant struct {
	pkg     *Package
	targets []int
	markers []markers.Marker
}

// mergeSplit joins per-target results. A name pinned identically
// everywhere keeps its own marker. Otherwise every variant is restricted to
// the targets that chose it, and the variants must not overlap.
func mergeSplit(targets []markers.Target, results []*Result) (*Result, error) {
	var names []string
	byName := make(map[string][]*variant)
	for ti, res := range results {
		for _, p := range res.Packages {
			vs, ok := byName[p.Name()]
			if !ok {
				names = append(names, p.Name())
			}
			key := p.Candidate.Key()
			i := slices.IndexFunc(vs, func(v *variant) bool { return v.pkg.Candidate.Key() == key })
			if i < 0 {
				clone := *p
				clone.Extras = slices.Clone(p.Extras)
				clone.Groups = slices.Clone(p.Groups)
				clone.Dependencies = slices.Clone(p.Dependencies)
				vs = append(vs, &variant{pkg: &clone})
				i = len(vs) - 1
			} else {
				v := vs[i].pkg
				v.Extras = unionExtras(v.Extras, p.Extras)
				v.Groups = unionExtras(v.Groups, p.Groups)
				v.Dependencies = unionExtras(v.Dependencies, p.Dependencies)
				v.Direct = v.Direct || p.Direct
			}
			vs[i].targets = append(vs[i].targets, ti)
			vs[i].markers = append(vs[i].markers, p.Marker)
			byName[p.Name()] = vs
		}
	}

	out := &Result{Targets: targets}
	for _, name := range names {
		vs := byName[name]
		for _, v := range vs {
			if len(vs) == 1 && len(v.targets) == len(targets) {
				v.pkg.Marker = markers.Or(v.markers...)
			} else {
				terms := make([]markers.Marker, len(v.targets))
				for i, ti := range v.targets {
					terms[i] = markers.And(targets[ti].Marker(), v.markers[i])
				}
				v.pkg.Marker = markers.Or(terms...)
			}
		}
		for i, a := range vs {
			for _, b := range vs[i+1:] {
				if !markers.Disjoint(a.pkg.Marker, b.pkg.Marker, targets) {
					return nil, errors.New(errors.ErrCodeResolutionConflict,
						"%s resolves to %s and %s in overlapping targets", name, a.pkg.Candidate.Version, b.pkg.Candidate.Version)
				}
			}
			out.Packages = append(out.Packages, a.pkg)
		}
	}
	sortPackages(out.Packages)
	return out, nil
}
