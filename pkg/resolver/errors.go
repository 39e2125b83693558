package resolver

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/repository"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// conflict records that the requirements on name admit no candidate. st is
// the state the requirements were collected in.
type conflict struct {
	name         string
	reqs         []*requirement.Requirement
	parents      []*repository.Candidate
	noCandidates bool
	st           *state
}

func (c *conflict) Error() string {
	parts := make([]string, len(c.reqs))
	for i, r := range c.reqs {
		parts[i] = fmt.Sprintf("%s (%s)", r, describeParent(c.parents[i]))
	}
	if c.noCandidates {
		return fmt.Sprintf("no usable candidates for %s: %s", c.name, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("conflicting requirements on %s: %s", c.name, strings.Join(parts, ", "))
}

func (c *conflict) key() string {
	keys := make([]string, len(c.reqs))
	for i, r := range c.reqs {
		keys[i] = r.String() + "<-" + parentKey(c.parents[i])
	}
	slices.Sort(keys)
	return c.name + "|" + strings.Join(keys, "|")
}

func describeParent(c *repository.Candidate) string {
	if c == nil {
		return "project"
	}
	return c.String()
}

// Cause is one requirement taking part in a conflict.
type Cause struct {
	Requirement *requirement.Requirement
	// Parent declared the requirement; nil for a root requirement.
	Parent *repository.Candidate
	// Chain lists the pins leading from a root requirement to Parent,
	// Parent included.
	Chain []string
}

// Conflict is a set of requirements on one package that no candidate
// satisfies. Dropping any one of them would make the set satisfiable,
// unless candidates were ruled out by earlier backtracking.
type Conflict struct {
	Package string
	Causes  []Cause
	// NoCandidates is set when candidates exist but none has usable
	// metadata.
	NoCandidates bool
}

// ConflictError reports that no consistent set of pins exists. It carries
// the conflicts that stopped the last attempt.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	var parts []string
	for _, c := range e.Conflicts {
		reqs := make([]string, len(c.Causes))
		for i, cause := range c.Causes {
			reqs[i] = fmt.Sprintf("%s (%s)", cause.Requirement, describeParent(cause.Parent))
		}
		parts = append(parts, fmt.Sprintf("%s: %s", c.Package, strings.Join(reqs, " vs ")))
	}
	return "resolution impossible: " + strings.Join(parts, "; ")
}

// Code implements errors.Coder.
func (e *ConflictError) Code() errors.Code { return errors.ErrCodeResolutionConflict }

// Explain renders the conflicts with the decision chain behind every
// requirement, one requirement per line.
func (e *ConflictError) Explain() string {
	var b strings.Builder
	for i, c := range e.Conflicts {
		if i > 0 {
			b.WriteByte('\n')
		}
		if c.NoCandidates {
			fmt.Fprintf(&b, "no candidate of %s has usable metadata:\n", c.Package)
		} else {
			fmt.Fprintf(&b, "cannot satisfy %s:\n", c.Package)
		}
		for _, cause := range c.Causes {
			chain := append([]string{"project"}, cause.Chain...)
			fmt.Fprintf(&b, "  %s  required by %s\n", cause.Requirement, strings.Join(chain, " -> "))
		}
	}
	return b.String()
}

// conflictError builds the report for the conflicts that ended the search.
func (r *resolution) conflictError(ctx context.Context, causes []*conflict) *ConflictError {
	seen := make(map[string]bool)
	out := &ConflictError{}
	for _, c := range causes {
		c = r.minimize(ctx, c)
		k := c.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		conf := Conflict{Package: c.name, NoCandidates: c.noCandidates}
		for i, req := range c.reqs {
			conf.Causes = append(conf.Causes, Cause{
				Requirement: req,
				Parent:      c.parents[i],
				Chain:       chainTo(c.st, c.parents[i]),
			})
		}
		out.Conflicts = append(out.Conflicts, conf)
	}
	return out
}

// minimize drops requirements from c for as long as the rest still admits
// no candidate, so that every requirement left is necessary. Conflicts that
// only exist because of recorded incompatibilities are kept whole.
func (r *resolution) minimize(ctx context.Context, c *conflict) *conflict {
	if c.noCandidates {
		return c
	}
	empty := func(reqs []*requirement.Requirement) bool {
		m, err := r.p.matches(ctx, c.name, reqs)
		return err == nil && len(m) == 0
	}
	if !empty(c.reqs) {
		return c
	}
	reqs, parents := slices.Clone(c.reqs), slices.Clone(c.parents)
	for i := 0; i < len(reqs) && len(reqs) > 1; {
		trial := slices.Delete(slices.Clone(reqs), i, i+1)
		if empty(trial) {
			reqs = trial
			parents = slices.Delete(parents, i, i+1)
			continue
		}
		i++
	}
	return &conflict{name: c.name, reqs: reqs, parents: parents, st: c.st}
}

// chainTo follows pinned parents from cand back to a root requirement and
// returns the path root first. It returns nil for root requirements.
func chainTo(st *state, cand *repository.Candidate) []string {
	var chain []string
	visited := make(map[string]bool)
	for cur := cand; cur != nil && !visited[cur.Key()]; cur = pinnedParent(st, cur.Name) {
		visited[cur.Key()] = true
		chain = append(chain, cur.String())
	}
	slices.Reverse(chain)
	return chain
}

// pinnedParent returns a pinned candidate that requires name, or nil when a
// root requires it or no parent is pinned.
func pinnedParent(st *state, name string) *repository.Candidate {
	crit, ok := st.criteria.get(name)
	if !ok || slices.Contains(crit.parents, nil) {
		return nil
	}
	for _, p := range crit.parents {
		if pinned, ok := st.pins.get(p.Name); ok && pinned.cand.Key() == p.Key() {
			return p
		}
	}
	return nil
}
