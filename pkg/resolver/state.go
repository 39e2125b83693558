package resolver

import (
	"slices"
	"strings"

	"github.com/matzehuels/stacklock/pkg/repository"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// pin is a tentative decision: one candidate plus the extras it was pinned
// with. Extras only grow while a name stays pinned.
type pin struct {
	cand   *repository.Candidate
	extras []string
}

// pinMap holds the pins of a state in decision order. Set moves a name to
// the end, so Pop always returns the most recent decision.
type pinMap struct {
	order []string
	pins  map[string]pin
}

func newPinMap() *pinMap {
	return &pinMap{pins: make(map[string]pin)}
}

func (m *pinMap) clone() *pinMap {
	out := &pinMap{
		order: slices.Clone(m.order),
		pins:  make(map[string]pin, len(m.pins)),
	}
	for k, v := range m.pins {
		out.pins[k] = v
	}
	return out
}

func (m *pinMap) get(name string) (pin, bool) {
	p, ok := m.pins[name]
	return p, ok
}

func (m *pinMap) set(name string, p pin) {
	if _, ok := m.pins[name]; ok {
		m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	}
	m.order = append(m.order, name)
	m.pins[name] = p
}

// pop removes and returns the most recent pin. It panics on an empty map.
func (m *pinMap) pop() (string, pin) {
	name := m.order[len(m.order)-1]
	m.order = m.order[:len(m.order)-1]
	p := m.pins[name]
	delete(m.pins, name)
	return name, p
}

func (m *pinMap) len() int { return len(m.order) }

// criterion collects everything known about one name: the requirements on
// it with the candidates that introduced them, the extras they request, the
// candidates ruled out by backtracking, and what is left to try.
//
// The reqs, parents and candidates slices may be shared between states and
// are never modified in place.
type criterion struct {
	reqs []*requirement.Requirement
	// parents[i] introduced reqs[i]; nil means a root requirement.
	parents           []*repository.Candidate
	extras            []string
	incompatibilities map[string]bool
	candidates        []*repository.Candidate
}

func (c criterion) copy() criterion {
	incompat := make(map[string]bool, len(c.incompatibilities))
	for k := range c.incompatibilities {
		incompat[k] = true
	}
	return criterion{
		reqs:              c.reqs,
		parents:           c.parents,
		extras:            c.extras,
		incompatibilities: incompat,
		candidates:        c.candidates,
	}
}

// has reports whether the criterion already holds req from parent.
func (c criterion) has(req *requirement.Requirement, parent *repository.Candidate) bool {
	key, from := req.String(), parentKey(parent)
	for i, r := range c.reqs {
		if parentKey(c.parents[i]) == from && r.String() == key {
			return true
		}
	}
	return false
}

func (c criterion) allows(cand *repository.Candidate) bool {
	key := cand.Key()
	return slices.ContainsFunc(c.candidates, func(o *repository.Candidate) bool { return o.Key() == key })
}

func parentKey(c *repository.Candidate) string {
	if c == nil {
		return ""
	}
	return c.Key()
}

// unionExtras returns the sorted union of a and b without modifying either.
func unionExtras(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := slices.Concat(a, b)
	slices.Sort(out)
	return slices.Compact(out)
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if _, ok := slices.BinarySearch(have, w); !ok {
			return false
		}
	}
	return true
}

type criterionPair struct {
	name string
	crit criterion
}

// criteria is kept sorted by name so that iteration is deterministic.
type criteria []criterionPair

func (cs criteria) copy() criteria { return slices.Clone(cs) }

func (cs criteria) find(name string) (int, bool) {
	return slices.BinarySearchFunc(cs, name, func(p criterionPair, n string) int { return strings.Compare(p.name, n) })
}

func (cs criteria) get(name string) (criterion, bool) {
	if i, ok := cs.find(name); ok {
		return cs[i].crit, true
	}
	return criterion{}, false
}

func (cs *criteria) put(name string, c criterion) {
	i, ok := cs.find(name)
	if ok {
		(*cs)[i].crit = c
		return
	}
	*cs = slices.Insert(*cs, i, criterionPair{name: name, crit: c})
}

// state is one snapshot of the search. Backtracking discards states; it
// never edits an older one field by field.
type state struct {
	pins     *pinMap
	criteria criteria
}

func (s *state) clone() *state {
	return &state{pins: s.pins.clone(), criteria: s.criteria.copy()}
}
