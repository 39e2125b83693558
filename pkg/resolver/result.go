package resolver

import (
	"slices"
	"strings"

	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/repository"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// Package is one pin of a successful resolution.
type Package struct {
	Candidate *repository.Candidate
	// Extras are the extras the package was pinned with.
	Extras []string
	// Marker holds where the package is needed: over every path from a
	// root, the conjunction of the edge markers, joined with "or".
	Marker markers.Marker
	// Groups lists the dependency groups whose roots reach the package.
	Groups []string
	// Dependencies names the pinned packages this one requires.
	Dependencies []string
	// Direct is set when a root requirement names the package.
	Direct bool
}

// Name returns the project name.
func (p *Package) Name() string { return p.Candidate.Name }

// Result is a consistent set of pins.
type Result struct {
	// Packages are sorted by name, then by marker. A name appears more
	// than once only after split resolution, with disjoint markers.
	Packages []*Package
	Targets  []markers.Target
	Rounds   int
}

// Lookup returns the packages pinned for name.
func (r *Result) Lookup(name string) []*Package {
	name = requirement.NormalizeName(name)
	var out []*Package
	for _, p := range r.Packages {
		if p.Name() == name {
			out = append(out, p)
		}
	}
	return out
}

func sortPackages(pkgs []*Package) {
	slices.SortStableFunc(pkgs, func(a, b *Package) int {
		if c := strings.Compare(a.Name(), b.Name()); c != 0 {
			return c
		}
		return strings.Compare(a.Marker.String(), b.Marker.String())
	})
}

// edge is a requirement between two pinned names. from is empty for a root
// requirement.
type edge struct {
	from, to string
	req      *requirement.Requirement
}

// graph is the final pin set restricted to what the roots still reach.
// Backtracking can leave pins behind whose only parents were replaced.
type graph struct {
	st    *state
	names []string
	in    map[string][]edge
	out   map[string][]string
}

func newGraph(st *state) *graph {
	g := &graph{st: st, in: make(map[string][]edge), out: make(map[string][]string)}
	connected := make(map[string]bool, st.pins.len())
	names := slices.Clone(st.pins.order)
	slices.Sort(names)
	for _, name := range names {
		if g.hasRouteToRoot(name, connected) {
			g.names = append(g.names, name)
		}
	}
	for _, name := range g.names {
		crit, _ := st.criteria.get(name)
		for i, req := range crit.reqs {
			parent := crit.parents[i]
			if parent == nil {
				g.in[name] = append(g.in[name], edge{to: name, req: req})
				continue
			}
			if !g.pinned(parent) || !connected[parent.Name] {
				continue
			}
			g.in[name] = append(g.in[name], edge{from: parent.Name, to: name, req: req})
			if !slices.Contains(g.out[parent.Name], name) {
				g.out[parent.Name] = append(g.out[parent.Name], name)
			}
		}
	}
	for name := range g.out {
		slices.Sort(g.out[name])
	}
	return g
}

func (g *graph) pinned(c *repository.Candidate) bool {
	p, ok := g.st.pins.get(c.Name)
	return ok && p.cand.Key() == c.Key()
}

// hasRouteToRoot reports whether a chain of pinned parents leads from name
// to a root requirement. connected caches answers; a false entry marks a
// name that is being visited or known to be disconnected.
func (g *graph) hasRouteToRoot(name string, connected map[string]bool) bool {
	if c, ok := connected[name]; ok {
		return c
	}
	connected[name] = false
	crit, ok := g.st.criteria.get(name)
	if !ok {
		return false
	}
	for _, parent := range crit.parents {
		if parent == nil {
			connected[name] = true
			return true
		}
	}
	for _, parent := range crit.parents {
		if g.pinned(parent) && g.hasRouteToRoot(parent.Name, connected) {
			connected[name] = true
			return true
		}
	}
	return false
}

// components returns the strongly connected components in topological
// order, roots first (Tarjan's algorithm).
func (g *graph) components() [][]string {
	var (
		index   = make(map[string]int)
		low     = make(map[string]int)
		onStack = make(map[string]bool)
		stack   []string
		out     [][]string
		next    int
	)
	var visit func(string)
	visit = func(v string) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.out[v] {
			if _, seen := index[w]; !seen {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}
		var comp []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		slices.Sort(comp)
		out = append(out, comp)
	}
	for _, v := range g.names {
		if _, seen := index[v]; !seen {
			visit(v)
		}
	}
	slices.Reverse(out)
	return out
}

// propagateMarkers propagates edge markers from the roots. Inside a cycle every
// member gets the markers of all edges entering the cycle, which may be
// wider than needed but never narrower.
func (g *graph) propagateMarkers() map[string]markers.Marker {
	out := make(map[string]markers.Marker, len(g.names))
	for _, comp := range g.components() {
		var terms []markers.Marker
		for _, name := range comp {
			for _, e := range g.in[name] {
				switch {
				case e.from == "":
					terms = append(terms, e.req.Marker)
				case !slices.Contains(comp, e.from):
					terms = append(terms, markers.And(out[e.from], e.req.Marker))
				}
			}
		}
		m := markers.Or(terms...)
		for _, name := range comp {
			out[name] = m
		}
	}
	return out
}

// groups returns, per name, the sorted groups whose roots reach it.
func (g *graph) groups(roots []Root, live func(*requirement.Requirement) bool) map[string][]string {
	out := make(map[string][]string)
	byGroup := make(map[string][]string)
	var order []string
	for _, r := range roots {
		if !live(r.Requirement) {
			continue
		}
		if _, ok := byGroup[r.Group]; !ok {
			order = append(order, r.Group)
		}
		byGroup[r.Group] = append(byGroup[r.Group], r.Requirement.Name)
	}
	for _, group := range order {
		seen := make(map[string]bool)
		queue := slices.Clone(byGroup[group])
		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			if seen[name] || len(g.in[name]) == 0 {
				continue
			}
			seen[name] = true
			out[name] = append(out[name], group)
			queue = append(queue, g.out[name]...)
		}
	}
	for name := range out {
		slices.Sort(out[name])
		out[name] = slices.Compact(out[name])
	}
	return out
}

// buildResult turns the final state into a Result.
func buildResult(st *state, p *provider, roots []Root) *Result {
	g := newGraph(st)
	ms := g.propagateMarkers()
	groups := g.groups(roots, func(req *requirement.Requirement) bool {
		_, ok := p.live(req, nil)
		return ok
	})
	res := &Result{}
	for _, name := range g.names {
		pin, _ := st.pins.get(name)
		direct := slices.ContainsFunc(g.in[name], func(e edge) bool { return e.from == "" })
		res.Packages = append(res.Packages, &Package{
			Candidate:    pin.cand,
			Extras:       slices.Clone(pin.extras),
			Marker:       ms[name],
			Groups:       groups[name],
			Dependencies: slices.Clone(g.out[name]),
			Direct:       direct,
		})
	}
	sortPackages(res.Packages)
	return res
}
