package lockfile

import (
	"maps"
	"slices"
	"strings"
)

// ChangeKind classifies a [Change].
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Removed ChangeKind = "removed"
	Updated ChangeKind = "updated"
)

// Change is the difference between two locks for one package name.
type Change struct {
	Name string
	Kind ChangeKind
	// Old and New list the locked versions, comma separated when a name
	// is locked more than once.
	Old, New string
}

// Diff lists the packages whose locked versions differ between old and
// cur, sorted by name. A nil old lock makes every package an addition.
func Diff(old, cur *Lock) []Change {
	versions := func(l *Lock) map[string]string {
		out := make(map[string]string)
		if l == nil {
			return out
		}
		byName := make(map[string][]string)
		for _, e := range l.Packages {
			v := e.Version
			if e.Source != "" {
				v += " (" + e.Source + ")"
			}
			byName[e.Name] = append(byName[e.Name], v)
		}
		for name, vs := range byName {
			slices.Sort(vs)
			out[name] = strings.Join(slices.Compact(vs), ", ")
		}
		return out
	}
	o, c := versions(old), versions(cur)

	var out []Change
	for _, name := range slices.Sorted(maps.Keys(c)) {
		prev, ok := o[name]
		switch {
		case !ok:
			out = append(out, Change{Name: name, Kind: Added, New: c[name]})
		case prev != c[name]:
			out = append(out, Change{Name: name, Kind: Updated, Old: prev, New: c[name]})
		}
	}
	for _, name := range slices.Sorted(maps.Keys(o)) {
		if _, ok := c[name]; !ok {
			out = append(out, Change{Name: name, Kind: Removed, Old: o[name]})
		}
	}
	slices.SortStableFunc(out, func(a, b Change) int { return strings.Compare(a.Name, b.Name) })
	return out
}
