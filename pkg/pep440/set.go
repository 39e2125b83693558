package pep440

import (
	"slices"
	"strings"
)

type bound struct {
	v         Version
	inclusive bool
	infinite  bool
}

var unbounded = bound{infinite: true}

type interval struct {
	lo, hi bound
}

func (iv interval) nonEmpty() bool {
	if iv.lo.infinite || iv.hi.infinite {
		return true
	}
	c := iv.lo.v.Compare(iv.hi.v)
	return c < 0 || (c == 0 && iv.lo.inclusive && iv.hi.inclusive)
}

func (iv interval) contains(v Version) bool {
	if !iv.lo.infinite {
		c := v.Compare(iv.lo.v)
		if c < 0 || (c == 0 && !iv.lo.inclusive) {
			return false
		}
	}
	if !iv.hi.infinite {
		c := v.Compare(iv.hi.v)
		if c > 0 || (c == 0 && !iv.hi.inclusive) {
			return false
		}
	}
	return true
}

// compareLower orders lower bounds: -inf first, inclusive before exclusive.
func compareLower(a, b bound) int {
	switch {
	case a.infinite && b.infinite:
		return 0
	case a.infinite:
		return -1
	case b.infinite:
		return 1
	}
	if c := a.v.Compare(b.v); c != 0 {
		return c
	}
	switch {
	case a.inclusive == b.inclusive:
		return 0
	case a.inclusive:
		return -1
	default:
		return 1
	}
}

// compareUpper orders upper bounds: exclusive before inclusive, +inf last.
func compareUpper(a, b bound) int {
	switch {
	case a.infinite && b.infinite:
		return 0
	case a.infinite:
		return 1
	case b.infinite:
		return -1
	}
	if c := a.v.Compare(b.v); c != 0 {
		return c
	}
	switch {
	case a.inclusive == b.inclusive:
		return 0
	case a.inclusive:
		return 1
	default:
		return -1
	}
}

// VersionSet is a normalized union of disjoint version intervals. The zero
// value is the empty set.
type VersionSet struct {
	ivs []interval
}

// All returns the set of every version.
func All() VersionSet { return VersionSet{ivs: []interval{{lo: unbounded, hi: unbounded}}} }

// None returns the empty set.
func None() VersionSet { return VersionSet{} }

// Exactly returns the set holding only v.
func Exactly(v Version) VersionSet {
	b := bound{v: v, inclusive: true}
	return VersionSet{ivs: []interval{{lo: b, hi: b}}}
}

// AtLeast returns [v, +inf).
func AtLeast(v Version) VersionSet {
	return VersionSet{ivs: []interval{{lo: bound{v: v, inclusive: true}, hi: unbounded}}}
}

// Below returns (-inf, v).
func Below(v Version) VersionSet {
	return VersionSet{ivs: []interval{{lo: unbounded, hi: bound{v: v}}}}
}

// between returns [lo, hi).
func between(lo, hi Version) VersionSet {
	return normalize([]interval{{lo: bound{v: lo, inclusive: true}, hi: bound{v: hi}}})
}

func normalize(ivs []interval) VersionSet {
	ivs = slices.DeleteFunc(slices.Clone(ivs), func(iv interval) bool { return !iv.nonEmpty() })
	if len(ivs) == 0 {
		return VersionSet{}
	}
	slices.SortFunc(ivs, func(a, b interval) int { return compareLower(a.lo, b.lo) })

	out := []interval{ivs[0]}
	for _, next := range ivs[1:] {
		cur := &out[len(out)-1]
		if touches(cur.hi, next.lo) {
			if compareUpper(next.hi, cur.hi) > 0 {
				cur.hi = next.hi
			}
			continue
		}
		out = append(out, next)
	}
	return VersionSet{ivs: out}
}

// touches reports whether an interval ending at hi overlaps or abuts one
// starting at lo.
func touches(hi, lo bound) bool {
	if hi.infinite || lo.infinite {
		return true
	}
	c := hi.v.Compare(lo.v)
	return c > 0 || (c == 0 && (hi.inclusive || lo.inclusive))
}

// IsEmpty reports whether the set holds no version.
func (s VersionSet) IsEmpty() bool { return len(s.ivs) == 0 }

// IsAll reports whether the set holds every version.
func (s VersionSet) IsAll() bool {
	return len(s.ivs) == 1 && s.ivs[0].lo.infinite && s.ivs[0].hi.infinite
}

// Contains reports whether v is in the set.
func (s VersionSet) Contains(v Version) bool {
	for _, iv := range s.ivs {
		if iv.contains(v) {
			return true
		}
	}
	return false
}

// Intersect returns the versions in both s and o.
func (s VersionSet) Intersect(o VersionSet) VersionSet {
	var out []interval
	for _, a := range s.ivs {
		for _, b := range o.ivs {
			iv := interval{lo: a.lo, hi: a.hi}
			if compareLower(b.lo, iv.lo) > 0 {
				iv.lo = b.lo
			}
			if compareUpper(b.hi, iv.hi) < 0 {
				iv.hi = b.hi
			}
			out = append(out, iv)
		}
	}
	return normalize(out)
}

// Union returns the versions in s or o.
func (s VersionSet) Union(o VersionSet) VersionSet {
	return normalize(append(slices.Clone(s.ivs), o.ivs...))
}

// Complement returns every version not in s.
func (s VersionSet) Complement() VersionSet {
	var out []interval
	prev := unbounded
	for _, iv := range s.ivs {
		if !iv.lo.infinite {
			out = append(out, interval{lo: prev, hi: bound{v: iv.lo.v, inclusive: !iv.lo.inclusive}})
		}
		if iv.hi.infinite {
			return normalize(out)
		}
		prev = bound{v: iv.hi.v, inclusive: !iv.hi.inclusive}
	}
	out = append(out, interval{lo: prev, hi: unbounded})
	return normalize(out)
}

// IsSubset reports whether every version in s is also in o.
func (s VersionSet) IsSubset(o VersionSet) bool {
	return s.Intersect(o.Complement()).IsEmpty()
}

// Equal reports whether s and o hold the same versions.
func (s VersionSet) Equal(o VersionSet) bool {
	return s.IsSubset(o) && o.IsSubset(s)
}

// String renders the set in interval notation, e.g. "[1.0, 2.0.dev0) | [3.0, +inf)".
func (s VersionSet) String() string {
	if s.IsEmpty() {
		return "<empty>"
	}
	parts := make([]string, 0, len(s.ivs))
	for _, iv := range s.ivs {
		var b strings.Builder
		if iv.lo.infinite {
			b.WriteString("(-inf")
		} else {
			if iv.lo.inclusive {
				b.WriteByte('[')
			} else {
				b.WriteByte('(')
			}
			b.WriteString(iv.lo.v.String())
		}
		b.WriteString(", ")
		if iv.hi.infinite {
			b.WriteString("+inf)")
		} else {
			b.WriteString(iv.hi.v.String())
			if iv.hi.inclusive {
				b.WriteByte(']')
			} else {
				b.WriteByte(')')
			}
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, " | ")
}
