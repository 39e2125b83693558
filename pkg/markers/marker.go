// Package markers implements PEP 508 environment markers.
//
// A [Marker] is an immutable boolean expression over environment variables
// such as python_version or sys_platform. It can be evaluated two ways:
//
//   - [Marker.Evaluate] against a concrete [Environment] (one interpreter on
//     one machine);
//   - [Marker.EvaluateTarget] against a [Target], a partial description such
//     as "CPython >=3.9 on any platform". The answer is conservative: true if
//     some environment matching the target could satisfy the marker.
//
// Markers built with [And] and [Or] are kept in a canonical form (flattened,
// deduplicated, sorted, absorbed) so that equal conditions print identically
// and lock files stay byte-stable.
package markers

import (
	"regexp"
	"slices"
	"strings"

	"github.com/matzehuels/stacklock/pkg/pep440"
)

// Environment maps marker variable names to their values.
type Environment map[string]string

// Marker is a parsed environment marker. The zero value is the marker that is
// always true and prints as the empty string.
type Marker struct {
	e expr
}

type expr interface {
	String() string
}

type operand struct {
	variable bool
	value    string
}

func (o operand) String() string {
	if o.variable {
		return o.value
	}
	if strings.Contains(o.value, `"`) {
		return "'" + o.value + "'"
	}
	return `"` + o.value + `"`
}

type compare struct {
	lhs operand
	op  string
	rhs operand
}

func newCompare(lhs operand, op string, rhs operand) *compare {
	if lhs.variable && lhs.value == "extra" && !rhs.variable {
		rhs.value = NormalizeExtra(rhs.value)
	}
	if rhs.variable && rhs.value == "extra" && !lhs.variable {
		lhs.value = NormalizeExtra(lhs.value)
	}
	return &compare{lhs: lhs, op: op, rhs: rhs}
}

func (c *compare) String() string {
	return c.lhs.String() + " " + c.op + " " + c.rhs.String()
}

// variable returns the single variable the comparison reads, and the literal
// it is compared against.
func (c *compare) variable() (name, literal string, varOnLeft bool) {
	if c.lhs.variable {
		return c.lhs.value, c.rhs.value, true
	}
	return c.rhs.value, c.lhs.value, false
}

type allExpr []expr
type anyExpr []expr

func (a allExpr) String() string {
	parts := make([]string, len(a))
	for i, e := range a {
		if _, ok := e.(anyExpr); ok {
			parts[i] = "(" + e.String() + ")"
		} else {
			parts[i] = e.String()
		}
	}
	return strings.Join(parts, " and ")
}

func (a anyExpr) String() string {
	parts := make([]string, len(a))
	for i, e := range a {
		parts[i] = e.String()
	}
	return strings.Join(parts, " or ")
}

func canonical(items []expr) []expr {
	slices.SortFunc(items, func(a, b expr) int { return strings.Compare(a.String(), b.String()) })
	return slices.CompactFunc(items, func(a, b expr) bool { return a.String() == b.String() })
}

// allOf builds a conjunction. nil operands are "always true" and drop out.
func allOf(items []expr) expr {
	var flat []expr
	for _, it := range items {
		switch x := it.(type) {
		case nil:
		case allExpr:
			flat = append(flat, x...)
		default:
			flat = append(flat, x)
		}
	}
	flat = canonical(flat)
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return allExpr(flat)
}

// anyOf builds a disjunction. A nil operand makes the whole disjunction
// always true.
func anyOf(items []expr) expr {
	var flat []expr
	for _, it := range items {
		switch x := it.(type) {
		case nil:
			return nil
		case anyExpr:
			flat = append(flat, x...)
		default:
			flat = append(flat, x)
		}
	}
	flat = canonical(flat)

	// Absorption: (a) or (a and b) == a.
	absorbed := make([]bool, len(flat))
	for i, x := range flat {
		for j, y := range flat {
			if i != j && !absorbed[j] && isSubsetOf(members(y), members(x)) {
				absorbed[i] = true
				break
			}
		}
	}
	var kept []expr
	for i, x := range flat {
		if !absorbed[i] {
			kept = append(kept, x)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return anyExpr(kept)
}

func members(e expr) []string {
	if a, ok := e.(allExpr); ok {
		out := make([]string, len(a))
		for i, x := range a {
			out[i] = x.String()
		}
		return out
	}
	return []string{e.String()}
}

func isSubsetOf(small, big []string) bool {
	for _, s := range small {
		if !slices.Contains(big, s) {
			return false
		}
	}
	return true
}

// And returns the conjunction of ms.
func And(ms ...Marker) Marker {
	items := make([]expr, len(ms))
	for i, m := range ms {
		items[i] = m.e
	}
	return Marker{e: allOf(items)}
}

// Or returns the disjunction of ms. With no operands it returns the
// always-true marker.
func Or(ms ...Marker) Marker {
	if len(ms) == 0 {
		return Marker{}
	}
	items := make([]expr, len(ms))
	for i, m := range ms {
		items[i] = m.e
	}
	return Marker{e: anyOf(items)}
}

// IsAny reports whether m is always true.
func (m Marker) IsAny() bool { return m.e == nil }

// String returns the canonical marker text, or "" for the always-true marker.
func (m Marker) String() string {
	if m.e == nil {
		return ""
	}
	return m.e.String()
}

// Equal reports whether m and o have the same canonical form.
func (m Marker) Equal(o Marker) bool { return m.String() == o.String() }

// MarshalText implements encoding.TextMarshaler.
func (m Marker) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Marker) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

var extraSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeExtra normalizes an extra or group name per PEP 685.
func NormalizeExtra(name string) string {
	return extraSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// Extras returns the sorted extra names the marker tests for.
func (m Marker) Extras() []string {
	var out []string
	walk(m.e, func(c *compare) {
		if name, literal, _ := c.variable(); name == "extra" {
			out = append(out, literal)
		}
	})
	slices.Sort(out)
	return slices.Compact(out)
}

func walk(e expr, f func(*compare)) {
	switch x := e.(type) {
	case *compare:
		f(x)
	case allExpr:
		for _, y := range x {
			walk(y, f)
		}
	case anyExpr:
		for _, y := range x {
			walk(y, f)
		}
	}
}

type truth int

const (
	unknown truth = iota
	isTrue
	isFalse
)

func truthOf(b bool) truth {
	if b {
		return isTrue
	}
	return isFalse
}

// reduce partially evaluates e. Leaves for which leaf reports unknown are kept.
func reduce(e expr, leaf func(*compare) truth) (expr, truth) {
	switch x := e.(type) {
	case nil:
		return nil, isTrue
	case *compare:
		if t := leaf(x); t != unknown {
			return nil, t
		}
		return x, unknown
	case allExpr:
		var kept []expr
		for _, y := range x {
			r, t := reduce(y, leaf)
			switch t {
			case isFalse:
				return nil, isFalse
			case unknown:
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			return nil, isTrue
		}
		return allOf(kept), unknown
	case anyExpr:
		var kept []expr
		for _, y := range x {
			r, t := reduce(y, leaf)
			switch t {
			case isTrue:
				return nil, isTrue
			case unknown:
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			return nil, isFalse
		}
		return anyOf(kept), unknown
	}
	return e, unknown
}

// WithExtras resolves every "extra" comparison against the requested extras.
// It returns the remaining marker and false when the marker cannot hold for
// these extras.
func (m Marker) WithExtras(extras []string) (Marker, bool) {
	e, t := reduce(m.e, func(c *compare) truth {
		if name, _, _ := c.variable(); name != "extra" {
			return unknown
		}
		return evalExtra(c, extras)
	})
	if t == isFalse {
		return Marker{}, false
	}
	return Marker{e: e}, true
}

func evalExtra(c *compare, extras []string) truth {
	if len(extras) == 0 {
		extras = []string{""}
	}
	_, literal, left := c.variable()
	for _, extra := range extras {
		l, r := NormalizeExtra(extra), literal
		if !left {
			l, r = r, l
		}
		if compareValues(l, c.op, r) {
			return isTrue
		}
	}
	return isFalse
}

// Evaluate evaluates m against a concrete environment. Comparisons on
// variables missing from env are treated as satisfiable.
func (m Marker) Evaluate(env Environment) bool {
	var extras []string
	if e, ok := env["extra"]; ok {
		extras = []string{e}
	}
	_, t := reduce(m.e, func(c *compare) truth { return c.eval(env, extras) })
	return t != isFalse
}

func (c *compare) eval(env Environment, extras []string) truth {
	name, _, _ := c.variable()
	if name == "extra" {
		return evalExtra(c, extras)
	}
	value, ok := env[name]
	if !ok {
		return unknown
	}
	l, r := c.lhs.value, c.rhs.value
	if c.lhs.variable {
		l = value
	} else {
		r = value
	}
	return truthOf(compareValues(l, c.op, r))
}

// compareValues applies op the way PEP 508 does: as a version specifier when
// both sides parse as versions, otherwise as a string comparison.
func compareValues(l, op, r string) bool {
	switch op {
	case "in":
		return strings.Contains(r, l)
	case "not in":
		return !strings.Contains(r, l)
	}
	if spec, err := pep440.ParseSpecifier(op + r); err == nil {
		if v, err := pep440.Parse(l); err == nil {
			return spec.Contains(v)
		}
	}
	switch op {
	case "==", "===":
		return l == r
	case "!=":
		return l != r
	}
	return false
}
