package pep440

import (
	"regexp"
	"slices"
	"strings"

	"github.com/matzehuels/stacklock/pkg/errors"
)

// Operator is a version comparison operator.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpLessEqual    Operator = "<="
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpGreater      Operator = ">"
	OpCompatible   Operator = "~="
	OpArbitrary    Operator = "==="
)

var specifierPattern = regexp.MustCompile(`^\s*(===|==|!=|<=|>=|~=|<|>)\s*([^\s,;]+)\s*$`)

// Specifier is a single comparison clause such as ">=1.2" or "==1.1.*".
type Specifier struct {
	Op       Operator
	Version  Version
	Wildcard bool   // "==X.*" or "!=X.*"
	raw      string // literal operand for "==="
}

// ParseSpecifier parses a single clause.
func ParseSpecifier(s string) (Specifier, error) {
	m := specifierPattern.FindStringSubmatch(s)
	if m == nil {
		return Specifier{}, errors.New(errors.ErrCodeParse, "invalid specifier %q", s)
	}
	spec := Specifier{Op: Operator(m[1])}
	operand := m[2]

	if spec.Op == OpArbitrary {
		spec.raw = operand
		if v, err := Parse(operand); err == nil {
			spec.Version = v
		}
		return spec, nil
	}

	if strings.HasSuffix(operand, ".*") {
		if spec.Op != OpEqual && spec.Op != OpNotEqual {
			return Specifier{}, errors.New(errors.ErrCodeParse, "wildcard not allowed with %s in %q", spec.Op, s)
		}
		spec.Wildcard = true
		operand = strings.TrimSuffix(operand, ".*")
	}
	v, err := Parse(operand)
	if err != nil {
		return Specifier{}, errors.Wrap(errors.ErrCodeParse, err, "invalid specifier %q", s)
	}
	if v.local != "" && (spec.Wildcard || (spec.Op != OpEqual && spec.Op != OpNotEqual)) {
		return Specifier{}, errors.New(errors.ErrCodeParse, "local version not allowed in %q", s)
	}
	if spec.Wildcard && (v.preL != "" || v.post >= 0 || v.dev >= 0) {
		return Specifier{}, errors.New(errors.ErrCodeParse, "wildcard must follow a release in %q", s)
	}
	if spec.Op == OpCompatible && len(v.release) < 2 {
		return Specifier{}, errors.New(errors.ErrCodeParse, "~= needs at least two release segments in %q", s)
	}
	spec.Version = v
	return spec, nil
}

// String returns the canonical form of the clause.
func (s Specifier) String() string {
	switch {
	case s.Op == OpArbitrary:
		return string(s.Op) + s.raw
	case s.Wildcard:
		return string(s.Op) + s.Version.String() + ".*"
	default:
		return string(s.Op) + s.Version.String()
	}
}

// Contains reports whether v satisfies the clause. Pre-release policy is not
// applied here; see [Specifiers.Allows].
func (s Specifier) Contains(v Version) bool {
	sv := s.Version
	switch s.Op {
	case OpEqual:
		return s.equal(v)
	case OpNotEqual:
		return !s.equal(v)
	case OpLessEqual:
		return v.Compare(sv) <= 0
	case OpGreaterEqual:
		return v.Compare(sv) >= 0
	case OpLess:
		if v.Compare(sv) >= 0 {
			return false
		}
		return sv.IsPrerelease() || !v.IsPrerelease() || v.BaseVersion().Compare(sv.BaseVersion()) != 0
	case OpGreater:
		if v.Compare(sv) <= 0 {
			return false
		}
		return sv.IsPostRelease() || !v.IsPostRelease() || v.BaseVersion().Compare(sv.BaseVersion()) != 0
	case OpCompatible:
		return v.Compare(sv) >= 0 && prefixMatch(v, sv.epoch, sv.release[:len(sv.release)-1])
	case OpArbitrary:
		return strings.EqualFold(v.String(), s.raw)
	}
	return false
}

func (s Specifier) equal(v Version) bool {
	if s.Wildcard {
		return prefixMatch(v, s.Version.epoch, s.Version.release)
	}
	if s.Version.local != "" {
		return v.Equal(s.Version)
	}
	return v.Compare(s.Version) == 0
}

func prefixMatch(v Version, epoch int, prefix []int) bool {
	if v.epoch != epoch {
		return false
	}
	for i, n := range prefix {
		var x int
		if i < len(v.release) {
			x = v.release[i]
		}
		if x != n {
			return false
		}
	}
	return true
}

// Set returns the versions matched by the clause as a [VersionSet]. The set
// is exact for every operator except ">" on final versions and "<" on
// post-releases, where it over-approximates by keeping the excluded
// post-releases or pre-releases of the operand.
func (s Specifier) Set() VersionSet {
	sv := s.Version
	switch s.Op {
	case OpEqual, OpNotEqual:
		var eq VersionSet
		if s.Wildcard {
			eq = between(withDev0(sv.epoch, sv.release), withDev0(sv.epoch, bump(sv.release, len(sv.release))))
		} else {
			eq = Exactly(sv.Public())
		}
		if s.Op == OpNotEqual {
			return eq.Complement()
		}
		return eq
	case OpLessEqual:
		return VersionSet{ivs: []interval{{lo: unbounded, hi: bound{v: sv, inclusive: true}}}}
	case OpGreaterEqual:
		return AtLeast(sv)
	case OpLess:
		hi := sv
		if !sv.IsPrerelease() && !sv.IsPostRelease() {
			hi = withDev0(sv.epoch, sv.release)
		}
		return Below(hi)
	case OpGreater:
		return VersionSet{ivs: []interval{{lo: bound{v: sv}, hi: unbounded}}}
	case OpCompatible:
		upper := withDev0(sv.epoch, bump(sv.release, len(sv.release)-1))
		return AtLeast(sv).Intersect(Below(upper))
	case OpArbitrary:
		if sv.IsZero() {
			return All()
		}
		return Exactly(sv.Public())
	}
	return All()
}

// Specifiers is a conjunction of clauses. A nil or empty Specifiers matches
// every version.
type Specifiers []Specifier

// ParseSpecifiers parses a comma-separated list of clauses.
func ParseSpecifiers(s string) (Specifiers, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out Specifiers
	for _, part := range strings.Split(s, ",") {
		spec, err := ParseSpecifier(part)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out.normalize(), nil
}

// MustParseSpecifiers is like [ParseSpecifiers] but panics on malformed input.
func MustParseSpecifiers(s string) Specifiers {
	specs, err := ParseSpecifiers(s)
	if err != nil {
		panic(err)
	}
	return specs
}

func (ss Specifiers) normalize() Specifiers {
	if len(ss) == 0 {
		return nil
	}
	out := slices.Clone(ss)
	slices.SortFunc(out, func(a, b Specifier) int { return strings.Compare(a.String(), b.String()) })
	return slices.CompactFunc(out, func(a, b Specifier) bool { return a.String() == b.String() })
}

// String returns the clauses sorted and comma-joined, the same canonical
// form pip and packaging print.
func (ss Specifiers) String() string {
	parts := make([]string, 0, len(ss))
	for _, s := range ss.normalize() {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, ",")
}

// IsAny reports whether ss has no clauses.
func (ss Specifiers) IsAny() bool { return len(ss) == 0 }

// Contains reports whether v satisfies every clause.
func (ss Specifiers) Contains(v Version) bool {
	for _, s := range ss {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}

// Prereleases reports whether the clauses themselves opt into pre-releases,
// which is the case when an inclusive clause names a pre-release.
func (ss Specifiers) Prereleases() bool {
	for _, s := range ss {
		if s.Op != OpNotEqual && s.Version.IsPrerelease() {
			return true
		}
	}
	return false
}

// Allows is [Specifiers.Contains] with the pre-release policy applied:
// pre-releases match only when prereleases is set or the clauses name one.
func (ss Specifiers) Allows(v Version, prereleases bool) bool {
	if v.IsPrerelease() && !prereleases && !ss.Prereleases() {
		return false
	}
	return ss.Contains(v)
}

// Intersect returns the conjunction of ss and other.
func (ss Specifiers) Intersect(other Specifiers) Specifiers {
	return append(slices.Clone(ss), other...).normalize()
}

// Set returns the versions matched by all clauses.
func (ss Specifiers) Set() VersionSet {
	set := All()
	for _, s := range ss {
		set = set.Intersect(s.Set())
	}
	return set
}

// IsEmpty reports whether no version can satisfy ss.
func (ss Specifiers) IsEmpty() bool { return ss.Set().IsEmpty() }

// IsSubset reports whether every version matched by ss is matched by other.
func (ss Specifiers) IsSubset(other Specifiers) bool {
	return ss.Set().IsSubset(other.Set())
}

// MarshalText implements encoding.TextMarshaler.
func (ss Specifiers) MarshalText() ([]byte, error) { return []byte(ss.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (ss *Specifiers) UnmarshalText(text []byte) error {
	parsed, err := ParseSpecifiers(string(text))
	if err != nil {
		return err
	}
	*ss = parsed
	return nil
}
