// Package requirement parses and represents PEP 508 dependency specifications.
//
// A [Requirement] names a project, the versions acceptable for it, the extras
// requested from it, the environments it applies to and, optionally, an
// explicit [Source] (a local path, a version-control checkout or a direct
// artifact URL) that replaces index lookup:
//
//	requests[socks]>=2.28,<3; python_version >= "3.8"
//	mylib @ git+https://github.com/org/mylib.git@v1.2.0
//	localpkg @ file:///srv/src/localpkg
//
// Names are normalized per PEP 503 so that "Foo_Bar" and "foo-bar" identify
// the same project.
package requirement

import (
	"regexp"
	"slices"
	"strings"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/pep440"
)

var (
	nameRE       = regexp.MustCompile(`^\s*([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*`)
	extrasRE     = regexp.MustCompile(`^\[([^\]]*)\]\s*`)
	separatorsRE = regexp.MustCompile(`[-_.]+`)
)

// NormalizeName returns the PEP 503 normalized form of a project name.
func NormalizeName(name string) string {
	return separatorsRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// Requirement is an immutable dependency specification.
type Requirement struct {
	Name       string // PEP 503 normalized
	Extras     []string
	Specifiers pep440.Specifiers
	Marker     markers.Marker
	Source     *Source // nil means "look the name up in the configured indexes"
}

// Parse parses a PEP 508 requirement string.
func Parse(s string) (*Requirement, error) {
	rest := s
	m := nameRE.FindStringSubmatch(rest)
	if m == nil {
		return nil, errors.New(errors.ErrCodeParse, "invalid requirement %q: missing project name", s)
	}
	req := &Requirement{Name: NormalizeName(m[1])}
	rest = rest[len(m[0]):]

	if em := extrasRE.FindStringSubmatch(rest); em != nil {
		for _, extra := range strings.Split(em[1], ",") {
			extra = strings.TrimSpace(extra)
			if extra == "" {
				continue
			}
			if err := errors.ValidatePackageName(extra); err != nil {
				return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid extra in requirement %q", s)
			}
			req.Extras = append(req.Extras, markers.NormalizeExtra(extra))
		}
		req.Extras = sortedUnique(req.Extras)
		rest = rest[len(em[0]):]
	}

	var markerText string
	if strings.HasPrefix(rest, "@") {
		urlPart := strings.TrimSpace(rest[1:])
		if i := markerSeparator(urlPart); i >= 0 {
			urlPart, markerText = strings.TrimSpace(urlPart[:i]), urlPart[i+1:]
		}
		src, err := ParseSource(urlPart)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid requirement %q", s)
		}
		req.Source = src
	} else {
		specText := rest
		if i := strings.IndexByte(rest, ';'); i >= 0 {
			specText, markerText = rest[:i], rest[i+1:]
		}
		specText = strings.TrimSpace(specText)
		if strings.HasPrefix(specText, "(") && strings.HasSuffix(specText, ")") {
			specText = specText[1 : len(specText)-1]
		}
		specs, err := pep440.ParseSpecifiers(specText)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid requirement %q", s)
		}
		req.Specifiers = specs
	}

	if strings.TrimSpace(markerText) != "" {
		mk, err := markers.Parse(markerText)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid requirement %q", s)
		}
		req.Marker = mk
	}
	return req, nil
}

// MustParse is like [Parse] but panics on malformed input.
func MustParse(s string) *Requirement {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

// markerSeparator finds the ";" that ends a URL: PEP 508 requires whitespace
// before it so that URLs may contain semicolons.
func markerSeparator(s string) int {
	for i := 1; i < len(s); i++ {
		if s[i] == ';' && (s[i-1] == ' ' || s[i-1] == '\t') {
			return i
		}
	}
	return -1
}

func sortedUnique(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// String returns the canonical requirement text.
func (r *Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteByte('[')
		b.WriteString(strings.Join(r.Extras, ","))
		b.WriteByte(']')
	}
	if r.Source != nil {
		b.WriteString(" @ ")
		b.WriteString(r.Source.String())
		if !r.Marker.IsAny() {
			b.WriteString(" ; ")
			b.WriteString(r.Marker.String())
		}
		return b.String()
	}
	b.WriteString(r.Specifiers.String())
	if !r.Marker.IsAny() {
		b.WriteString("; ")
		b.WriteString(r.Marker.String())
	}
	return b.String()
}

// Identify returns the key the resolver tracks the requirement under. Extras
// do not split identity: every extra of a project lives on the same pin.
func (r *Requirement) Identify() string { return r.Name }

// IsPinned reports whether the requirement names exactly one version.
func (r *Requirement) IsPinned() bool {
	if r.Source != nil {
		return true
	}
	for _, s := range r.Specifiers {
		if (s.Op == pep440.OpEqual && !s.Wildcard) || s.Op == pep440.OpArbitrary {
			return true
		}
	}
	return false
}

// WithMarker returns a copy of r with its marker replaced.
func (r *Requirement) WithMarker(m markers.Marker) *Requirement {
	out := *r
	out.Marker = m
	return &out
}

// WithExtras returns a copy of r with extras added.
func (r *Requirement) WithExtras(extras ...string) *Requirement {
	out := *r
	out.Extras = sortedUnique(append(slices.Clone(r.Extras), extras...))
	return &out
}

// Sort orders requirements by their canonical text.
func Sort(reqs []*Requirement) {
	slices.SortStableFunc(reqs, func(a, b *Requirement) int { return strings.Compare(a.String(), b.String()) })
}
