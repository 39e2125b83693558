package markers

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/pep440"
)

// Target describes a set of environments a lock must stay valid for. Unset
// fields mean "any": the zero Target is every interpreter on every platform.
type Target struct {
	Python         pep440.Specifiers `toml:"requires_python,omitempty"`
	Platform       string            `toml:"platform,omitempty"`
	Implementation string            `toml:"implementation,omitempty"`
}

var platformValues = map[string]Environment{
	"linux":   {"sys_platform": "linux", "platform_system": "Linux", "os_name": "posix"},
	"macos":   {"sys_platform": "darwin", "platform_system": "Darwin", "os_name": "posix"},
	"windows": {"sys_platform": "win32", "platform_system": "Windows", "os_name": "nt"},
}

var implementationValues = map[string]Environment{
	"cpython": {"implementation_name": "cpython", "platform_python_implementation": "CPython"},
	"pypy":    {"implementation_name": "pypy", "platform_python_implementation": "PyPy"},
}

// Platforms returns the platform names a Target may name.
func Platforms() []string { return slices.Sorted(maps.Keys(platformValues)) }

// ParseTarget parses "[platform][/implementation][:python-specifiers]", for
// example "linux", "windows:>=3.10" or "macos/pypy:>=3.9,<3.12". "any" and
// the empty string denote the universal target.
func ParseTarget(s string) (Target, error) {
	var t Target
	head, python, hasPython := strings.Cut(strings.TrimSpace(s), ":")
	if hasPython {
		specs, err := pep440.ParseSpecifiers(python)
		if err != nil {
			return Target{}, errors.Wrap(errors.ErrCodeParse, err, "invalid target %q", s)
		}
		t.Python = specs
	}
	platform, impl, _ := strings.Cut(head, "/")
	if platform != "" && platform != "any" {
		t.Platform = platform
	}
	t.Implementation = impl
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Validate checks the platform and implementation names.
func (t Target) Validate() error {
	if _, ok := platformValues[t.Platform]; t.Platform != "" && !ok {
		return errors.New(errors.ErrCodeParse, "unknown platform %q (want one of %s)", t.Platform, strings.Join(Platforms(), ", "))
	}
	if _, ok := implementationValues[t.Implementation]; t.Implementation != "" && !ok {
		return errors.New(errors.ErrCodeParse, "unknown implementation %q", t.Implementation)
	}
	return nil
}

// String returns the form accepted by [ParseTarget].
func (t Target) String() string {
	s := t.Platform
	if s == "" {
		s = "any"
	}
	if t.Implementation != "" {
		s += "/" + t.Implementation
	}
	if !t.Python.IsAny() {
		s += ":" + t.Python.String()
	}
	return s
}

// Covers reports whether every environment in o is also in t.
func (t Target) Covers(o Target) bool {
	if t.Platform != "" && t.Platform != o.Platform {
		return false
	}
	if t.Implementation != "" && t.Implementation != o.Implementation {
		return false
	}
	return o.Python.IsSubset(t.Python)
}

// Marker returns the marker that holds exactly in the environments of t.
func (t Target) Marker() Marker {
	var items []expr
	for _, spec := range t.Python {
		literal := spec.Version.String()
		if spec.Wildcard {
			literal += ".*"
		}
		items = append(items, newCompare(operand{variable: true, value: "python_full_version"}, string(spec.Op), operand{value: literal}))
	}
	if t.Platform != "" {
		items = append(items, newCompare(operand{variable: true, value: "sys_platform"}, "==", operand{value: platformValues[t.Platform]["sys_platform"]}))
	}
	if t.Implementation != "" {
		items = append(items, newCompare(operand{variable: true, value: "implementation_name"}, "==", operand{value: t.Implementation}))
	}
	return Marker{e: allOf(items)}
}

// maxProfiles bounds the environments enumerated for one evaluation.
const maxProfiles = 512

// sentinel stands for "a value no literal in the marker mentions".
const sentinel = "\x00"

// profiles enumerates environments that exercise every equivalence class of
// the non-python comparisons in e. Values fixed by the target are used as-is;
// other variables range over the literals they are compared with plus one
// value that matches none of them. The second result is false when the
// enumeration would be too large, in which case free variables stay unknown.
func (t Target) profiles(e expr) ([]Environment, bool) {
	fixed := Environment{}
	if t.Platform != "" {
		maps.Copy(fixed, platformValues[t.Platform])
	}
	if t.Implementation != "" {
		maps.Copy(fixed, implementationValues[t.Implementation])
	}

	domains := map[string][]string{}
	walk(e, func(c *compare) {
		name, literal, _ := c.variable()
		if name == "extra" || isPythonVariable(name) {
			return
		}
		if _, ok := fixed[name]; ok {
			return
		}
		domains[name] = append(domains[name], literal)
	})

	envs := []Environment{fixed}
	for _, name := range slices.Sorted(maps.Keys(domains)) {
		values := append(slices.Compact(slices.Sorted(slices.Values(domains[name]))), sentinel)
		if len(envs)*len(values) > maxProfiles {
			return []Environment{fixed}, false
		}
		next := make([]Environment, 0, len(envs)*len(values))
		for _, env := range envs {
			for _, v := range values {
				p := maps.Clone(env)
				p[name] = v
				next = append(next, p)
			}
		}
		envs = next
	}
	return envs, true
}

func isPythonVariable(name string) bool {
	return name == "python_version" || name == "python_full_version"
}

// EvaluateTarget reports whether m can hold in some environment of t with the
// given extras requested. Comparisons the target does not determine are
// assumed satisfiable, so the answer errs towards true.
func (m Marker) EvaluateTarget(t Target, extras ...string) bool {
	if m.e == nil {
		return true
	}
	python := t.Python.Set()
	envs, _ := t.profiles(m.e)
	for _, env := range envs {
		if !pythonSet(m.e, env, extras).Intersect(python).IsEmpty() {
			return true
		}
	}
	return false
}

// EvaluateAny reports whether m can hold for at least one of targets. An
// empty target list means the universal target.
func (m Marker) EvaluateAny(targets []Target, extras ...string) bool {
	if len(targets) == 0 {
		return m.EvaluateTarget(Target{}, extras...)
	}
	for _, t := range targets {
		if m.EvaluateTarget(t, extras...) {
			return true
		}
	}
	return false
}

// Disjoint reports whether a and b can never hold together in any of the
// targets. An empty target list means the universal target.
func Disjoint(a, b Marker, targets []Target) bool {
	return !And(a, b).EvaluateAny(targets)
}

// pythonSet returns the interpreter versions for which e holds in env.
// Comparisons env leaves open count as true.
func pythonSet(e expr, env Environment, extras []string) pep440.VersionSet {
	switch x := e.(type) {
	case nil:
		return pep440.All()
	case allExpr:
		set := pep440.All()
		for _, y := range x {
			set = set.Intersect(pythonSet(y, env, extras))
		}
		return set
	case anyExpr:
		set := pep440.None()
		for _, y := range x {
			set = set.Union(pythonSet(y, env, extras))
		}
		return set
	case *compare:
		if set, ok := x.pythonSet(); ok {
			return set
		}
		if x.eval(env, extras) == isFalse {
			return pep440.None()
		}
		return pep440.All()
	}
	return pep440.All()
}

var flipped = map[string]string{"<": ">", ">": "<", "<=": ">=", ">=": "<=", "==": "==", "!=": "!="}

// pythonSet translates a python_version or python_full_version comparison
// into the set of full interpreter versions it admits.
func (c *compare) pythonSet() (pep440.VersionSet, bool) {
	name, literal, left := c.variable()
	if !isPythonVariable(name) {
		return pep440.VersionSet{}, false
	}
	op := c.op
	if !left {
		var ok bool
		if op, ok = flipped[op]; !ok {
			return pep440.All(), true
		}
	}
	if op == "in" || op == "not in" || op == "===" {
		return pep440.All(), true
	}

	spec := op + literal
	if name == "python_version" && !strings.HasSuffix(literal, "*") {
		v, err := pep440.Parse(literal)
		if err != nil {
			return pep440.All(), true
		}
		switch op {
		case "==", "!=":
			spec = op + literal + ".*"
		case "<=":
			spec = "<" + bumpLast(v)
		case ">":
			spec = ">=" + bumpLast(v)
		}
	}
	specs, err := pep440.ParseSpecifiers(spec)
	if err != nil {
		return pep440.All(), true
	}
	return specs.Set(), true
}

func bumpLast(v pep440.Version) string {
	release := v.Release()
	release[len(release)-1]++
	parts := make([]string, len(release))
	for i, n := range release {
		parts[i] = strconv.Itoa(n)
	}
	if v.Epoch() != 0 {
		return fmt.Sprintf("%d!%s", v.Epoch(), strings.Join(parts, "."))
	}
	return strings.Join(parts, ".")
}
