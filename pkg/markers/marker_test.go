package markers

import (
	"slices"
	"testing"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/pep440"
)

func TestParseCanonical(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`python_version >= "3.8"`, `python_version >= "3.8"`},
		{`sys.platform == 'win32'`, `sys_platform == "win32"`},
		{`os_name == "nt" and python_version < "3.10"`, `os_name == "nt" and python_version < "3.10"`},
		{`python_version < "3.10" and os_name == "nt"`, `os_name == "nt" and python_version < "3.10"`},
		{`(sys_platform == "linux" or sys_platform == "darwin") and extra == "Socks_Proxy"`,
			`extra == "socks-proxy" and (sys_platform == "darwin" or sys_platform == "linux")`},
		{`"3.8" <= python_version`, `"3.8" <= python_version`},
		{`platform_machine not in "arm64 aarch64"`, `platform_machine not in "arm64 aarch64"`},
		{`sys_platform == "linux" or sys_platform == "linux"`, `sys_platform == "linux"`},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.input, err)
			}
			if got := m.String(); got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.input, got, tt.want)
			}
			again, err := Parse(m.String())
			if err != nil || again.String() != m.String() {
				t.Errorf("canonical form does not round-trip: %q -> %q (%v)", m, again, err)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		`python_version >=`,
		`python_version >= "3.8" and`,
		`(python_version >= "3.8"`,
		`unknown_var == "x"`,
		`"a" == "b"`,
		`python_version => "3"`,
		`python_version >= "3.8`,
		`python_version not "3.8"`,
	}
	for _, input := range inputs {
		_, err := Parse(input)
		if err == nil {
			t.Errorf("Parse(%q) succeeded, want error", input)
			continue
		}
		if !errors.Is(err, errors.ErrCodeParse) {
			t.Errorf("Parse(%q) code = %v, want PARSE_ERROR", input, errors.GetCode(err))
		}
	}
}

func TestEvaluate(t *testing.T) {
	env := Environment{
		"python_version":      "3.11",
		"python_full_version": "3.11.4",
		"sys_platform":        "linux",
		"os_name":             "posix",
	}
	tests := []struct {
		marker string
		want   bool
	}{
		{`python_version >= "3.8"`, true},
		{`python_version < "3.10"`, false},
		{`python_full_version >= "3.11.4"`, true},
		{`"3.12" > python_version`, true},
		{`sys_platform == "win32" or os_name == "posix"`, true},
		{`sys_platform == "win32" and os_name == "posix"`, false},
		{`sys_platform in "linux darwin"`, true},
		{`platform_machine == "x86_64"`, true}, // unknown variable is satisfiable
		{`extra == "test"`, false},
	}
	for _, tt := range tests {
		if got := MustParse(tt.marker).Evaluate(env); got != tt.want {
			t.Errorf("Evaluate(%s) = %v, want %v", tt.marker, got, tt.want)
		}
	}
}

func TestEvaluateTarget(t *testing.T) {
	py39plus := Target{Python: pep440.MustParseSpecifiers(">=3.9")}
	linux := Target{Python: pep440.MustParseSpecifiers(">=3.9"), Platform: "linux"}

	tests := []struct {
		marker string
		target Target
		want   bool
	}{
		{`python_version < "3.8"`, py39plus, false},
		{`python_version <= "3.9"`, py39plus, true},
		{`python_version > "3.9"`, py39plus, true},
		{`python_version >= "3.8" and python_version < "3.6"`, Target{}, false},
		{`sys_platform == "win32"`, py39plus, true},
		{`sys_platform == "win32"`, linux, false},
		{`sys_platform == "freebsd"`, Target{}, true},
		{`os_name == "nt" or python_version < "3"`, linux, false},
		{`platform_machine == "arm64"`, linux, true},
		{`implementation_name == "pypy"`, Target{Implementation: "cpython"}, false},
	}
	for _, tt := range tests {
		if got := MustParse(tt.marker).EvaluateTarget(tt.target); got != tt.want {
			t.Errorf("EvaluateTarget(%s, %s) = %v, want %v", tt.marker, tt.target, got, tt.want)
		}
	}
}

func TestExtras(t *testing.T) {
	m := MustParse(`extra == "socks" and python_version >= "3.8"`)
	if got := m.Extras(); !slices.Equal(got, []string{"socks"}) {
		t.Errorf("Extras() = %v", got)
	}
	if !m.EvaluateTarget(Target{}, "socks") || m.EvaluateTarget(Target{}) {
		t.Error("extra gating wrong in EvaluateTarget")
	}

	rest, ok := m.WithExtras([]string{"SOCKS"})
	if !ok || rest.String() != `python_version >= "3.8"` {
		t.Errorf("WithExtras(socks) = %q, %v", rest, ok)
	}
	if _, ok := m.WithExtras(nil); ok {
		t.Error("WithExtras(nil) should be unsatisfiable")
	}
	gated, ok := MustParse(`extra == "a" or extra == "b"`).WithExtras([]string{"b"})
	if !ok || !gated.IsAny() {
		t.Errorf("WithExtras(b) = %q, %v, want always-true", gated, ok)
	}
}

func TestAndOrSimplify(t *testing.T) {
	a := MustParse(`sys_platform == "linux"`)
	b := MustParse(`python_version >= "3.9"`)

	if got := Or(a, And(a, b)).String(); got != a.String() {
		t.Errorf("absorption failed: %q", got)
	}
	if !Or(a, Marker{}).IsAny() {
		t.Error("Or with always-true operand should be always-true")
	}
	if got := And(Marker{}, b).String(); got != b.String() {
		t.Errorf("And with always-true operand = %q", got)
	}
	if And(a, b).String() != And(b, a).String() {
		t.Error("And should be order independent")
	}
}

func TestDisjoint(t *testing.T) {
	win := MustParse(`sys_platform == "win32"`)
	notWin := MustParse(`sys_platform != "win32"`)
	old := MustParse(`python_version < "3.10"`)
	newer := MustParse(`python_version >= "3.10"`)

	if !Disjoint(win, notWin, nil) {
		t.Error("win32 and not win32 should be disjoint")
	}
	if !Disjoint(old, newer, nil) {
		t.Error("python ranges should be disjoint")
	}
	if Disjoint(win, old, nil) {
		t.Error("platform and python markers overlap")
	}
	linuxOnly := []Target{{Platform: "linux"}}
	if !Disjoint(win, old, linuxOnly) {
		t.Error("windows marker cannot hold on a linux-only lock")
	}
}
