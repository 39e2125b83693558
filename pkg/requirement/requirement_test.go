package requirement

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	serrors "github.com/matzehuels/stacklock/pkg/errors"
)

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"Foo_Bar":       "foo-bar",
		"foo.bar":       "foo-bar",
		"FOO--bar__baz": "foo-bar-baz",
		"requests":      "requests",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseCanonical(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"A>=1,<3", "a<3,>=1"},
		{"requests[socks, security] >= 2.28 ; python_version >= '3.8'", `requests[security,socks]>=2.28; python_version >= "3.8"`},
		{"Django (>=4.0)", "django>=4.0"},
		{"flask", "flask"},
		{"pkg[Foo.Bar]", "pkg[foo-bar]"},
		{"mylib @ git+https://github.com/org/mylib.git@v1.2.0", "mylib @ git+https://github.com/org/mylib.git@v1.2.0"},
		{"w @ https://files.example.com/w-1.0-py3-none-any.whl#sha256=abc ; sys_platform == 'linux'", `w @ https://files.example.com/w-1.0-py3-none-any.whl#sha256=abc ; sys_platform == "linux"`},
	}
	for _, tt := range tests {
		req, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.input, err)
			continue
		}
		if got := req.String(); got != tt.want {
			t.Errorf("Parse(%q).String() = %q, want %q", tt.input, got, tt.want)
		}
		again, err := Parse(req.String())
		if err != nil || again.String() != req.String() {
			t.Errorf("canonical form of %q does not reparse to itself: %v", tt.input, err)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, input := range []string{
		"",
		">=1.0",
		"pkg>=banana",
		"pkg[bad extra!]",
		"pkg; os_name ===",
		"pkg @ ftp://example.com/pkg.tar.gz",
	} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) should fail", input)
		} else if !serrors.Is(err, serrors.ErrCodeParse) {
			t.Errorf("Parse(%q) error code = %s, want %s", input, serrors.GetCode(err), serrors.ErrCodeParse)
		}
	}
}

func TestIsPinned(t *testing.T) {
	tests := map[string]bool{
		"a==1.0":                            true,
		"a==1.*":                            false,
		"a>=1":                              false,
		"a===foo":                           true,
		"a @ git+https://example.com/a.git": true,
	}
	for input, want := range tests {
		if got := MustParse(input).IsPinned(); got != want {
			t.Errorf("IsPinned(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestWithExtras(t *testing.T) {
	base := MustParse("a[x]>=1")
	got := base.WithExtras("z", "x")
	if got.String() != "a[x,z]>=1" {
		t.Errorf("WithExtras = %q", got)
	}
	if base.String() != "a[x]>=1" {
		t.Errorf("WithExtras mutated receiver: %q", base)
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		input string
		want  Source
	}{
		{
			"git+https://github.com/org/lib.git@main#subdirectory=py",
			Source{Kind: SourceVCS, VCS: "git", URL: "https://github.com/org/lib.git", Ref: "main", Subdirectory: "py"},
		},
		{
			"git+ssh://git@github.com/org/lib.git@v1",
			Source{Kind: SourceVCS, VCS: "git", URL: "ssh://git@github.com/org/lib.git", Ref: "v1"},
		},
		{
			"git+https://github.com/org/lib.git?rev=main#0123abcd",
			Source{Kind: SourceVCS, VCS: "git", URL: "https://github.com/org/lib.git", Ref: "main", Revision: "0123abcd"},
		},
		{
			"hg+https://hg.example.com/repo",
			Source{Kind: SourceVCS, VCS: "hg", URL: "https://hg.example.com/repo"},
		},
		{
			"./libs/core",
			Source{Kind: SourcePath, URL: "./libs/core"},
		},
		{
			"file:///srv/src/pkg",
			Source{Kind: SourcePath, URL: "/srv/src/pkg"},
		},
		{
			"file:///srv/dist/pkg-1.0.tar.gz",
			Source{Kind: SourceURL, URL: "file:///srv/dist/pkg-1.0.tar.gz"},
		},
		{
			"https://example.com/pkg-1.0-py3-none-any.whl#sha256=deadbeef",
			Source{Kind: SourceURL, URL: "https://example.com/pkg-1.0-py3-none-any.whl", Hash: "sha256:deadbeef"},
		},
	}
	for _, tt := range tests {
		got, err := ParseSource(tt.input)
		if err != nil {
			t.Errorf("ParseSource(%q) error: %v", tt.input, err)
			continue
		}
		if *got != tt.want {
			t.Errorf("ParseSource(%q) = %+v, want %+v", tt.input, *got, tt.want)
		}
	}
}

func TestSourceLockURL(t *testing.T) {
	src, err := ParseSource("git+https://github.com/org/lib.git@main")
	if err != nil {
		t.Fatal(err)
	}
	if got := src.LockURL(); got != "git+https://github.com/org/lib.git@main" {
		t.Errorf("LockURL before resolution = %q", got)
	}
	src.Revision = "0123abcd"
	want := "git+https://github.com/org/lib.git?rev=main#0123abcd"
	if got := src.LockURL(); got != want {
		t.Errorf("LockURL = %q, want %q", got, want)
	}
	back, err := ParseSource(want)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(src) || back.Revision != src.Revision {
		t.Errorf("lock URL does not parse back: %+v", back)
	}
}

func TestValidateRoots(t *testing.T) {
	t.Run("duplicate with different source", func(t *testing.T) {
		_, err := ValidateRoots([]*Requirement{
			MustParse("foo>=1"),
			MustParse("foo @ git+https://example.com/foo.git"),
		})
		var dup *DuplicateRootError
		if !errors.As(err, &dup) {
			t.Fatalf("err = %v, want *DuplicateRootError", err)
		}
		if dup.Name != "foo" {
			t.Errorf("Name = %q", dup.Name)
		}
		if !serrors.Is(err, serrors.ErrCodeResolutionConflict) {
			t.Errorf("code = %s, want %s", serrors.GetCode(err), serrors.ErrCodeResolutionConflict)
		}
	})

	t.Run("same source kept", func(t *testing.T) {
		got, err := ValidateRoots([]*Requirement{
			MustParse("foo>=1; sys_platform == 'linux'"),
			MustParse("foo>=2; sys_platform == 'win32'"),
			MustParse("Foo>=1 ; sys_platform == 'linux'"),
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("got %d roots, want 2 after removing the exact duplicate", len(got))
		}
	})
}

func TestParseReader(t *testing.T) {
	input := strings.Join([]string{
		"# pinned deps",
		"--index-url https://pypi.example.com/simple",
		"--extra-index-url=https://extra.example.com/simple",
		"-f ./wheels",
		"requests>=2.28 \\",
		"    --hash=sha256:abc",
		"flask  # web",
		"git+https://github.com/org/lib.git@v1#egg=Lib_Core",
		"--pre",
		"",
	}, "\n")

	f, err := ParseReader(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if f.IndexURL != "https://pypi.example.com/simple" {
		t.Errorf("IndexURL = %q", f.IndexURL)
	}
	if len(f.ExtraIndexURLs) != 1 || f.ExtraIndexURLs[0] != "https://extra.example.com/simple" {
		t.Errorf("ExtraIndexURLs = %v", f.ExtraIndexURLs)
	}
	if len(f.FindLinks) != 1 || f.FindLinks[0] != "./wheels" {
		t.Errorf("FindLinks = %v", f.FindLinks)
	}
	var got []string
	for _, r := range f.Requirements {
		got = append(got, r.String())
	}
	want := []string{"requests>=2.28", "flask", "lib-core @ git+https://github.com/org/lib.git@v1"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("requirements = %q, want %q", got, want)
	}
}

func TestParseFileIncludes(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("requirements.txt", "-r requirements-base.txt\nflask\n")
	write("requirements-base.txt", "click>=8\n")

	f, err := ParseFile(filepath.Join(dir, "requirements.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Requirements) != 2 || f.Requirements[0].Name != "click" || f.Requirements[1].Name != "flask" {
		t.Errorf("requirements = %v", f.Requirements)
	}

	write("a.txt", "-r b.txt\n")
	write("b.txt", "-r a.txt\n")
	if _, err := ParseFile(filepath.Join(dir, "a.txt")); err == nil {
		t.Error("include cycle should fail")
	}
}

func TestIsRequirementsFile(t *testing.T) {
	for name, want := range map[string]bool{
		"requirements.txt":     true,
		"requirements-dev.txt": true,
		"pyproject.toml":       false,
		"constraints.txt":      false,
	} {
		if got := IsRequirementsFile(name); got != want {
			t.Errorf("IsRequirementsFile(%q) = %v, want %v", name, got, want)
		}
	}
}
