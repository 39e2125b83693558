package pep440

import (
	"slices"
	"testing"

	"github.com/matzehuels/stacklock/pkg/errors"
)

func TestParseNormalizes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1.0", "1.0"},
		{"v1.0", "1.0"},
		{"1!2.0", "1!2.0"},
		{"1.0-alpha.1", "1.0a1"},
		{"1.0beta", "1.0b0"},
		{"1.0c2", "1.0rc2"},
		{"1.0.preview3", "1.0rc3"},
		{"1.0-1", "1.0.post1"},
		{"1.0.rev", "1.0.post0"},
		{"1.0-dev", "1.0.dev0"},
		{"1.0RC1.post2.dev3", "1.0rc1.post2.dev3"},
		{"1.0+Ubuntu-1_2", "1.0+ubuntu.1.2"},
		{"  2.31.0  ", "2.31.0"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.input, err)
			}
			if got := v.String(); got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, input := range []string{"", "abc", "1.0.x", "1..0", "1.0+", "1.0 2.0"} {
		_, err := Parse(input)
		if err == nil {
			t.Errorf("Parse(%q) succeeded, want error", input)
			continue
		}
		if !errors.Is(err, errors.ErrCodeParse) {
			t.Errorf("Parse(%q) error code = %v, want PARSE_ERROR", input, errors.GetCode(err))
		}
	}
}

func TestTotalOrder(t *testing.T) {
	ordered := []string{
		"0.9",
		"1.0.dev0",
		"1.0a1.dev0",
		"1.0a1",
		"1.0a2",
		"1.0b1",
		"1.0rc1",
		"1.0",
		"1.0.post1.dev0",
		"1.0.post1",
		"1.1.dev1",
		"1.1",
		"2.0",
		"1!0.1",
	}
	for i := range ordered {
		for j := range ordered {
			a, b := MustParse(ordered[i]), MustParse(ordered[j])
			want := 0
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			if got := a.Compare(b); got != want {
				t.Errorf("Compare(%s, %s) = %d, want %d", a, b, got, want)
			}
		}
	}
}

func TestTrailingZerosAndLocal(t *testing.T) {
	if MustParse("1.0").Compare(MustParse("1.0.0")) != 0 {
		t.Error("1.0 and 1.0.0 should compare equal")
	}
	local, public := MustParse("1.0+cpu"), MustParse("1.0")
	if local.Compare(public) != 0 {
		t.Error("local label must be ignored for ordering")
	}
	if local.Equal(public) {
		t.Error("local label must be preserved for identity")
	}
	if local.Public().String() != "1.0" {
		t.Errorf("Public() = %s, want 1.0", local.Public())
	}
}

func TestPrereleaseFlags(t *testing.T) {
	tests := []struct {
		input      string
		pre, post  bool
		devRelease bool
	}{
		{"1.0", false, false, false},
		{"1.0a1", true, false, false},
		{"1.0.dev1", true, false, true},
		{"1.0.post1", false, true, false},
		{"1.0.post1.dev1", true, true, true},
	}
	for _, tt := range tests {
		v := MustParse(tt.input)
		if v.IsPrerelease() != tt.pre || v.IsPostRelease() != tt.post || v.IsDevRelease() != tt.devRelease {
			t.Errorf("%s: pre=%v post=%v dev=%v", tt.input, v.IsPrerelease(), v.IsPostRelease(), v.IsDevRelease())
		}
	}
}

func TestSort(t *testing.T) {
	vs := []Version{MustParse("2.0"), MustParse("1.0rc1"), MustParse("1.10"), MustParse("1.9")}
	Sort(vs)
	var got []string
	for _, v := range vs {
		got = append(got, v.String())
	}
	want := []string{"1.0rc1", "1.9", "1.10", "2.0"}
	if !slices.Equal(got, want) {
		t.Errorf("Sort() = %v, want %v", got, want)
	}
}

func TestTextRoundTrip(t *testing.T) {
	var v Version
	if err := v.UnmarshalText([]byte("3.0.0b2")); err != nil {
		t.Fatal(err)
	}
	text, _ := v.MarshalText()
	if string(text) != "3.0.0b2" {
		t.Errorf("MarshalText() = %s", text)
	}
}
