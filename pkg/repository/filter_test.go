package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/stacklock/pkg/integrations/pypi"
)

func artifact(t *testing.T, filename string, yanked bool, uploaded string) Artifact {
	t.Helper()
	f := pypi.File{Filename: filename, URL: "https://files.example.com/" + filename, Yanked: pypi.Yanked{Yanked: yanked}}
	if uploaded != "" {
		ts, err := time.Parse(time.DateOnly, uploaded)
		require.NoError(t, err)
		f.UploadTime = ts
	}
	a, ok := fileArtifact(f)
	require.True(t, ok, filename)
	return a
}

func TestFiltersGroup(t *testing.T) {
	artifacts := []Artifact{
		artifact(t, "demo-1.0.tar.gz", false, "2023-01-01"),
		artifact(t, "demo-1.0-py3-none-any.whl", true, "2023-01-01"),
		artifact(t, "demo-2.0-py3-none-any.whl", true, "2024-01-01"),
		artifact(t, "demo-3.0-py3-none-any.whl", false, "2025-01-01"),
		artifact(t, "demo-3.0.tar.gz", false, "2025-01-01"),
		artifact(t, "other-1.0.tar.gz", false, ""),
	}
	type version struct {
		v         string
		yanked    bool
		artifacts int
	}
	tests := []struct {
		name    string
		filters Filters
		want    []version
	}{
		{
			name: "no filters",
			want: []version{{"3.0", false, 2}, {"2.0", true, 1}, {"1.0", false, 2}},
		},
		{
			name:    "exclude newer",
			filters: Filters{ExcludeNewer: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
			want:    []version{{"2.0", true, 1}, {"1.0", false, 2}},
		},
		{
			name:    "no binary",
			filters: Filters{NoBinary: []string{AllPackages}},
			want:    []version{{"3.0", false, 1}, {"1.0", false, 1}},
		},
		{
			name:    "only binary",
			filters: Filters{OnlyBinary: []string{"demo"}},
			want:    []version{{"3.0", false, 1}, {"2.0", true, 1}, {"1.0", true, 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []version
			for _, c := range tt.filters.group("demo", "pypi", nil, artifacts) {
				got = append(got, version{c.Version.String(), c.Yanked, len(c.Artifacts)})
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFiltersArtifactOrder(t *testing.T) {
	cands := Filters{}.group("demo", "pypi", nil, []Artifact{
		artifact(t, "demo-1.0.tar.gz", false, ""),
		artifact(t, "demo-1.0-py3-none-any.whl", false, ""),
	})
	require.Len(t, cands, 1)
	assert.Equal(t, "demo-1.0-py3-none-any.whl", cands[0].Artifacts[0].Filename)
}

func TestFiltersAllowsNone(t *testing.T) {
	f := Filters{NoBinary: []string{AllPackages, ":none:"}}
	assert.True(t, f.Allows("demo", artifact(t, "demo-1.0-py3-none-any.whl", false, "")))
}
