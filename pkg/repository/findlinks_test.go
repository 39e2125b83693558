package repository

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/stacklock/pkg/dist/disttest"
	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

func writeFindLinks(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := disttest.WriteWheel(dir, "demo", "1.0", "idna")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	_, err = disttest.WriteWheel(filepath.Join(dir, "nested"), "demo", "2.0")
	require.NoError(t, err)
	_, err = disttest.WriteWheel(dir, "idna", "3.7")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not an artifact"), 0o644))
	return dir
}

func TestFindLinksFindCandidates(t *testing.T) {
	dir := writeFindLinks(t)
	ctx := context.Background()

	for _, location := range []string{dir, "file://" + filepath.ToSlash(dir)} {
		fl, err := NewFindLinks("wheels", location, Options{})
		require.NoError(t, err)

		seq, err := fl.FindCandidates(ctx, requirement.MustParse("demo"))
		require.NoError(t, err)
		cands := Collect(seq)
		require.Len(t, cands, 2)
		assert.Equal(t, []string{"2.0", "1.0"}, versions(Slice(cands)))
		assert.Equal(t, "wheels", cands[0].Index)
		assert.True(t, strings.HasPrefix(cands[0].Artifacts[0].URL, "file://"))
		assert.NotEmpty(t, cands[0].Hashes())

		has, err := fl.Has(ctx, "idna")
		require.NoError(t, err)
		assert.True(t, has)
		has, err = fl.Has(ctx, "requests")
		require.NoError(t, err)
		assert.False(t, has)
	}
}

func TestFindLinksDependencies(t *testing.T) {
	fl, err := NewFindLinks("wheels", writeFindLinks(t), Options{})
	require.NoError(t, err)
	ctx := context.Background()

	seq, err := fl.FindCandidates(ctx, requirement.MustParse("demo==1.0"))
	require.NoError(t, err)
	cands := Collect(seq)
	require.Len(t, cands, 1)

	deps, err := fl.Dependencies(ctx, cands[0])
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "idna", deps[0].Name)
}

func TestFindLinksRejectsRemote(t *testing.T) {
	_, err := NewFindLinks("remote", "https://example.com/wheels/", Options{})
	assert.True(t, errors.Is(err, errors.ErrCodeUnsupported))
}

func TestFindLinksMissingDirectory(t *testing.T) {
	fl, err := NewFindLinks("gone", filepath.Join(t.TempDir(), "missing"), Options{})
	require.NoError(t, err)
	_, err = fl.FindCandidates(context.Background(), requirement.MustParse("demo"))
	assert.True(t, errors.Is(err, errors.ErrCodeSourceUnavailable))
}
