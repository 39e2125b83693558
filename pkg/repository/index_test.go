package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/stacklock/pkg/dist"
	"github.com/matzehuels/stacklock/pkg/dist/disttest"
	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/integrations/pypi"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

type release struct {
	version        string
	requires       []string
	requiresPython string
	yanked         bool
	metadata       bool
}

type testIndex struct {
	srv       *httptest.Server
	pageHits  atomic.Int32
	fileHits  atomic.Int32
	metaHits  atomic.Int32
	projects  map[string][]release
	wheels    map[string][]byte
	metadatas map[string]string
}

// newTestIndex serves projects as a PEP 691 JSON index with one wheel per
// release.
func newTestIndex(t *testing.T, projects map[string][]release) *testIndex {
	t.Helper()
	ti := &testIndex{projects: projects, wheels: map[string][]byte{}, metadatas: map[string]string{}}
	for name, rels := range projects {
		for _, r := range rels {
			md := disttest.Metadata(name, r.version, r.requiresPython, r.requires)
			fn := disttest.WheelFilename(name, r.version)
			ti.wheels[fn] = disttest.Wheel(name, r.version, md)
			ti.metadatas[fn] = md
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /simple/{project}/", func(w http.ResponseWriter, r *http.Request) {
		ti.pageHits.Add(1)
		name := r.PathValue("project")
		rels, ok := ti.projects[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		var files []map[string]any
		for _, rel := range rels {
			fn := disttest.WheelFilename(name, rel.version)
			hash := strings.TrimPrefix(dist.SHA256(ti.wheels[fn]), "sha256:")
			files = append(files, map[string]any{
				"filename":        fn,
				"url":             "../../files/" + fn,
				"hashes":          map[string]string{"sha256": hash},
				"requires-python": rel.requiresPython,
				"yanked":          rel.yanked,
				"core-metadata":   rel.metadata,
			})
		}
		w.Header().Set("Content-Type", "application/vnd.pypi.simple.v1+json")
		json.NewEncoder(w).Encode(map[string]any{"name": name, "files": files})
	})
	mux.HandleFunc("GET /files/{file}", func(w http.ResponseWriter, r *http.Request) {
		file := r.PathValue("file")
		if fn, ok := strings.CutSuffix(file, ".metadata"); ok {
			ti.metaHits.Add(1)
			w.Write([]byte(ti.metadatas[fn]))
			return
		}
		data, ok := ti.wheels[file]
		if !ok {
			http.NotFound(w, r)
			return
		}
		ti.fileHits.Add(1)
		w.Write(data)
	})
	ti.srv = httptest.NewServer(mux)
	t.Cleanup(ti.srv.Close)
	return ti
}

func (ti *testIndex) client() *pypi.Client {
	c := pypi.NewClient(nil, time.Hour, ti.srv.URL+"/simple")
	c.SetHTTPClient(ti.srv.Client())
	c.SetRetry(1, time.Millisecond)
	return c
}

func versions(seq Sequence) []string {
	var out []string
	for c := range seq {
		out = append(out, c.Version.String())
	}
	return out
}

func demoIndex(t *testing.T) *testIndex {
	return newTestIndex(t, map[string][]release{
		"demo": {
			{version: "0.9"},
			{version: "1.0", requires: []string{"idna>=2"}},
			{version: "1.5", yanked: true},
			{version: "2.0", requires: []string{"idna>=3", `pysocks; extra == "socks"`}, metadata: true, requiresPython: ">=3.8"},
			{version: "2.1rc1"},
		},
	})
}

func TestIndexFindCandidates(t *testing.T) {
	ti := demoIndex(t)
	idx := NewIndex("pypi", ti.client(), Options{})
	ctx := context.Background()

	tests := []struct {
		req  string
		want []string
	}{
		{"demo>=1.0", []string{"2.1rc1", "2.0", "1.0"}},
		{"demo", []string{"2.1rc1", "2.0", "1.0", "0.9"}},
		{"demo==1.5", []string{"1.5"}},
		{"demo<0.5", nil},
	}
	for _, tt := range tests {
		t.Run(tt.req, func(t *testing.T) {
			seq, err := idx.FindCandidates(ctx, requirement.MustParse(tt.req))
			require.NoError(t, err)
			assert.Equal(t, tt.want, versions(seq))
		})
	}
	assert.Equal(t, int32(1), ti.pageHits.Load(), "project page fetched once per run")
}

func TestIndexCandidateDetails(t *testing.T) {
	ti := demoIndex(t)
	idx := NewIndex("pypi", ti.client(), Options{})

	seq, err := idx.FindCandidates(context.Background(), requirement.MustParse("demo==2.0"))
	require.NoError(t, err)
	cands := Collect(seq)
	require.Len(t, cands, 1)
	c := cands[0]
	assert.Equal(t, "demo==2.0 from pypi", c.Key())
	assert.Equal(t, ">=3.8", c.RequiresPython.String())
	require.Len(t, c.Artifacts, 1)
	assert.True(t, strings.HasPrefix(c.Artifacts[0].URL, ti.srv.URL+"/files/"))
	assert.Equal(t, []string{dist.SHA256(ti.wheels["demo-2.0-py3-none-any.whl"])}, c.Hashes())
	assert.Same(t, idx, c.Origin())
}

func TestIndexUnknownProject(t *testing.T) {
	ti := demoIndex(t)
	idx := NewIndex("pypi", ti.client(), Options{})
	ctx := context.Background()

	seq, err := idx.FindCandidates(ctx, requirement.MustParse("missing"))
	require.NoError(t, err)
	assert.Empty(t, versions(seq))

	has, err := idx.Has(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestIndexRejectsExplicitSource(t *testing.T) {
	ti := demoIndex(t)
	idx := NewIndex("pypi", ti.client(), Options{})
	_, err := idx.FindCandidates(context.Background(), requirement.MustParse("demo @ https://example.com/demo-1.0.tar.gz"))
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestIndexDependencies(t *testing.T) {
	ti := demoIndex(t)
	idx := NewIndex("pypi", ti.client(), Options{})
	ctx := context.Background()

	tests := []struct {
		name      string
		req       string
		want      []string
		fromMeta  int32
		downloads int32
	}{
		{"metadata file", "demo==2.0", []string{"idna>=3", `pysocks; extra == "socks"`}, 1, 0},
		{"wheel download", "demo==1.0", []string{"idna>=2"}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := idx.FindCandidates(ctx, requirement.MustParse(tt.req))
			require.NoError(t, err)
			cands := Collect(seq)
			require.Len(t, cands, 1)

			deps, err := idx.Dependencies(ctx, cands[0])
			require.NoError(t, err)
			var got []string
			for _, d := range deps {
				got = append(got, d.String())
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.fromMeta, ti.metaHits.Load())
			assert.Equal(t, tt.downloads, ti.fileHits.Load())
		})
	}
}
