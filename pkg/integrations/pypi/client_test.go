package pypi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/stacklock/pkg/cache"
	"github.com/matzehuels/stacklock/pkg/integrations"
)

const projectJSON = `{
  "meta": {"api-version": "1.1"},
  "name": "demo",
  "files": [
    {"filename": "demo-1.0-py3-none-any.whl", "url": "../../files/demo-1.0-py3-none-any.whl",
     "hashes": {"sha256": "aa"}, "requires-python": ">=3.8", "core-metadata": {"sha256": "bb"},
     "upload-time": "2024-01-02T03:04:05Z"},
    {"filename": "demo-1.1.tar.gz", "url": "https://files.example.com/demo-1.1.tar.gz",
     "hashes": {"sha256": "cc"}, "yanked": "broken build", "dist-info-metadata": false},
    {"filename": "demo-0.9-py3-none-any.whl", "url": "/files/demo-0.9-py3-none-any.whl",
     "hashes": {}, "yanked": false, "core-metadata": true}
  ],
  "versions": ["0.9", "1.0", "1.1"]
}`

func newServer(t *testing.T, pageHits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/demo/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != acceptJSON {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		pageHits.Add(1)
		w.Header().Set("Content-Type", acceptJSON)
		w.Write([]byte(projectJSON))
	})
	mux.HandleFunc("/files/demo-1.0-py3-none-any.whl.metadata", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Metadata-Version: 2.1\nName: demo\nVersion: 1.0\n"))
	})
	mux.HandleFunc("/files/demo-1.0-py3-none-any.whl", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wheel-bytes"))
	})
	return httptest.NewServer(mux)
}

func newTestClient(srv *httptest.Server, backend cache.Cache) *Client {
	c := NewClient(backend, time.Hour, srv.URL+"/simple/")
	c.SetHTTPClient(srv.Client())
	c.SetRetry(2, time.Millisecond)
	return c
}

func TestProject(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	defer srv.Close()
	c := newTestClient(srv, cache.NewMemoryCache())

	p, err := c.Project(context.Background(), "demo", false)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "demo" || len(p.Files) != 3 {
		t.Fatalf("project = %+v", p)
	}

	whl := p.Files[0]
	if whl.URL != srv.URL+"/files/demo-1.0-py3-none-any.whl" {
		t.Errorf("relative URL not resolved: %q", whl.URL)
	}
	if !whl.HasMetadata() || whl.CoreMetadata.Hashes["sha256"] != "bb" {
		t.Errorf("core-metadata = %+v", whl.CoreMetadata)
	}
	if whl.RequiresPython != ">=3.8" || whl.UploadTime.Year() != 2024 {
		t.Errorf("file = %+v", whl)
	}

	sdist := p.Files[1]
	if !sdist.Yanked.Yanked || sdist.Yanked.Reason != "broken build" {
		t.Errorf("yanked = %+v", sdist.Yanked)
	}
	if sdist.HasMetadata() {
		t.Error("sdist should not advertise metadata")
	}
	if p.Files[2].Yanked.Yanked || !p.Files[2].HasMetadata() {
		t.Errorf("boolean forms not decoded: %+v", p.Files[2])
	}

	if _, err := c.Project(context.Background(), "demo", false); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("project page fetched %d times, want 1 (cached)", hits.Load())
	}
}

func TestProjectCacheRoundTripKeepsWireForms(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	defer srv.Close()
	backend := cache.NewMemoryCache()

	first, err := newTestClient(srv, backend).Project(context.Background(), "demo", false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := newTestClient(srv, backend).Project(context.Background(), "demo", false)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Errorf("cached project differs:\n%s\n%s", a, b)
	}
}

func TestProjectNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := newTestClient(srv, nil)

	_, err := c.Project(context.Background(), "missing", false)
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMetadataAndDownload(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	defer srv.Close()
	c := newTestClient(srv, cache.NewMemoryCache())
	ctx := context.Background()

	p, err := c.Project(ctx, "demo", false)
	if err != nil {
		t.Fatal(err)
	}
	md, err := c.Metadata(ctx, "demo", p.Files[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(md, []byte("Name: demo")) {
		t.Errorf("metadata = %q", md)
	}
	if _, err := c.Metadata(ctx, "demo", p.Files[1]); !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("Metadata without core-metadata: err = %v", err)
	}

	var buf bytes.Buffer
	if err := c.Download(ctx, p.Files[0], &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "wheel-bytes" {
		t.Errorf("download = %q", buf.String())
	}
}

func TestMetadataURL(t *testing.T) {
	got := metadataURL("https://files.example.com/a-1.0-py3-none-any.whl#sha256=abc")
	if got != "https://files.example.com/a-1.0-py3-none-any.whl.metadata" {
		t.Errorf("metadataURL = %q", got)
	}
}
