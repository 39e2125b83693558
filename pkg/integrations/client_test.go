package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/stacklock/pkg/cache"
	serrors "github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/httputil"
)

func testClient(t *testing.T, srv *httptest.Server, backend cache.Cache, headers map[string]string) *Client {
	t.Helper()
	c := NewClient(backend, "test", time.Hour, headers)
	c.SetHTTPClient(srv.Client())
	c.SetRetry(3, time.Millisecond)
	return c
}

func TestClientGetHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := testClient(t, srv, nil, map[string]string{"X-Default": "d", "X-Override": "default"})
	var resp map[string]string
	err := c.GetWithHeaders(context.Background(), srv.URL, map[string]string{"X-Override": "call"}, &resp)
	if err != nil {
		t.Fatalf("GetWithHeaders: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("resp = %v", resp)
	}
	if got.Get("X-Default") != "d" || got.Get("X-Override") != "call" {
		t.Errorf("headers = %v", got)
	}
	if got.Get("User-Agent") != UserAgent {
		t.Errorf("User-Agent = %q", got.Get("User-Agent"))
	}
}

func TestClientStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		wantErr   error
		retryable bool
		code      serrors.Code
	}{
		{http.StatusNotFound, ErrNotFound, false, serrors.ErrCodeNotFound},
		{http.StatusGone, ErrNotFound, false, serrors.ErrCodeNotFound},
		{http.StatusInternalServerError, ErrNetwork, true, serrors.ErrCodeNetwork},
		{http.StatusTooManyRequests, ErrNetwork, true, serrors.ErrCodeNetwork},
		{http.StatusForbidden, ErrNetwork, false, serrors.ErrCodeNetwork},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := testClient(t, srv, nil, nil)
		_, err := c.GetText(context.Background(), srv.URL)
		srv.Close()

		if !errors.Is(err, tt.wantErr) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.wantErr)
		}
		if httputil.IsRetryable(err) != tt.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tt.status, !tt.retryable, tt.retryable)
		}
		if got := serrors.GetCode(err); got != tt.code {
			t.Errorf("status %d: code = %s, want %s", tt.status, got, tt.code)
		}
	}
}

func TestClientCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"value":"fetched"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv, cache.NewMemoryCache(), nil)
	type payload struct {
		Value string `json:"value"`
	}
	load := func(refresh bool) payload {
		var v payload
		err := c.Cached(context.Background(), "key", refresh, &v, func() error {
			return c.Get(context.Background(), srv.URL, &v)
		})
		if err != nil {
			t.Fatalf("Cached: %v", err)
		}
		return v
	}

	if v := load(false); v.Value != "fetched" {
		t.Errorf("first load = %+v", v)
	}
	if v := load(false); v.Value != "fetched" {
		t.Errorf("cached load = %+v", v)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
	load(true)
	if hits.Load() != 2 {
		t.Errorf("refresh should bypass the cache: hits = %d", hits.Load())
	}
}

func TestClientCachedRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`"ok"`))
	}))
	defer srv.Close()

	c := testClient(t, srv, nil, nil)
	var v string
	err := c.Cached(context.Background(), "k", false, &v, func() error {
		return c.Get(context.Background(), srv.URL, &v)
	})
	if err != nil || v != "ok" {
		t.Fatalf("Cached = %q, %v", v, err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestClientCachedFetchError(t *testing.T) {
	c := NewClient(cache.NewMemoryCache(), "test", time.Hour, nil)
	calls := 0
	var v string
	err := c.Cached(context.Background(), "k", false, &v, func() error {
		calls++
		return ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error retried: %d calls", calls)
	}
	if mc := c.Cache().(*cache.MemoryCache); mc.Len() != 0 {
		t.Error("failed fetch must not be cached")
	}
}
