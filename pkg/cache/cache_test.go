package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// exercise runs the behaviour every backend must share.
func exercise(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	if _, hit, err := c.Get(ctx, "missing"); err != nil || hit {
		t.Fatalf("Get(missing) = hit %v, err %v", hit, err)
	}
	if err := c.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(ctx, "k", []byte("v2"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data, hit, err := c.Get(ctx, "k")
	if err != nil || !hit || string(data) != "v2" {
		t.Fatalf("Get(k) = %q, %v, %v; want v2", data, hit, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Error("entry survived Delete")
	}
	if err := c.Delete(ctx, "never-set"); err != nil {
		t.Errorf("Delete(never-set) = %v", err)
	}
}

func TestFileCache(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	exercise(t, c)

	ctx := context.Background()
	if err := c.Set(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatal(err)
	}
	n, err := c.Clear(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n < 1 {
		t.Errorf("Clear removed %d keys, want at least 1", n)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("key survived Clear")
	}
}

func TestFileCacheExpiryAndCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := NewFileCache(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Set(ctx, "short", []byte("x"), time.Nanosecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, hit, _ := c.Get(ctx, "short"); hit {
		t.Error("expired entry reported as hit")
	}

	if err := c.Set(ctx, "bad", []byte("x"), 0); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c.path("bad"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, hit, err := c.Get(ctx, "bad"); hit || err != nil {
		t.Errorf("corrupt entry: hit %v err %v, want clean miss", hit, err)
	}
	if _, err := os.Stat(c.path("bad")); !os.IsNotExist(err) {
		t.Error("corrupt entry should be removed")
	}
}

func TestMemoryCache(t *testing.T) {
	exercise(t, NewMemoryCache())
}

func TestMemoryCacheCopiesAndExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'X'
	got, _, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller buffer: %q", got)
	}
	got[1] = 'Y'
	again, _, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value aliased stored buffer: %q", again)
	}

	now = now.Add(2 * time.Minute)
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Error("expired entry reported as hit")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after expiry, want 0", c.Len())
	}
}

func TestNullCache(t *testing.T) {
	ctx := context.Background()
	c := NewNullCache()
	defer c.Close()
	if err := c.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Error("NullCache should not store data")
	}
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("STACKLOCK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("STACKLOCK_TEST_REDIS_URL not set")
	}
	c, err := NewRedisCache(context.Background(), url, "stacklock-test:")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	exercise(t, c)

	ctx := context.Background()
	if err := c.Set(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatal(err)
	}
	n, err := c.Clear(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n < 1 {
		t.Errorf("Clear removed %d keys, want at least 1", n)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("key survived Clear")
	}
}

func TestHash(t *testing.T) {
	h1 := Hash([]byte("hello"))
	if h1 != Hash([]byte("hello")) {
		t.Error("Hash should be deterministic")
	}
	if h1 == Hash([]byte("world")) {
		t.Error("different inputs should produce different hashes")
	}
	if len(h1) != 64 {
		t.Errorf("Hash length = %d, want 64", len(h1))
	}
}

func TestKeyers(t *testing.T) {
	k := NewDefaultKeyer()
	if got := k.HTTPKey("simple", "requests"); got != "http:simple:requests" {
		t.Errorf("HTTPKey = %q", got)
	}
	if k.MetadataKey("a", "a-1.0-py3-none-any.whl") == k.MetadataKey("a", "a-1.1-py3-none-any.whl") {
		t.Error("MetadataKey should distinguish filenames")
	}
	if !strings.HasPrefix(k.RevisionKey("https://x/r.git", "main"), "revision:") {
		t.Error("RevisionKey should be namespaced")
	}

	scoped := NewScopedKeyer(nil, "idx|")
	if got := scoped.HTTPKey("simple", "requests"); got != "idx|http:simple:requests" {
		t.Errorf("scoped HTTPKey = %q", got)
	}
	if !strings.HasPrefix(scoped.MetadataKey("a", "f"), "idx|metadata:") {
		t.Error("scoped MetadataKey should carry the prefix")
	}
}

func TestClearDir(t *testing.T) {
	n, err := ClearDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil || n != 0 {
		t.Fatalf("ClearDir(missing) = %d, %v; want 0, nil", n, err)
	}

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "vcs", "repo", ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"vcs/repo/.git/HEAD", "vcs/repo/setup.py"} {
		if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(f)), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	n, err = ClearDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("ClearDir removed %d files, want 2", n)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("ClearDir left %d entries", len(entries))
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("ClearDir removed the root: %v", err)
	}
}
