package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/matzehuels/stacklock/pkg/cache"
	"github.com/matzehuels/stacklock/pkg/httputil"
	"github.com/matzehuels/stacklock/pkg/observability"
)

// Client provides shared HTTP functionality for index clients.
// All methods are safe for concurrent use.
type Client struct {
	http      *http.Client
	cache     cache.Cache
	keyer     cache.Keyer
	namespace string
	ttl       time.Duration
	headers   map[string]string

	attempts   int
	retryDelay time.Duration
}

// NewClient creates a Client. Cached values are stored in backend under keys
// built from namespace and expire after ttl. A nil backend disables caching.
// headers are applied to every request and may be nil.
func NewClient(backend cache.Cache, namespace string, ttl time.Duration, headers map[string]string) *Client {
	if backend == nil {
		backend = cache.NewNullCache()
	}
	return &Client{
		http:       NewHTTPClient(),
		cache:      backend,
		keyer:      cache.NewDefaultKeyer(),
		namespace:  namespace,
		ttl:        ttl,
		headers:    headers,
		attempts:   3,
		retryDelay: time.Second,
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(h *http.Client) { c.http = h }

// SetKeyer replaces the cache keyer, typically with a [cache.ScopedKeyer].
func (c *Client) SetKeyer(k cache.Keyer) { c.keyer = k }

// SetRetry configures the retry policy for fetches.
func (c *Client) SetRetry(attempts int, delay time.Duration) {
	c.attempts, c.retryDelay = attempts, delay
}

// Cache returns the backend used for cached responses.
func (c *Client) Cache() cache.Cache { return c.cache }

// Keyer returns the keyer used for cache keys.
func (c *Client) Keyer() cache.Keyer { return c.keyer }

// Cached loads v from the cache, or runs fetch (with retries) to populate v
// and stores the result as JSON. refresh skips the lookup but still stores.
func (c *Client) Cached(ctx context.Context, key string, refresh bool, v any, fetch func() error) error {
	ckey := c.keyer.HTTPKey(c.namespace, key)
	if !refresh {
		if data, ok, _ := c.cache.Get(ctx, ckey); ok && json.Unmarshal(data, v) == nil {
			observability.Cache().OnCacheHit(ctx, c.namespace)
			return nil
		}
		observability.Cache().OnCacheMiss(ctx, c.namespace)
	}
	if err := c.Retry(ctx, fetch); err != nil {
		return err
	}
	if data, err := json.Marshal(v); err == nil {
		if c.cache.Set(ctx, ckey, data, c.ttl) == nil {
			observability.Cache().OnCacheSet(ctx, c.namespace, len(data))
		}
	}
	return nil
}

// Retry runs fn under the client's retry policy.
func (c *Client) Retry(ctx context.Context, fn func() error) error {
	return httputil.Retry(ctx, c.attempts, c.retryDelay, fn)
}

// Get performs a GET and JSON-decodes the response into v.
func (c *Client) Get(ctx context.Context, rawURL string, v any) error {
	return c.GetWithHeaders(ctx, rawURL, nil, v)
}

// GetWithHeaders is [Client.Get] with extra headers that override the
// client defaults.
func (c *Client) GetWithHeaders(ctx context.Context, rawURL string, headers map[string]string, v any) error {
	body, err := c.Open(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrNetwork, rawURL, err)
	}
	return nil
}

// GetBytes performs a GET and returns the whole body.
func (c *Client) GetBytes(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	body, err := c.Open(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, httputil.Retryable(fmt.Errorf("%w: read %s: %v", ErrNetwork, rawURL, err))
	}
	return data, nil
}

// GetText performs a GET and returns the body as a string.
func (c *Client) GetText(ctx context.Context, rawURL string) (string, error) {
	data, err := c.GetBytes(ctx, rawURL, nil)
	return string(data), err
}

// Open performs a GET and returns the response body, which the caller must
// close. Transport failures and 5xx/429 responses are retryable.
func (c *Client) Open(ctx context.Context, rawURL string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	host, path := hostPath(req.URL)
	hooks := observability.HTTP()
	hooks.OnRequest(ctx, req.Method, host, path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, req.Method, host, path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, httputil.Retryable(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	hooks.OnResponse(ctx, req.Method, host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	return resp.Body, nil
}

func hostPath(u *url.URL) (string, string) {
	if u == nil {
		return "", ""
	}
	return u.Host, u.Path
}
