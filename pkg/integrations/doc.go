// Package integrations provides the HTTP transport shared by package index
// clients.
//
// [Client] wraps net/http with default headers, status classification into
// [ErrNotFound] and [ErrNetwork], retries through [httputil.Retry] and
// response caching through a [cache.Cache]. Index-specific clients embed it;
// see the pypi subpackage for the PEP 691 simple API.
//
// Every request reports to the hooks registered with
// [observability.SetHTTPHooks].
//
// [httputil.Retry]: github.com/matzehuels/stacklock/pkg/httputil.Retry
// [cache.Cache]: github.com/matzehuels/stacklock/pkg/cache.Cache
// [observability.SetHTTPHooks]: github.com/matzehuels/stacklock/pkg/observability.SetHTTPHooks
package integrations
