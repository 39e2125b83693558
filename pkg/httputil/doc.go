// Package httputil provides retry helpers for index and artifact fetches.
//
// [Retry] re-runs an operation with exponential backoff while it fails with
// a [RetryableError]. Index clients wrap transient failures (connection
// errors, 5xx and 429 responses) with [Retryable]; everything else, such as
// a 404 for an unknown project, is returned on the first attempt:
//
//	err := httputil.Retry(ctx, 3, time.Second, func() error {
//	    return client.fetch(ctx, url)
//	})
//
// Cancelling ctx stops the backoff wait immediately.
package httputil
