// Package cache provides the byte cache shared by index clients and the
// candidate repository.
//
// Entries are opaque byte slices with an optional TTL. Writes replace a whole
// entry; there are no partial updates, so concurrent processes sharing a
// [FileCache] directory or a [RedisCache] never observe torn entries.
//
// Backends:
//
//   - [FileCache]: JSON envelopes under the user cache directory (CLI default)
//   - [RedisCache]: a shared Redis instance (STACKLOCK_REDIS_URL)
//   - [MemoryCache]: process-local, used when no cache directory is usable
//   - [NullCache]: disables caching (--no-cache)
//
// Keys are built by a [Keyer] so that every component names entries the same
// way.
package cache

import (
	"context"
	"time"
)

// Cache stores byte values by key.
type Cache interface {
	// Get returns the value for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores data under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Keyer builds cache keys.
type Keyer interface {
	// HTTPKey names a raw HTTP response body fetched from an index.
	HTTPKey(namespace, key string) string
	// MetadataKey names the core metadata of one distribution file.
	MetadataKey(project, filename string) string
	// RevisionKey names the commit a VCS ref resolved to.
	RevisionKey(repo, ref string) string
}

// DefaultKeyer is the unscoped [Keyer].
type DefaultKeyer struct{}

// NewDefaultKeyer returns a [DefaultKeyer].
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

func (DefaultKeyer) HTTPKey(namespace, key string) string {
	return "http:" + namespace + ":" + key
}

func (DefaultKeyer) MetadataKey(project, filename string) string {
	return hashKey("metadata", project, filename)
}

func (DefaultKeyer) RevisionKey(repo, ref string) string {
	return hashKey("revision", repo, ref)
}
