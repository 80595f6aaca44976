// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"errors"
	"net/http"
	"time"

	"github.com/gogama/reqctx/config"
)

// ErrClosed is returned by Store on a closed cache.
var ErrClosed = errors.New("reqctx/cache: cache closed")

// A Cache stores complete responses keyed by URL.
//
// Implementations must be safe for concurrent use by multiple
// goroutines. When two goroutines store the same key, the last Store
// wins.
type Cache interface {
	// Lookup returns the entry stored under key, marking it as recently
	// used. The returned entry must be treated as read-only.
	Lookup(key string) (*Entry, bool)

	// Store saves the entry under e.Key, replacing any previous entry
	// and evicting least recently used entries as needed to stay within
	// the size limit. An entry whose body alone exceeds the limit is
	// silently not stored.
	Store(e *Entry) error

	// Len returns the number of stored entries.
	Len() int

	// Size returns the total body bytes of the stored entries.
	Size() int64

	// Stats returns the cache statistics. It is never nil.
	Stats() *Statistics

	// Close releases the cache. Entries of an in-memory cache are lost;
	// entries of a disk cache remain on disk.
	Close() error
}

// An Entry is a cached response.
type Entry struct {
	Key        string      `json:"key"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"-"`
	Origin     Origin      `json:"origin"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Size is the number of bytes an entry counts against the size limit.
func (e *Entry) Size() int64 {
	return int64(len(e.Body))
}

// An Origin tells which cache variant an entry came from.
type Origin string

const (
	// Memory marks entries of an in-memory cache.
	Memory Origin = "memory"
	// Disk marks entries of a disk cache.
	Disk Origin = "disk"
)

// New returns the cache variant for mode. Modes which do no HTTP
// caching (CacheDisabled and CacheDiskNoHTTP) get Disabled. CacheDisk
// keeps its entries in a subdirectory of storagePath.
func New(mode config.CacheMode, maxSize int64, storagePath string, options ...Option) (Cache, error) {
	opts := applyOptions(options...)
	switch mode {
	case config.CacheInMemory:
		return newMemoryCache(maxSize, opts)
	case config.CacheDisk:
		return newDiskCache(storagePath, maxSize, opts)
	default:
		return newDisabled(opts)
	}
}
