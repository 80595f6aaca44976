// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package cache implements the response cache of a request context.

Three variants exist, selected by config.CacheMode through New:

• Disabled, for CacheDisabled and CacheDiskNoHTTP: every lookup misses
and every store is dropped;

• an in-memory LRU cache, for CacheInMemory, whose entries disappear
when it is closed; and

• a disk cache, for CacheDisk, which keeps entries under the
"http_cache" subdirectory of the storage path so that a later cache
opened on the same path finds them.

Both storing variants bound the total size of cached bodies and evict
least recently used entries to make room. Whether a response may be
stored at all is decided by Cacheable from the response headers.

Statistics are always collected; WithMetrics additionally exports them
to Prometheus.
*/
package cache
