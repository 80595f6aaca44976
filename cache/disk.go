// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DiskDir is the subdirectory of the storage path holding the disk
// cache.
const DiskDir = "http_cache"

const (
	metaSuffix = ".json"
	bodySuffix = ".body"
)

// diskCache keeps each entry as two files named after the xxhash of
// the key: a JSON metadata sidecar and the raw body. The metadata file
// is written last, so its presence marks a complete entry. An in-memory
// index of file names and sizes provides LRU ordering; it is rebuilt
// from file modification times when a cache is opened.
type diskCache struct {
	dir     string
	mu      sync.Mutex
	maxSize int64
	size    int64
	index   map[string]*list.Element // file name -> element holding *diskRecord
	order   *list.List               // front is most recently used
	stats   *Statistics
	logger  *slog.Logger
	closed  bool
}

type diskRecord struct {
	name string
	size int64
}

type diskMeta struct {
	Entry
	Size int64 `json:"size"`
}

func newDiskCache(storagePath string, maxSize int64, opts *cacheOptions) (*diskCache, error) {
	if storagePath == "" {
		return nil, fmt.Errorf("reqctx/cache: disk cache needs a storage path")
	}
	dir := filepath.Join(storagePath, DiskDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("reqctx/cache: mkdir %s: %w", dir, err)
	}
	stats, err := statisticsFor(opts, Disk)
	if err != nil {
		return nil, err
	}
	c := &diskCache{
		dir:     dir,
		maxSize: maxSize,
		index:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   stats,
		logger:  opts.logger,
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func fileName(key string) string {
	return strconv.FormatUint(xxhash.Sum64String(key), 16)
}

// load rebuilds the index from the directory, dropping incomplete
// entries and evicting down to the size limit.
func (c *diskCache) load() error {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+metaSuffix))
	if err != nil {
		return fmt.Errorf("reqctx/cache: glob: %w", err)
	}

	type found struct {
		name    string
		size    int64
		modTime time.Time
	}
	records := make([]found, 0, len(matches))
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), metaSuffix)
		meta, err := c.readMeta(name)
		if err != nil {
			c.logger.Warn("dropping unreadable cache entry", "file", path, "error", err)
			c.removeFiles(name)
			continue
		}
		info, err := os.Stat(c.path(name, bodySuffix))
		if err != nil || info.Size() != meta.Size {
			c.logger.Warn("dropping incomplete cache entry", "file", path)
			c.removeFiles(name)
			continue
		}
		metaInfo, err := os.Stat(path)
		if err != nil {
			continue
		}
		records = append(records, found{name: name, size: meta.Size, modTime: metaInfo.ModTime()})
	}
	c.removeOrphanBodies()

	// Oldest first, so that pushing each to the front leaves the most
	// recently used at the front.
	sort.Slice(records, func(i, j int) bool {
		return records[i].modTime.Before(records[j].modTime)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		c.index[r.name] = c.order.PushFront(&diskRecord{name: r.name, size: r.size})
		c.size += r.size
	}
	for c.size > c.maxSize && c.order.Len() > 0 {
		c.evictOldest()
	}
	c.stats.size(len(c.index), c.size)
	return nil
}

func (c *diskCache) removeOrphanBodies() {
	if temps, err := filepath.Glob(filepath.Join(c.dir, ".tmp-*")); err == nil {
		for _, path := range temps {
			_ = os.Remove(path)
		}
	}
	bodies, err := filepath.Glob(filepath.Join(c.dir, "*"+bodySuffix))
	if err != nil {
		return
	}
	for _, path := range bodies {
		name := strings.TrimSuffix(filepath.Base(path), bodySuffix)
		if _, err := os.Stat(c.path(name, metaSuffix)); os.IsNotExist(err) {
			_ = os.Remove(path)
		}
	}
}

func (c *diskCache) Lookup(key string) (*Entry, bool) {
	name := fileName(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.index[name]
	if !ok || c.closed {
		c.stats.miss()
		return nil, false
	}

	meta, err := c.readMeta(name)
	if err != nil || meta.Key != key {
		// A hash collision with another URL is reported as a miss; the
		// entry is left for its own key.
		if err != nil {
			c.logger.Warn("cache entry unreadable", "key", key, "error", err)
			c.dropElement(element)
		}
		c.stats.miss()
		return nil, false
	}
	body, err := os.ReadFile(c.path(name, bodySuffix))
	if err != nil {
		c.logger.Warn("cache body unreadable", "key", key, "error", err)
		c.dropElement(element)
		c.stats.miss()
		return nil, false
	}

	now := time.Now()
	_ = os.Chtimes(c.path(name, metaSuffix), now, now)
	c.order.MoveToFront(element)
	c.stats.hit()

	e := meta.Entry
	e.Body = body
	e.Origin = Disk
	return &e, true
}

func (c *diskCache) Store(e *Entry) error {
	if e.Key == "" {
		return errEmptyKey
	}
	name := fileName(e.Key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.maxSize == 0 || e.Size() > c.maxSize {
		return nil
	}

	if element, ok := c.index[name]; ok {
		c.size -= element.Value.(*diskRecord).size
		delete(c.index, name)
		c.order.Remove(element)
	}
	for c.size+e.Size() > c.maxSize && c.order.Len() > 0 {
		c.evictOldest()
	}

	meta := diskMeta{Entry: *e, Size: e.Size()}
	meta.Origin = Disk
	if meta.StoredAt.IsZero() {
		meta.StoredAt = time.Now()
	}
	b, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return fmt.Errorf("reqctx/cache: marshal meta: %w", err)
	}
	_ = os.Remove(c.path(name, metaSuffix))
	if err := c.writeFile(name+bodySuffix, e.Body); err != nil {
		return err
	}
	if err := c.writeFile(name+metaSuffix, b); err != nil {
		_ = os.Remove(c.path(name, bodySuffix))
		return err
	}

	c.index[name] = c.order.PushFront(&diskRecord{name: name, size: e.Size()})
	c.size += e.Size()
	c.stats.store()
	c.stats.size(len(c.index), c.size)
	return nil
}

func (c *diskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *diskCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *diskCache) Stats() *Statistics {
	return c.stats
}

// Close stops further use of the cache. The files stay on disk.
func (c *diskCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *diskCache) path(name, suffix string) string {
	return filepath.Join(c.dir, name+suffix)
}

func (c *diskCache) readMeta(name string) (*diskMeta, error) {
	b, err := os.ReadFile(c.path(name, metaSuffix))
	if err != nil {
		return nil, err
	}
	var meta diskMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("reqctx/cache: unmarshal meta: %w", err)
	}
	return &meta, nil
}

// writeFile writes through a temporary file and a rename, so readers
// never see a partially written file.
func (c *diskCache) writeFile(base string, data []byte) error {
	f, err := os.CreateTemp(c.dir, ".tmp-"+base+"-*")
	if err != nil {
		return fmt.Errorf("reqctx/cache: create temp: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("reqctx/cache: write %s: %w", base, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("reqctx/cache: close %s: %w", base, err)
	}
	if err := os.Rename(tmp, filepath.Join(c.dir, base)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("reqctx/cache: rename %s: %w", base, err)
	}
	return nil
}

func (c *diskCache) removeFiles(name string) {
	_ = os.Remove(c.path(name, metaSuffix))
	_ = os.Remove(c.path(name, bodySuffix))
}

// Must be called with mu held.
func (c *diskCache) evictOldest() {
	element := c.order.Back()
	if element == nil {
		return
	}
	c.dropElement(element)
	c.stats.eviction()
}

// Must be called with mu held.
func (c *diskCache) dropElement(element *list.Element) {
	r := element.Value.(*diskRecord)
	c.removeFiles(r.name)
	delete(c.index, r.name)
	c.order.Remove(element)
	c.size -= r.size
	c.stats.size(len(c.index), c.size)
}
