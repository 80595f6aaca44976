// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import "sync/atomic"

// Statistics counts cache operations. All methods are safe for
// concurrent use.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	stores    atomic.Int64
	evictions atomic.Int64
	entries   atomic.Int64
	bytes     atomic.Int64

	metrics *cacheMetrics
}

func newStatistics(m *cacheMetrics) *Statistics {
	return &Statistics{metrics: m}
}

func (s *Statistics) hit() {
	s.hits.Add(1)
	if s.metrics != nil {
		s.metrics.hits.Inc()
	}
}

func (s *Statistics) miss() {
	s.misses.Add(1)
	if s.metrics != nil {
		s.metrics.misses.Inc()
	}
}

func (s *Statistics) store() {
	s.stores.Add(1)
	if s.metrics != nil {
		s.metrics.stores.Inc()
	}
}

func (s *Statistics) eviction() {
	s.evictions.Add(1)
	if s.metrics != nil {
		s.metrics.evictions.Inc()
	}
}

func (s *Statistics) size(entries int, bytes int64) {
	s.entries.Store(int64(entries))
	s.bytes.Store(bytes)
	if s.metrics != nil {
		s.metrics.bytes.Set(float64(bytes))
	}
}

// Hits returns the number of lookups which found an entry.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the number of lookups which found nothing.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Stores returns the number of entries stored.
func (s *Statistics) Stores() int64 { return s.stores.Load() }

// Evictions returns the number of entries evicted to respect the size
// limit.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// Entries returns the entry count after the most recent change.
func (s *Statistics) Entries() int64 { return s.entries.Load() }

// Bytes returns the total body bytes after the most recent change.
func (s *Statistics) Bytes() int64 { return s.bytes.Load() }

// HitRatio returns hits divided by lookups, or zero before the first
// lookup.
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
