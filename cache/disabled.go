// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import "errors"

var errEmptyKey = errors.New("reqctx/cache: empty key")

// Disabled is the cache of request contexts which do no HTTP caching.
// Every Lookup misses and every Store is discarded.
type Disabled struct {
	stats *Statistics
}

func newDisabled(_ *cacheOptions) (*Disabled, error) {
	return &Disabled{stats: newStatistics(nil)}, nil
}

// Lookup always misses.
func (d *Disabled) Lookup(_ string) (*Entry, bool) {
	d.stats.miss()
	return nil, false
}

// Store does nothing.
func (d *Disabled) Store(_ *Entry) error { return nil }

// Len is always zero.
func (d *Disabled) Len() int { return 0 }

// Size is always zero.
func (d *Disabled) Size() int64 { return 0 }

// Stats counts the misses.
func (d *Disabled) Stats() *Statistics { return d.stats }

// Close does nothing.
func (d *Disabled) Close() error { return nil }
