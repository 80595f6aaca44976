// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	stores    prometheus.Counter
	evictions prometheus.Counter
	bytes     prometheus.Gauge
}

// newCacheMetrics registers the cache collectors for origin with reg.
// Collectors already registered by an earlier cache of the same origin
// (for example by a previous request context) are reused.
func newCacheMetrics(reg prometheus.Registerer, origin Origin) (*cacheMetrics, error) {
	labels := prometheus.Labels{"origin": string(origin)}
	counter := func(name, help string) (prometheus.Counter, error) {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "reqctx",
			Subsystem:   "cache",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
					return existing, nil
				}
			}
			return nil, err
		}
		return c, nil
	}

	m := &cacheMetrics{}
	var err error
	if m.hits, err = counter("hits_total", "Total number of cache lookups which found an entry"); err != nil {
		return nil, err
	}
	if m.misses, err = counter("misses_total", "Total number of cache lookups which found nothing"); err != nil {
		return nil, err
	}
	if m.stores, err = counter("stores_total", "Total number of responses stored"); err != nil {
		return nil, err
	}
	if m.evictions, err = counter("evictions_total", "Total number of entries evicted to respect the size limit"); err != nil {
		return nil, err
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "reqctx",
		Subsystem:   "cache",
		Name:        "bytes",
		Help:        "Total body bytes currently cached",
		ConstLabels: labels,
	})
	if err := reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(prometheus.Gauge)
		if !ok {
			return nil, err
		}
		g = existing
	}
	m.bytes = g

	return m, nil
}

func statisticsFor(opts *cacheOptions, origin Origin) (*Statistics, error) {
	if opts.registerer == nil {
		return newStatistics(nil), nil
	}
	m, err := newCacheMetrics(opts.registerer, origin)
	if err != nil {
		return nil, err
	}
	return newStatistics(m), nil
}
