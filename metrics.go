// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqctx

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	started  prometheus.Counter
	finished *prometheus.CounterVec
	failures *prometheus.CounterVec
	active   prometheus.Gauge
	duration prometheus.Histogram
}

// newEngineMetrics creates the request collectors and, if reg is not
// nil, registers them. Collectors already registered by an earlier
// engine are reused.
func newEngineMetrics(reg prometheus.Registerer) (*engineMetrics, error) {
	m := &engineMetrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reqctx",
			Subsystem: "requests",
			Name:      "started_total",
			Help:      "Total number of requests started",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqctx",
			Subsystem: "requests",
			Name:      "finished_total",
			Help:      "Total number of requests which reached a terminal step, by step",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqctx",
			Subsystem: "requests",
			Name:      "failures_total",
			Help:      "Total number of failed requests, by error category",
		}, []string{"category"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reqctx",
			Subsystem: "requests",
			Name:      "active",
			Help:      "Number of requests created and not yet finished or cancelled",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reqctx",
			Subsystem: "requests",
			Name:      "duration_seconds",
			Help:      "Time from start to terminal step of started requests",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	if m.started, err = register(reg, m.started); err != nil {
		return nil, err
	}
	if m.finished, err = register(reg, m.finished); err != nil {
		return nil, err
	}
	if m.failures, err = register(reg, m.failures); err != nil {
		return nil, err
	}
	if m.active, err = register(reg, m.active); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
