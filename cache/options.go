// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a cache using the functional options pattern.
type Option func(*cacheOptions)

type cacheOptions struct {
	registerer prometheus.Registerer
	logger     *slog.Logger
}

// WithMetrics exports the cache statistics as Prometheus metrics
// registered with reg. If reg is nil, this option is ignored.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(opts *cacheOptions) {
		opts.registerer = reg
	}
}

// WithLogger sets the logger used to report problems with stored
// entries, such as unreadable files in a disk cache.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *cacheOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

func applyOptions(options ...Option) *cacheOptions {
	opts := &cacheOptions{
		logger: slog.Default(),
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
