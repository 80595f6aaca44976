// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package netlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultMaxSizeMB is the size at which a NetLog file is rotated when
// no other limit is configured.
const DefaultMaxSizeMB = 100

// backupTimeFormat is the timestamp lumberjack puts in the names of
// rotated files.
const backupTimeFormat = "2006-01-02T15-04-05.000"

// An Event is one entry of the NetLog timeline.
type Event struct {
	// Source identifies the request the event belongs to.
	Source string
	// Type names the event, for example the request step "Succeeded".
	Type string
	// URL is the URL of the request.
	URL string
	// StatusCode is the HTTP status, if a response has started.
	StatusCode int
	// WasCached reports a response served from the cache.
	WasCached bool
	// Bytes is the number of body bytes received so far.
	Bytes int64
	// ErrorCategory classifies Err, if any.
	ErrorCategory string
	// Err is the failure, if any.
	Err error
}

// A Sink records Events to a file between Start and Stop.
//
// Start and Stop are idempotent and mutually exclusive. While inactive,
// Record drops events. The file is created empty by Start but nothing
// is written to it until the first event, so a Start immediately
// followed by Stop leaves an empty file.
//
// A Sink is safe for concurrent use by multiple goroutines.
type Sink struct {
	identity  string
	maxSizeMB int

	mu     sync.Mutex
	active bool
	closed bool
	path   string
	writer *lumberjack.Logger
	logger *slog.Logger
	events int64
}

// NewSink returns an inactive sink. Identity, if not empty, is added
// to every recorded event. A maxSizeMB of zero means DefaultMaxSizeMB.
func NewSink(identity string, maxSizeMB int) *Sink {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	return &Sink{identity: identity, maxSizeMB: maxSizeMB}
}

// Start begins logging to the file at path, creating or truncating it.
// It reports whether logging was started: a sink which is already
// active keeps its current target and returns false, as does a closed
// sink.
func (s *Sink) Start(path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.active {
		return false, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("reqctx/netlog: open %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("reqctx/netlog: close %s: %w", path, err)
	}

	removeBackups(path)

	// One writer serves every start of the sink. Its mill goroutine
	// lives as long as the writer, and never reads Filename while
	// MaxBackups, MaxAge and Compress are all unset.
	if s.writer == nil {
		s.writer = &lumberjack.Logger{MaxSize: s.maxSizeMB}
	}
	s.writer.Filename = path
	logger := slog.New(slog.NewJSONHandler(s.writer, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if s.identity != "" {
		logger = logger.With("identity", s.identity)
	}
	s.logger = logger
	s.path = path
	s.events = 0
	s.active = true
	return true, nil
}

// Stop ends logging and closes the file. It reports whether the sink
// was active.
func (s *Sink) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop()
}

// Must be called with mu held.
func (s *Sink) stop() bool {
	if !s.active {
		return false
	}
	_ = s.writer.Close()
	s.logger = nil
	s.active = false
	return true
}

// Close stops the sink for good: later calls to Start do nothing.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop()
	s.closed = true
}

// Active reports whether the sink is logging.
func (s *Sink) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Path returns the current target, or the empty string if inactive.
func (s *Sink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ""
	}
	return s.path
}

// Events returns the number of events recorded since the last Start.
func (s *Sink) Events() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Record writes e to the file if the sink is active.
func (s *Sink) Record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}

	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs,
		slog.String("source", e.Source),
		slog.String("url", e.URL),
	)
	if e.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status_code", e.StatusCode))
		attrs = append(attrs, slog.Bool("was_cached", e.WasCached))
	}
	if e.Bytes != 0 {
		attrs = append(attrs, slog.Int64("bytes", e.Bytes))
	}
	if e.Err != nil {
		attrs = append(attrs,
			slog.String("error", e.Err.Error()),
			slog.String("error_category", e.ErrorCategory),
		)
	}
	attrs = append(attrs, slog.Time("recorded_at", time.Now()))

	s.logger.LogAttrs(context.Background(), slog.LevelInfo, e.Type, attrs...)
	s.events++
}

// removeBackups deletes the files rotated out of path by an earlier
// start, which the truncation of path has made stale.
func removeBackups(path string) {
	ext := filepath.Ext(path)
	prefix := strings.TrimSuffix(path, ext) + "-"
	matches, err := filepath.Glob(prefix + "*" + ext)
	if err != nil {
		return
	}
	for _, m := range matches {
		stamp := strings.TrimSuffix(strings.TrimPrefix(m, prefix), ext)
		if _, err := time.Parse(backupTimeFormat, stamp); err == nil {
			_ = os.Remove(m)
		}
	}
}
