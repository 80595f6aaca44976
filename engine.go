// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqctx

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gogama/reqctx/cache"
	"github.com/gogama/reqctx/config"
	"github.com/gogama/reqctx/netlog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
)

// An EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger of the engine and of every context it
// creates. The default is slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRegisterer registers request and cache metrics with reg. By
// default no metrics are registered.
func WithRegisterer(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) {
		e.registerer = reg
	}
}

// An Engine is the process-wide handle from which request contexts are
// created. It owns what contexts share: the HTTPDoer, the logger, the
// metrics and the registry of storage paths in use.
//
// An Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	doer       HTTPDoer
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *engineMetrics

	mu       sync.Mutex
	closed   bool
	contexts map[*Context]struct{}
	storage  map[string]*Context
}

// NewEngine returns an engine which sends requests with doer. If doer
// is nil, each context gets its own *http.Client whose transport is
// configured from the context's Config.
//
// NewEngine panics if metrics cannot be registered, which only happens
// when the registerer already holds a different collector under the
// same name.
func NewEngine(doer HTTPDoer, opts ...EngineOption) *Engine {
	e := &Engine{
		doer:     doer,
		logger:   slog.Default(),
		contexts: make(map[*Context]struct{}),
		storage:  make(map[string]*Context),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	m, err := newEngineMetrics(e.registerer)
	if err != nil {
		panic(fmt.Sprintf("reqctx: register metrics: %v", err))
	}
	e.metrics = m
	return e
}

// NewContext creates a running request context.
//
// It returns a *ConfigurationError if cfg is invalid or if cfg names a
// storage path which another running context of the engine owns, and
// a *LifecycleError if the engine is closed.
func (e *Engine) NewContext(cfg config.Config) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var storage string
	if cfg.CacheMode.Disk() {
		abs, err := filepath.Abs(cfg.StoragePath)
		if err != nil {
			return nil, &ConfigurationError{Field: "storage_path", Reason: err.Error()}
		}
		storage = abs
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, &LifecycleError{Op: "create context", State: "engine closed"}
	}
	if storage != "" {
		if _, taken := e.storage[storage]; taken {
			return nil, &ConfigurationError{Field: "storage_path", Reason: "in use by another running context"}
		}
		if err := os.MkdirAll(storage, 0o755); err != nil {
			return nil, &ConfigurationError{Field: "storage_path", Reason: err.Error()}
		}
	}

	logger := e.logger
	if cfg.Identity != "" {
		logger = logger.With("identity", cfg.Identity)
	}

	c, err := cache.New(cfg.CacheMode, cfg.CacheMaxSize, storage,
		cache.WithLogger(logger),
		cache.WithMetrics(e.registerer))
	if err != nil {
		return nil, fmt.Errorf("reqctx: open cache: %w", err)
	}

	doer := e.doer
	ownDoer := false
	if doer == nil {
		t, err := newTransport(cfg.EnableHTTP2)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("reqctx: configure transport: %w", err)
		}
		doer = &http.Client{Transport: t}
		ownDoer = true
	}

	ctx := &Context{
		engine:      e,
		cfg:         cfg,
		userAgent:   cfg.EffectiveUserAgent(),
		logger:      logger,
		metrics:     e.metrics,
		doer:        doer,
		ownDoer:     ownDoer,
		cache:       c,
		netLog:      netlog.NewSink(cfg.Identity, cfg.NetLogMaxSizeMB),
		storage:     storage,
		state:       Running,
		outstanding: make(map[string]*Request),
	}
	e.contexts[ctx] = struct{}{}
	if storage != "" {
		e.storage[storage] = ctx
	}

	logger.Debug("request context created",
		"cache_mode", cfg.CacheMode.String(),
		"storage_path", storage,
		"user_agent", ctx.userAgent)
	return ctx, nil
}

// Close tears the engine down. It returns ErrContextsRunning while any
// context of the engine is not shut down, and ErrEngineClosed if the
// engine was already closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if len(e.contexts) > 0 {
		return ErrContextsRunning
	}
	e.closed = true
	if ic, ok := e.doer.(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
	e.logger.Debug("engine closed")
	return nil
}

func (e *Engine) release(c *Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.contexts, c)
	if c.storage != "" && e.storage[c.storage] == c {
		delete(e.storage, c.storage)
	}
}

func newTransport(enableHTTP2 bool) (*http.Transport, error) {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if !enableHTTP2 {
		t.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
		return t, nil
	}
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, err
	}
	return t, nil
}
