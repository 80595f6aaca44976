// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqctx

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogama/reqctx/cache"
	"github.com/gogama/reqctx/config"
	"github.com/gogama/reqctx/netlog"
	"github.com/gogama/reqctx/request"
	"github.com/gogama/reqctx/transient"
	"github.com/google/uuid"
)

// A State is the lifecycle state of a Context.
type State int

const (
	// Running contexts accept new requests.
	Running State = iota
	// ShuttingDown contexts are releasing their resources.
	ShuttingDown
	// Shutdown contexts are finished. No operation other than StopNetLog
	// and the read-only accessors does anything.
	Shutdown
)

var stateNames = []string{
	"Running",
	"ShuttingDown",
	"Shutdown",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// A Context creates, tracks and tears down concurrent requests which
// share one configuration, one response cache and one NetLog.
//
// A Context keeps every request it created in its outstanding set
// until the request reaches a terminal step or is cancelled, and
// refuses to shut down while that set is not empty. A listener may
// shut its context down while handling a terminal step, because the
// request has already left the set by then.
//
// Create a Context with Engine.NewContext. A Context is safe for
// concurrent use by multiple goroutines.
type Context struct {
	engine    *Engine
	cfg       config.Config
	userAgent string
	logger    *slog.Logger
	metrics   *engineMetrics
	doer      HTTPDoer
	ownDoer   bool
	cache     cache.Cache
	netLog    *netlog.Sink
	storage   string

	mu          sync.Mutex
	state       State
	outstanding map[string]*Request
}

// CreateRequest creates an unstarted GET request for url. Listener l
// receives the steps of the request, run by ex. If ex is nil,
// GoExecutor is used.
//
// CreateRequest returns a *LifecycleError if the context is not
// running.
func (c *Context) CreateRequest(url string, l Listener, ex Executor) (*Request, error) {
	p, err := request.NewPlan("GET", url, nil)
	if err != nil {
		return nil, err
	}

	return c.CreatePlanRequest(p, l, ex)
}

// CreatePlanRequest creates an unstarted request which executes plan
// p. See CreateRequest.
func (c *Context) CreatePlanRequest(p *request.Plan, l Listener, ex Executor) (*Request, error) {
	if p == nil {
		return nil, errors.New("reqctx: nil plan")
	}
	if l == nil {
		return nil, errors.New("reqctx: nil listener")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if ex == nil {
		ex = GoExecutor
	}

	r := newRequest(c, uuid.NewString(), p, l, ex)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Running {
		return nil, &LifecycleError{Op: "create request", State: c.state.String()}
	}
	c.outstanding[r.id] = r
	c.metrics.active.Inc()
	return r, nil
}

// Shutdown shuts the context down, closing its NetLog and its cache.
// It never waits for requests: if any request is outstanding, it
// returns ErrActiveRequests and the context keeps running. On a context
// which is already shut down, it returns ErrAlreadyShutdown.
func (c *Context) Shutdown() error {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return ErrAlreadyShutdown
	}
	if n := len(c.outstanding); n > 0 {
		c.mu.Unlock()
		c.logger.Debug("shutdown refused", "active_requests", n)
		return ErrActiveRequests
	}
	c.state = ShuttingDown
	c.mu.Unlock()

	c.netLog.Close()
	err := c.cache.Close()
	if ic, ok := c.doer.(IdleCloser); ok && c.ownDoer {
		ic.CloseIdleConnections()
	}
	c.engine.release(c)

	c.mu.Lock()
	c.state = Shutdown
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("failed to close cache", "error", err)
	}
	c.logger.Debug("request context shut down")
	return nil
}

// StartNetLog starts logging request events to the file at path,
// creating or truncating it. While the NetLog is active further calls
// do nothing: the first target stays in use. After Shutdown, no file is
// created or written.
func (c *Context) StartNetLog(path string) error {
	started, err := c.netLog.Start(path)
	if err != nil {
		return err
	}
	if started {
		c.logger.Debug("netlog started", "path", path)
	}
	return nil
}

// StopNetLog stops logging request events. It does nothing if the
// NetLog is not active.
func (c *Context) StopNetLog() {
	if c.netLog.Stop() {
		c.logger.Debug("netlog stopped")
	}
}

// NetLogActive reports whether the NetLog is active.
func (c *Context) NetLogActive() bool {
	return c.netLog.Active()
}

// ActiveRequests returns the number of outstanding requests.
func (c *Context) ActiveRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding)
}

// State returns the lifecycle state of the context.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the configuration the context was created with.
func (c *Context) Config() config.Config {
	return c.cfg
}

// CacheStats returns the statistics of the context's cache.
func (c *Context) CacheStats() *cache.Statistics {
	return c.cache.Stats()
}

// remove takes r out of the outstanding set. It is safe to call more
// than once.
func (c *Context) remove(r *Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.outstanding[r.id]; ok {
		delete(c.outstanding, r.id)
		c.metrics.active.Dec()
	}
}

// observe records a step which is about to be delivered.
func (c *Context) observe(r *Request, step Step) {
	e := r.exec
	event := netlog.Event{
		Source:     r.id,
		Type:       step.Name(),
		URL:        e.Plan.URL.String(),
		StatusCode: e.StatusCode(),
		WasCached:  e.WasCached,
		Bytes:      e.ReceivedBytes,
	}
	if step == Failed {
		event.Err = e.Err
		event.ErrorCategory = transient.Categorize(e.Err).String()
	}
	c.netLog.Record(event)

	if !step.Terminal() {
		return
	}

	c.metrics.finished.WithLabelValues(step.Name()).Inc()
	if e.Started() {
		c.metrics.duration.Observe(e.Duration().Seconds())
	}
	if step == Failed {
		c.metrics.failures.WithLabelValues(event.ErrorCategory).Inc()
		c.logger.Debug("request failed",
			"request_id", r.id,
			"url", event.URL,
			"error", e.Err,
			"category", event.ErrorCategory)
		return
	}
	c.logger.Debug("request finished",
		"request_id", r.id,
		"url", event.URL,
		"step", step.Name(),
		"status_code", event.StatusCode,
		"was_cached", e.WasCached,
		"bytes", e.ReceivedBytes)
}
