// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqctx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogama/reqctx/request"
)

// A Request is one asynchronous HTTP exchange owned by a Context.
//
// A Request is created unstarted by Context.CreateRequest. Start hands
// it to a worker goroutine which consults the cache, sends the plan,
// and delivers each Step to the request's Listener through its
// Executor. The worker waits for each delivery to return before it
// continues.
//
// Cancel may be called at any time from any goroutine, including from
// inside the listener. Unless a DataReceived delivery is in progress,
// cancellation takes effect immediately: the request leaves its
// context's outstanding set before Cancel returns and the exchange is
// aborted. During a DataReceived delivery the borrowed data stays
// valid, and cancellation takes effect when the listener returns.
// Either way the listener then receives Canceled, which is always the
// last step delivered.
type Request struct {
	id       string
	ctx      *Context
	listener Listener
	executor Executor
	exec     *request.Execution
	done     chan struct{}

	mu       sync.Mutex
	step     Step
	started  bool
	canceled bool
	terminal bool
	inData   bool
	abort    context.CancelFunc
}

func newRequest(c *Context, id string, p *request.Plan, l Listener, ex Executor) *Request {
	return &Request{
		id:       id,
		ctx:      c,
		listener: l,
		executor: ex,
		exec:     &request.Execution{Plan: p},
		done:     make(chan struct{}),
	}
}

// ID returns the unique identifier of the request. It is used as the
// source of the request's NetLog events.
func (r *Request) ID() string {
	return r.id
}

// Context returns the request context the request belongs to.
func (r *Request) Context() *Context {
	return r.ctx
}

// Execution returns the execution state of the request. It is the same
// pointer delivered to the listener, and should only be read from the
// listener or after the request is done.
func (r *Request) Execution() *request.Execution {
	return r.exec
}

// Step returns the last step delivered, or being delivered, to the
// listener. It returns Created for an unstarted request.
func (r *Request) Step() Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.step
}

// Start starts the request without waiting for it. It returns a
// *LifecycleError if the request was already started or was cancelled.
func (r *Request) Start() error {
	r.mu.Lock()
	if r.started || r.canceled {
		state := r.step.Name()
		if r.canceled {
			state = Canceled.Name()
		}
		r.mu.Unlock()
		return &LifecycleError{Op: "start request", State: state}
	}
	r.started = true
	ctx, abort := context.WithCancel(context.Background())
	r.abort = abort
	r.mu.Unlock()

	r.ctx.metrics.started.Inc()
	go r.run(ctx)
	return nil
}

// Cancel cancels the request. It does nothing if the request has
// already reached a terminal step or was already cancelled.
//
// Cancelling an unstarted request finishes it: the listener receives
// Canceled and Start can no longer be called.
func (r *Request) Cancel() {
	r.mu.Lock()
	if r.canceled || r.terminal {
		r.mu.Unlock()
		return
	}
	r.canceled = true
	started := r.started
	deferred := r.inData
	abort := r.abort
	r.mu.Unlock()

	if deferred {
		r.ctx.logger.Debug("request cancel deferred until data is returned", "request_id", r.id)
		return
	}

	r.ctx.remove(r)
	if abort != nil {
		abort()
	}
	if !started {
		go r.finish(Canceled)
	}
}

// IsCanceled reports whether Cancel has been called on the request.
func (r *Request) IsCanceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled
}

// IsDone reports whether the listener has returned from the terminal
// step.
func (r *Request) IsDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Done returns a channel which is closed once the listener has returned
// from the terminal step.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request is done.
func (r *Request) Wait() {
	<-r.done
}

// WaitContext blocks until the request is done or ctx is done,
// whichever happens first. It returns ctx.Err() in the latter case.
func (r *Request) WaitContext(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver hands step to the listener and waits for it to return. It
// reports false if the worker must stop: the request was cancelled
// meanwhile, or the listener panicked, in which case the execution
// error is set.
func (r *Request) deliver(step Step) bool {
	r.mu.Lock()
	if r.canceled {
		r.mu.Unlock()
		return false
	}
	r.step = step
	r.inData = step == DataReceived
	r.mu.Unlock()

	r.ctx.observe(r, step)
	err := r.call(step)

	r.mu.Lock()
	r.inData = false
	canceled := r.canceled
	r.mu.Unlock()

	if err != nil {
		r.exec.Err = urlErrorWrap(r.exec.Plan, err)
		return false
	}
	return !canceled
}

// finish delivers the terminal step, unless one was already delivered.
// Cancellation wins over a terminal step not yet delivered.
func (r *Request) finish(step Step) {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		return
	}
	if r.canceled {
		step = Canceled
	}
	r.terminal = true
	r.step = step
	abort := r.abort
	r.mu.Unlock()

	if abort != nil {
		abort()
	}
	e := r.exec
	e.Data = nil
	e.End = time.Now()
	r.ctx.remove(r)
	r.ctx.observe(r, step)
	_ = r.call(step)
	close(r.done)
}

// halt ends a request whose worker stopped early.
func (r *Request) halt() {
	if r.exec.Err != nil {
		r.finish(Failed)
	} else {
		r.finish(Canceled)
	}
}

func (r *Request) call(step Step) (err error) {
	returned := make(chan struct{})
	r.executor.Execute(func() {
		defer close(returned)
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("reqctx: listener panic on %s: %v", step, p)
				r.ctx.logger.Warn("recovered listener panic",
					"request_id", r.id,
					"step", step.Name(),
					"panic", p)
			}
		}()
		r.listener.Handle(step, r, r.exec)
	})
	<-returned
	return
}
