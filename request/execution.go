// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"net/http"
	"time"

	"github.com/gogama/reqctx/transient"
)

// An Execution represents the state of a single request exchange.
//
// The request engine creates one Execution per started request and
// hands the same pointer to every listener callback of that request,
// updating it as the exchange progresses. Listeners may attach data
// using SetValue and read it back using Value, but should treat the
// exported fields as read-only.
//
// The Data field is special: it is a borrowed view of an engine-owned
// buffer and is only valid for the duration of a DataReceived callback.
// Listeners that need the bytes afterwards must copy them.
type Execution struct {
	// Plan specifies the HTTP request plan being executed. It is never
	// nil.
	Plan *Plan

	// Start is the time the request was started. It is assigned a
	// non-zero value when the request starts, and remains constant
	// thereafter.
	Start time.Time

	// End is the time the request reached a terminal step. It contains
	// the zero value until then.
	End time.Time

	// Request is the HTTP request sent to the origin. It is nil if the
	// response was served from the cache.
	Request *http.Request

	// Response holds the response status line and headers. It is set
	// when the response starts, whether the response came from the
	// origin or from the cache. Its Body belongs to the engine and must
	// not be read by listeners; the body is delivered through Data.
	Response *http.Response

	// WasCached reports whether the response was served from the
	// request context's cache rather than fetched from the origin.
	WasCached bool

	// Err is the error which failed the request. It is only set when
	// the request fails, and is then always of type *url.Error.
	Err error

	// ReceivedBytes is the number of response body bytes delivered to
	// listeners so far.
	ReceivedBytes int64

	// Data is the chunk of response body being delivered. It is
	// non-nil only during a DataReceived callback, and the bytes it
	// refers to are guaranteed not to change until that callback
	// returns, even if the request is cancelled meanwhile.
	Data []byte

	data context.Context
}

// StatusCode returns the status code of the HTTP response. If there is
// no response yet, 0 is returned.
func (e *Execution) StatusCode() int {
	if e.Response == nil {
		return 0
	}

	return e.Response.StatusCode
}

// Header returns the HTTP response headers. If there is no response
// yet, the nil header is returned.
//
// Note that a nil return value is always safe for read-only operations,
// since http.Header is a map type.
func (e *Execution) Header() http.Header {
	if e.Response == nil {
		var nilHeader http.Header
		return nilHeader
	}

	return e.Response.Header
}

// NegotiatedProtocol returns the protocol of the HTTP response, for
// example "HTTP/1.1" or "HTTP/2.0", or the empty string if there is no
// response yet.
func (e *Execution) NegotiatedProtocol() string {
	if e.Response == nil {
		return ""
	}

	return e.Response.Proto
}

// Duration returns the duration of the execution.
//
// If the execution has not yet started, the duration is zero. If the
// execution has ended, the duration returned is equal to End minus
// Start. Otherwise, it is equal to the current time minus Start.
func (e *Execution) Duration() time.Duration {
	if !e.Started() {
		return time.Duration(0)
	} else if !e.Ended() {
		return time.Since(e.Start)
	}

	return e.End.Sub(e.Start)
}

// Started indicates whether the execution has started.
func (e *Execution) Started() bool {
	return e.Start != (time.Time{})
}

// Ended indicates whether the execution has reached a terminal step.
func (e *Execution) Ended() bool {
	return e.End != (time.Time{})
}

// Timeout indicates whether Err contains a timeout error.
func (e *Execution) Timeout() bool {
	return transient.Categorize(e.Err) == transient.Timeout
}

// SetValue allows listeners to store arbitrary data in the execution.
//
// The key must follow the same rules as the key parameter in
// context.WithValue: it may not be nil, it must be comparable, and it
// should not be of a built-in type.
func (e *Execution) SetValue(key, value interface{}) {
	ctx := e.data
	if ctx == nil {
		ctx = context.Background()
	}

	e.data = context.WithValue(ctx, key, value)
}

// Value returns the data value associated with this execution for key,
// or nil if there is no value associated with key.
func (e *Execution) Value(key interface{}) interface{} {
	ctx := e.data
	if ctx == nil {
		return nil
	}

	return ctx.Value(key)
}
