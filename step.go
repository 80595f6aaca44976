// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqctx

import "fmt"

// A Step identifies a point in the lifecycle of a Request. Every step
// except Created is delivered to the request's Listener, in this order:
//
//	Started → ResponseStarted → DataReceived* → Succeeded
//
// A request may stop early with Failed or Canceled. Exactly one of the
// terminal steps (Succeeded, Failed, Canceled) is delivered per request.
type Step int

const (
	// Created is the step of a request which has not been started. It
	// is never delivered to a listener.
	Created Step = iota
	// Started is delivered once the request has been started, before
	// the cache is consulted or anything is sent.
	//
	// When Started is delivered, the execution's plan and start time
	// are set.
	Started
	// ResponseStarted is delivered when the status line and headers of
	// the response are available, whether they came from the origin or
	// from the cache.
	//
	// When ResponseStarted is delivered, the execution's response and
	// WasCached fields are set.
	ResponseStarted
	// DataReceived is delivered for each chunk of the response body.
	//
	// When DataReceived is delivered, the execution's Data field refers
	// to the chunk. The bytes stay unchanged until the listener returns,
	// even if the request is cancelled meanwhile. Cancellation requested
	// during a DataReceived delivery takes effect when the listener
	// returns.
	DataReceived
	// Succeeded is delivered once the whole response body has been
	// delivered.
	Succeeded
	// Failed is delivered when the request could not be completed. The
	// execution's error field is set to a *url.Error.
	Failed
	// Canceled is delivered after Cancel was called on the request.
	Canceled
	// stepSentinel provides the total number of steps typed as a Step.
	stepSentinel

	// numSteps provides the total number of steps as an int.
	numSteps = int(stepSentinel)
)

var stepNames = []string{
	"Created",
	"Started",
	"ResponseStarted",
	"DataReceived",
	"Succeeded",
	"Failed",
	"Canceled",
}

// Steps returns a slice containing all steps a request can be in, in
// the order in which they would occur.
func Steps() []Step {
	return []Step{
		Created,
		Started,
		ResponseStarted,
		DataReceived,
		Succeeded,
		Failed,
		Canceled,
	}
}

// Name returns the name of the step.
func (s Step) Name() string {
	if s < 0 || int(s) >= numSteps {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepNames[s]
}

// String returns the name of the step.
func (s Step) String() string {
	return s.Name()
}

// Terminal reports whether no further step can follow s.
func (s Step) Terminal() bool {
	return s == Succeeded || s == Failed || s == Canceled
}
