// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqctx

import (
	"github.com/gogama/reqctx/request"
)

// A Listener receives the steps of a Request.
//
// Deliveries to the listener of one request never overlap, and arrive
// in step order. The execution is the same pointer on every delivery.
// A listener which panics fails the request, unless it has already
// reached a terminal step.
//
// The request does not move on until Handle returns, so a listener
// must not wait for its own request to finish: Wait would never return.
type Listener interface {
	Handle(Step, *Request, *request.Execution)
}

// The ListenerFunc type is an adapter to allow the use of ordinary
// functions as listeners. If f is a function with appropriate
// signature, then ListenerFunc(f) is a Listener that calls f.
type ListenerFunc func(Step, *Request, *request.Execution)

// Handle calls f(step, r, e).
func (f ListenerFunc) Handle(step Step, r *Request, e *request.Execution) {
	f(step, r, e)
}

// A ListenerGroup is a Listener made of per-step listener chains.
// Delivering a step to the group runs the chain for that step in
// order. Steps without a chain are ignored.
//
// The zero value is an empty group. A group must not be modified once
// it is in use by a request.
type ListenerGroup struct {
	listeners [][]Listener
}

// PushBack adds a listener to the back of the chain for a step.
func (g *ListenerGroup) PushBack(step Step, l Listener) {
	if l == nil {
		panic("reqctx: nil listener")
	}

	if g.listeners == nil {
		g.listeners = make([][]Listener, numSteps)
	}

	g.listeners[step] = append(g.listeners[step], l)
}

// Handle runs the chain of listeners installed for step.
func (g *ListenerGroup) Handle(step Step, r *Request, e *request.Execution) {
	i := int(step)
	if i < len(g.listeners) {
		for _, l := range g.listeners[i] {
			l.Handle(step, r, e)
		}
	}
}
