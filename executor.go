// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqctx

import (
	"net/http"
)

// An Executor runs the listener deliveries of a request.
//
// Execute must eventually run every task it is given. The request
// waits for each task to finish before handing over the next one, so
// deliveries stay ordered no matter where the executor runs them.
// For the same reason no task can see its own request finish, whatever
// the executor.
type Executor interface {
	Execute(task func())
}

// The ExecutorFunc type is an adapter to allow the use of ordinary
// functions as executors.
type ExecutorFunc func(task func())

// Execute calls f(task).
func (f ExecutorFunc) Execute(task func()) {
	f(task)
}

// GoExecutor runs each task on a new goroutine. It is used when a
// request is created with a nil Executor.
var GoExecutor Executor = ExecutorFunc(func(task func()) {
	go task()
})

// DirectExecutor runs each task inline on the goroutine which drives
// the request.
var DirectExecutor Executor = ExecutorFunc(func(task func()) {
	task()
})

// An HTTPDoer implements a Do method in the same manner as the GoLang
// standard library http.Client from the net/http package.
type HTTPDoer interface {
	// Do sends an HTTP request and returns an HTTP response following
	// policy (such as redirects, cookies, auth) configured on the
	// HTTPDoer.
	//
	// The Do method must follow the contract documented on the GoLang
	// standard library http.Client from the net/http package.
	Do(r *http.Request) (*http.Response, error)
}

// IdleCloser is the interface that wraps the basic CloseIdleConnections
// method.
//
// An HTTPDoer given to NewEngine has its idle connections closed by
// Engine.Close if it implements IdleCloser. A context which built its
// own client closes them on Shutdown.
type IdleCloser interface {
	CloseIdleConnections()
}
