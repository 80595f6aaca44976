// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package request contains the two types which describe a single request
exchange: Plan (what to fetch) and Execution (how the fetch is going).

A Plan looks like a stripped-down client-side http.Request with the body
replaced by a pre-buffered []byte:

	p, err := request.NewPlan("GET", "https://example.com", nil)
	...
	r, err := rc.CreatePlanRequest(p, listener, nil)

An Execution is created by the request engine when a request starts and
is handed to every listener callback of that request. It carries the
response status and headers, whether the response was served from the
cache, the terminal error if any, and, during a DataReceived callback
only, a borrowed view of the response body chunk being delivered.
*/
package request
