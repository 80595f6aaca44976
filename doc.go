// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package reqctx provides an asynchronous HTTP request engine organised
around request contexts.

Create one Engine per process, then create a Context from it for each
configuration you need:

	engine := reqctx.NewEngine(nil)
	cfg := config.Default()
	cfg.UserAgent = "my-app/2.1"
	ctx, err := engine.NewContext(cfg)
	...

Requests are created unstarted, then started. Their progress is
delivered as steps to a Listener, on goroutines chosen by an Executor:

	l := reqctx.ListenerFunc(func(step reqctx.Step, r *reqctx.Request, e *request.Execution) {
		switch step {
		case reqctx.DataReceived:
			buf.Write(e.Data) // e.Data is only valid until the listener returns
		case reqctx.Failed:
			log.Printf("failed: %v", e.Err)
		}
	})
	r, err := ctx.CreateRequest("https://www.example.com/", l, reqctx.GoExecutor)
	...
	err = r.Start()
	...
	r.Wait()

A Context tracks every request it created until the request reaches a
terminal step or is cancelled, and will not shut down before then:

	if err := ctx.Shutdown(); errors.Is(err, reqctx.ErrActiveRequests) {
		r.Cancel()
		err = ctx.Shutdown()
	}

Each Context has a response cache selected by config.CacheMode (see
package cache) and a NetLog which records request events to a file
between StartNetLog and StopNetLog (see package netlog).

To install several listeners per step, use a ListenerGroup:

	g := &reqctx.ListenerGroup{}
	g.PushBack(reqctx.Succeeded, onSuccess)
	g.PushBack(reqctx.Failed, onFailure)
	r, err := ctx.CreateRequest(url, g, nil)
*/
package reqctx
