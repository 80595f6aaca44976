// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqctx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gogama/reqctx/cache"
)

// chunkSize is the capacity of the buffer through which response body
// data is delivered.
const chunkSize = 32 * 1024

// run is the worker of a started request. It is the only goroutine
// which writes to the execution until the request is done.
func (r *Request) run(ctx context.Context) {
	e := r.exec
	e.Start = time.Now()
	if !r.deliver(Started) {
		r.halt()
		return
	}

	key := e.Plan.CacheKey()
	if key != "" {
		if entry, ok := r.ctx.cache.Lookup(key); ok {
			r.serveCached(entry)
			return
		}
	}

	r.sendAndReceive(ctx, key)
}

func (r *Request) sendAndReceive(ctx context.Context, key string) {
	e := r.exec
	p := e.Plan
	e.Request = p.ToRequest(ctx)
	if e.Request.Header.Get("User-Agent") == "" {
		e.Request.Header.Set("User-Agent", r.ctx.userAgent)
	}

	resp, err := r.ctx.doer.Do(e.Request)
	if err != nil {
		r.fail(err)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	e.Response = resp
	if !r.deliver(ResponseStarted) {
		r.halt()
		return
	}

	var body *bytes.Buffer
	if key != "" && r.ctx.cfg.CacheMaxSize > 0 && cache.Cacheable(resp) {
		body = &bytes.Buffer{}
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if body != nil && int64(body.Len()+n) > r.ctx.cfg.CacheMaxSize {
				body = nil
			}
			if body != nil {
				body.Write(buf[:n])
			}
			if !r.deliverData(buf[:n]) {
				r.halt()
				return
			}
		}
		if err == io.EOF {
			break
		} else if err != nil {
			r.fail(err)
			return
		}
	}

	if body != nil {
		r.store(key, resp, body.Bytes())
	}
	r.finish(Succeeded)
}

// serveCached delivers a cached entry the way a response from the
// origin would be delivered.
func (r *Request) serveCached(entry *cache.Entry) {
	e := r.exec
	e.WasCached = true
	e.Response = &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        entry.Header.Clone(),
		Body:          http.NoBody,
		ContentLength: int64(len(entry.Body)),
	}
	if !r.deliver(ResponseStarted) {
		r.halt()
		return
	}

	buf := make([]byte, chunkSize)
	for rest := entry.Body; len(rest) > 0; {
		n := copy(buf, rest)
		rest = rest[n:]
		if !r.deliverData(buf[:n]) {
			r.halt()
			return
		}
	}

	r.finish(Succeeded)
}

func (r *Request) deliverData(chunk []byte) bool {
	e := r.exec
	e.ReceivedBytes += int64(len(chunk))
	e.Data = chunk
	ok := r.deliver(DataReceived)
	e.Data = nil
	return ok
}

func (r *Request) store(key string, resp *http.Response, body []byte) {
	header := resp.Header.Clone()
	// The stored body is already decoded and complete.
	header.Del("Content-Encoding")
	header.Set("Content-Length", strconv.Itoa(len(body)))

	err := r.ctx.cache.Store(&cache.Entry{
		Key:        key,
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	})
	if err != nil {
		r.ctx.logger.Warn("failed to store response",
			"request_id", r.id,
			"url", key,
			"error", err)
	}
}

// fail ends the request with Failed, or with Canceled if the error is
// the consequence of a cancellation.
func (r *Request) fail(err error) {
	if r.IsCanceled() {
		r.finish(Canceled)
		return
	}
	r.exec.Err = urlErrorWrap(r.exec.Plan, err)
	r.finish(Failed)
}
