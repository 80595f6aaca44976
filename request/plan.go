// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	urlpkg "net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// A Plan describes the logical HTTP request a reqctx.Request will make:
// which URL to fetch, with which method, headers and body.
//
// The field structure mirrors the client-side subset of http.Request,
// with the body replaced by a pre-buffered []byte. A Plan is read-only
// once the request which uses it has been started.
type Plan struct {
	// Method specifies the HTTP method (GET, POST, PUT, etc.).
	// An empty string means GET.
	Method string

	// URL specifies the URL to access.
	URL *urlpkg.URL

	// Header contains the request header fields to be sent. The
	// request context adds User-Agent unless the plan already sets it.
	Header http.Header

	// Body is the pre-buffered request body to be sent. A nil or empty
	// body indicates no request body should be sent.
	Body []byte

	// Host optionally overrides the Host header to send. If empty, the
	// value of URL.Host will be sent.
	Host string

	// DisableCache bypasses the request context's cache for this plan:
	// the response is neither looked up nor stored.
	DisableCache bool
}

// NewPlan returns a new Plan given a method, URL, and optional body.
//
// Parameter body may be nil (empty body), or it may be a string,
// []byte, io.Reader, or io.ReadCloser. If body is an io.Reader, it is
// read to the end and buffered into a []byte. If body is an
// io.ReadCloser, it is closed after buffering.
func NewPlan(method, url string, body interface{}) (*Plan, error) {
	if method == "" {
		method = "GET"
	}
	if !validMethod(method) {
		return nil, fmt.Errorf("reqctx/request: invalid method %q", method)
	}
	u, err := urlpkg.Parse(url)
	if err != nil {
		return nil, err
	}
	u.Host = removeEmptyPort(u.Host)
	b, err := BodyBytes(body)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Method: method,
		URL:    u,
		Header: make(http.Header),
		Body:   b,
		Host:   u.Host,
	}, nil
}

// Validate reports whether the plan can be sent: it must have a URL
// with a scheme and host, a valid method, and well-formed headers.
func (p *Plan) Validate() error {
	if p.URL == nil {
		return fmt.Errorf("reqctx/request: nil URL")
	}
	if p.URL.Scheme == "" || p.URL.Host == "" {
		return fmt.Errorf("reqctx/request: URL %q is not absolute", p.URL.String())
	}
	if p.Method != "" && !validMethod(p.Method) {
		return fmt.Errorf("reqctx/request: invalid method %q", p.Method)
	}
	for name, values := range p.Header {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("reqctx/request: invalid header name %q", name)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("reqctx/request: invalid value for header %q", name)
			}
		}
	}
	return nil
}

// CacheKey returns the key under which the response to the plan is
// cached. Only GET plans are cacheable; for any other method, or when
// DisableCache is set, CacheKey returns the empty string.
func (p *Plan) CacheKey() string {
	if p.DisableCache || (p.Method != "" && p.Method != "GET") || p.URL == nil {
		return ""
	}
	return p.URL.String()
}

// ToRequest creates an HTTP request corresponding to the given request
// plan. The context of the new request is set to ctx, which may not be
// nil.
func (p *Plan) ToRequest(ctx context.Context) *http.Request {
	r := (&http.Request{
		Method:     p.Method,
		URL:        p.URL,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     p.Header.Clone(),
		Host:       p.Host,
	}).WithContext(ctx)
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	if len(p.Body) > 0 {
		r.Body = io.NopCloser(bytes.NewReader(p.Body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(p.Body)), nil
		}
		r.ContentLength = int64(len(p.Body))
	}
	return r
}

// A method is a token, per RFC 7230 section 3.1.1. The empty string is
// treated as GET and never reaches here.
func validMethod(method string) bool {
	return httpguts.ValidHeaderFieldName(method)
}

// hasPort is lifted verbatim from net/http/http.go
//
// Given a string of the form "host", "host:port", or "[ipv6::address]:port",
// return true if the string includes a port.
func hasPort(s string) bool { return strings.LastIndex(s, ":") > strings.LastIndex(s, "]") }

// removeEmptyPort is lifted verbatim from net/http/http.go
//
// removeEmptyPort strips the empty port in ":port" to ""
// as mandated by RFC 3986 Section 6.2.3.
func removeEmptyPort(host string) string {
	if hasPort(host) {
		return strings.TrimSuffix(host, ":")
	}
	return host
}
