// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package testserver runs an origin server for tests of the request
// engine.
package testserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Bodies served by the fixed routes.
const (
	SuccessBody   = "this is a text file\n"
	CacheableBody = "this is a cacheable file\n"
)

// A Server is a started origin server. Its routes are:
//
//	GET  /success.txt          SuccessBody, not cacheable
//	GET  /cacheable.txt        CacheableBody, Cache-Control: max-age=3600
//	GET  /echoheader/{name}    the value of request header {name}
//	GET  /chunked              ?chunks=N&size=M&pause=D, N flushed chunks of M bytes
//	GET  /hang                 headers, then nothing until the client goes away
//	POST /instruct             response described by a JSON Instruction body
type Server struct {
	*httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

// New starts a plain HTTP server.
func New() *Server {
	s := &Server{hits: make(map[string]int)}
	s.Server = httptest.NewServer(s.routes())
	return s
}

// NewTLS starts an HTTPS server. With enableHTTP2 set, it negotiates
// HTTP/2.
func NewTLS(enableHTTP2 bool) *Server {
	s := &Server{hits: make(map[string]int)}
	s.Server = httptest.NewUnstartedServer(s.routes())
	s.Server.EnableHTTP2 = enableHTTP2
	s.Server.StartTLS()
	return s
}

// URL returns the absolute URL of path on the server.
func (s *Server) URL(path string) string {
	return s.Server.URL + path
}

// Hits returns the number of requests the server received for path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) routes() http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(s.countHits)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/success.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, SuccessBody)
	})
	router.Get("/cacheable.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Cache-Control", "max-age=3600")
		_, _ = io.WriteString(w, CacheableBody)
	})
	router.Get("/echoheader/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, r.Header.Get(chi.URLParam(r, "name")))
	})
	router.Get("/chunked", chunked)
	router.Get("/hang", hang)
	router.Post("/instruct", instructed)

	return router
}

func (s *Server) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("origin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func chunked(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chunks, _ := strconv.Atoi(q.Get("chunks"))
	size, _ := strconv.Atoi(q.Get("size"))
	pause, _ := time.ParseDuration(q.Get("pause"))
	if chunks <= 0 || size <= 0 {
		http.Error(w, "chunks and size must be positive", http.StatusBadRequest)
		return
	}

	f := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(chunks*size))
	w.WriteHeader(http.StatusOK)
	f.Flush()

	for i := 0; i < chunks; i++ {
		chunk := make([]byte, size)
		for j := range chunk {
			chunk[j] = 'a' + byte(i%26)
		}
		if _, err := w.Write(chunk); err != nil {
			return
		}
		f.Flush()
		select {
		case <-time.After(pause):
		case <-r.Context().Done():
			return
		}
	}
}

func hang(w http.ResponseWriter, r *http.Request) {
	f := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	<-r.Context().Done()
}

// A BodyChunk is a part of an instructed response body, written after
// a pause.
type BodyChunk struct {
	Pause time.Duration
	Data  []byte
}

// An Instruction tells the /instruct route how to respond.
type Instruction struct {
	HeaderPause time.Duration
	StatusCode  int
	Header      map[string]string
	Body        []BodyChunk
}

// JSON returns the instruction as a request body for /instruct.
func (i *Instruction) JSON() []byte {
	b, err := json.Marshal(i)
	if err != nil {
		panic(err)
	}

	return b
}

func instructed(w http.ResponseWriter, r *http.Request) {
	var i Instruction
	err := json.NewDecoder(r.Body).Decode(&i)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read instruction: %s", err.Error()), http.StatusBadRequest)
		return
	}
	if i.StatusCode == 0 {
		http.Error(w, fmt.Sprintf("bad StatusCode in instruction: %v", i), http.StatusBadRequest)
		return
	}

	f := w.(http.Flusher)

	contentLength := 0
	for _, chunk := range i.Body {
		contentLength += len(chunk.Data)
	}
	header := w.Header()
	for name, value := range i.Header {
		header.Set(name, value)
	}
	header.Set("Content-Length", strconv.Itoa(contentLength))

	if !sleep(r, i.HeaderPause) {
		return
	}
	w.WriteHeader(i.StatusCode)
	f.Flush()

	for _, chunk := range i.Body {
		if !sleep(r, chunk.Pause) {
			return
		}
		if _, err = w.Write(chunk.Data); err != nil {
			return
		}
		f.Flush()
	}
}

func sleep(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-r.Context().Done():
		return false
	}
}
