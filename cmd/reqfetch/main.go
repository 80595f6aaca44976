// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command reqfetch fetches URLs through a request context and writes
// the response bodies to standard output.
//
// Usage:
//
//	reqfetch [-config file.yaml] [-log file] [-log-level level] [-netlog file] URL...
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gogama/reqctx"
	"github.com/gogama/reqctx/config"
	"github.com/gogama/reqctx/request"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	logFile := flag.String("log", "", "log file (default: standard error only)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	netLogPath := flag.String("netlog", "", "NetLog output file")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := setupLogger(*logLevel, *logFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger.Info("config loaded",
		"user_agent", cfg.EffectiveUserAgent(),
		"cache_mode", cfg.CacheMode.String(),
		"cache_max_size", cfg.CacheMaxSize,
		"storage_path", cfg.StoragePath,
		"enable_http2", cfg.EnableHTTP2,
	)

	engine := reqctx.NewEngine(nil, reqctx.WithLogger(logger))
	ctx, err := engine.NewContext(cfg)
	if err != nil {
		logger.Error("failed to create request context", "error", err)
		os.Exit(1)
	}

	if *netLogPath != "" {
		if err = ctx.StartNetLog(*netLogPath); err != nil {
			logger.Error("failed to start netlog", "path", *netLogPath, "error", err)
		}
	}

	failed := fetchAll(ctx, logger, flag.Args())

	ctx.StopNetLog()
	if err = ctx.Shutdown(); err != nil {
		logger.Error("request context shutdown failed", "error", err)
		failed = true
	}
	if err = engine.Close(); err != nil {
		logger.Error("engine close failed", "error", err)
	}
	if failed {
		os.Exit(1)
	}
}

// fetchAll fetches urls one after the other, writing each body to
// stdout. An interrupt cancels the request in progress and skips the
// rest.
func fetchAll(ctx *reqctx.Context, logger *slog.Logger, urls []string) (failed bool) {
	var mu sync.Mutex
	var current *reqctx.Request
	interrupted := false

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			mu.Lock()
			interrupted = true
			if current != nil {
				current.Cancel()
			}
			mu.Unlock()
		}
	}()

	listener := reqctx.ListenerFunc(func(step reqctx.Step, r *reqctx.Request, e *request.Execution) {
		switch step {
		case reqctx.DataReceived:
			_, _ = os.Stdout.Write(e.Data)
		case reqctx.Succeeded:
			logger.Info("fetched",
				"url", e.Plan.URL.String(),
				"status", e.StatusCode(),
				"bytes", e.ReceivedBytes,
				"cached", e.WasCached,
				"protocol", e.NegotiatedProtocol(),
				"duration_ms", e.Duration().Milliseconds(),
			)
		case reqctx.Failed:
			logger.Error("fetch failed", "url", e.Plan.URL.String(), "error", e.Err)
		case reqctx.Canceled:
			logger.Warn("fetch canceled", "url", e.Plan.URL.String())
		}
	})

	for _, u := range urls {
		r, err := ctx.CreateRequest(u, listener, reqctx.DirectExecutor)
		if err != nil {
			logger.Error("bad request", "url", u, "error", err)
			failed = true
			continue
		}

		mu.Lock()
		if interrupted {
			mu.Unlock()
			r.Cancel()
			r.Wait()
			failed = true
			continue
		}
		current = r
		mu.Unlock()

		if err = r.Start(); err != nil {
			logger.Error("failed to start request", "url", u, "error", err)
		}
		r.Wait()

		mu.Lock()
		current = nil
		mu.Unlock()

		if r.Step() != reqctx.Succeeded {
			failed = true
		}
	}

	return
}

func setupLogger(level, filename string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if filename != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    25,
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		})
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel}))
	slog.SetDefault(logger)
	return logger
}

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] URL...\n", os.Args[0])
		flag.PrintDefaults()
	}
}
