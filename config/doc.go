// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config describes the configuration of a request context:
// user agent, cache mode and size limit, storage path and identity.
//
// Build a Config in code starting from Default, or load one from a YAML
// file with environment overrides:
//
//	cfg, err := config.Load("reqctx.yaml")
//
// A YAML file looks like:
//
//	user_agent: myapp/2.1
//	cache_mode: disk
//	cache_max_size: 1048576
//	storage_path: /var/cache/myapp
//
// Every field may be overridden by a REQCTX_* environment variable
// (REQCTX_USER_AGENT, REQCTX_CACHE_MODE, REQCTX_CACHE_MAX_SIZE,
// REQCTX_STORAGE_PATH, REQCTX_IDENTITY, REQCTX_ENABLE_HTTP2,
// REQCTX_NETLOG_MAX_SIZE_MB), which Load also reads from a .env file.
package config
