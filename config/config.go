// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultUserAgent is the user agent sent when a Config leaves
// UserAgent empty.
const DefaultUserAgent = "reqctx/1.0"

// DefaultCacheMaxSize is the cache size limit used by Default.
const DefaultCacheMaxSize = 1000 * 1024

// A CacheMode selects the cache layer variant of a request context.
type CacheMode int

const (
	// CacheDisabled never stores or serves cached responses.
	CacheDisabled CacheMode = iota
	// CacheInMemory keeps responses in memory for the lifetime of the
	// request context.
	CacheInMemory
	// CacheDisk keeps responses under StoragePath, where a later request
	// context configured with the same path can find them.
	CacheDisk
	// CacheDiskNoHTTP reserves StoragePath for disk storage but does no
	// HTTP caching: it behaves as CacheDisabled for responses.
	CacheDiskNoHTTP
)

var cacheModeNames = []string{
	"disabled",
	"memory",
	"disk",
	"disk_no_http",
}

// String returns the configuration name of the mode.
func (m CacheMode) String() string {
	if m < 0 || int(m) >= len(cacheModeNames) {
		return fmt.Sprintf("CacheMode(%d)", int(m))
	}
	return cacheModeNames[m]
}

// Disk reports whether the mode requires a storage path.
func (m CacheMode) Disk() bool {
	return m == CacheDisk || m == CacheDiskNoHTTP
}

// HTTPCache reports whether responses are cached under the mode.
func (m CacheMode) HTTPCache() bool {
	return m == CacheInMemory || m == CacheDisk
}

// ParseCacheMode parses a mode name as produced by String.
func ParseCacheMode(s string) (CacheMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range cacheModeNames {
		if s == name {
			return CacheMode(i), nil
		}
	}
	return CacheDisabled, fmt.Errorf("reqctx/config: unknown cache mode %q", s)
}

// UnmarshalYAML lets cache modes be written by name in config files.
func (m *CacheMode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	mode, err := ParseCacheMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// MarshalYAML writes the mode by name.
func (m CacheMode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// Config holds the configuration of one request context.
type Config struct {
	// UserAgent is sent on every request. Empty means DefaultUserAgent.
	UserAgent string `yaml:"user_agent"`

	// CacheMode selects the cache layer.
	CacheMode CacheMode `yaml:"cache_mode"`

	// CacheMaxSize bounds the total bytes of cached response bodies.
	// Zero is valid and means nothing is ever stored.
	CacheMaxSize int64 `yaml:"cache_max_size"`

	// StoragePath is the directory for disk storage. Required when
	// CacheMode is CacheDisk or CacheDiskNoHTTP.
	StoragePath string `yaml:"storage_path"`

	// Identity names the embedding application in logs and NetLog
	// output.
	Identity string `yaml:"identity"`

	// EnableHTTP2 lets the default transport negotiate HTTP/2 over TLS.
	// It has no effect when the engine was given its own HTTPDoer.
	EnableHTTP2 bool `yaml:"enable_http2"`

	// NetLogMaxSizeMB caps a NetLog file. Zero means 100 megabytes.
	NetLogMaxSizeMB int `yaml:"netlog_max_size_mb"`
}

// Default returns an in-memory caching configuration with the default
// user agent.
func Default() Config {
	return Config{
		UserAgent:    DefaultUserAgent,
		CacheMode:    CacheInMemory,
		CacheMaxSize: DefaultCacheMaxSize,
		EnableHTTP2:  true,
	}
}

// An Error reports an invalid configuration field.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return "reqctx/config: " + e.Field + ": " + e.Reason
}

// Validate checks the configuration and returns an *Error describing
// the first invalid field, or nil.
func (c *Config) Validate() error {
	if strings.ContainsAny(c.UserAgent, "\r\n") {
		return &Error{Field: "user_agent", Reason: "must not contain line breaks"}
	}
	if c.CacheMode < CacheDisabled || c.CacheMode > CacheDiskNoHTTP {
		return &Error{Field: "cache_mode", Reason: fmt.Sprintf("unknown mode %d", int(c.CacheMode))}
	}
	if c.CacheMaxSize < 0 {
		return &Error{Field: "cache_max_size", Reason: "must not be negative"}
	}
	if c.CacheMode.Disk() && c.StoragePath == "" {
		return &Error{Field: "storage_path", Reason: "required for cache mode " + c.CacheMode.String()}
	}
	if c.NetLogMaxSizeMB < 0 {
		return &Error{Field: "netlog_max_size_mb", Reason: "must not be negative"}
	}
	return nil
}

// EffectiveUserAgent returns UserAgent, or DefaultUserAgent if it is
// empty.
func (c *Config) EffectiveUserAgent() string {
	if c.UserAgent == "" {
		return DefaultUserAgent
	}
	return c.UserAgent
}

// Load builds a Config starting from Default, then applying the YAML
// file at path (skipped if path is empty), then any REQCTX_* variables
// from the environment or from a .env file in the working directory.
//
// The result is validated.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reqctx/config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("reqctx/config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.UserAgent = getEnvOrDefault("REQCTX_USER_AGENT", cfg.UserAgent)
	if val := os.Getenv("REQCTX_CACHE_MODE"); val != "" {
		mode, err := ParseCacheMode(val)
		if err != nil {
			return err
		}
		cfg.CacheMode = mode
	}
	cfg.CacheMaxSize = getEnvInt64OrDefault("REQCTX_CACHE_MAX_SIZE", cfg.CacheMaxSize)
	cfg.StoragePath = getEnvOrDefault("REQCTX_STORAGE_PATH", cfg.StoragePath)
	cfg.Identity = getEnvOrDefault("REQCTX_IDENTITY", cfg.Identity)
	cfg.EnableHTTP2 = getEnvBoolOrDefault("REQCTX_ENABLE_HTTP2", cfg.EnableHTTP2)
	cfg.NetLogMaxSizeMB = int(getEnvInt64OrDefault("REQCTX_NETLOG_MAX_SIZE_MB", int64(cfg.NetLogMaxSizeMB)))
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt64OrDefault(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
