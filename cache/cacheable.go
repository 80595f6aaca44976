// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Cacheable reports whether the origin has signalled that resp may be
// stored for reuse.
//
// Only 200 responses to GET requests qualify. Any of the Cache-Control
// directives no-store, no-cache or private, or a Pragma: no-cache,
// disqualify the response. Otherwise the response is cacheable if
// Cache-Control gives a positive max-age or s-maxage, or if an Expires
// header lies after the response Date (or after now, when Date is
// absent).
//
// Cacheable does not read the body.
func Cacheable(resp *http.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	if resp.Request != nil && resp.Request.Method != "" && resp.Request.Method != http.MethodGet {
		return false
	}

	directives := parseCacheControl(resp.Header.Values("Cache-Control"))
	if _, ok := directives["no-store"]; ok {
		return false
	}
	if _, ok := directives["no-cache"]; ok {
		return false
	}
	if _, ok := directives["private"]; ok {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(resp.Header.Get("Pragma")), "no-cache") {
		return false
	}

	for _, name := range []string{"s-maxage", "max-age"} {
		if v, ok := directives[name]; ok {
			secs, err := strconv.ParseInt(v, 10, 64)
			return err == nil && secs > 0
		}
	}

	if expires := resp.Header.Get("Expires"); expires != "" {
		exp, err := http.ParseTime(expires)
		if err != nil {
			return false
		}
		now := time.Now()
		if date, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
			now = date
		}
		return exp.After(now)
	}

	return false
}

func parseCacheControl(values []string) map[string]string {
	directives := make(map[string]string)
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, arg, _ := strings.Cut(part, "=")
			name = strings.ToLower(strings.TrimSpace(name))
			directives[name] = strings.Trim(strings.TrimSpace(arg), `"`)
		}
	}
	return directives
}
