// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transient

import (
	"errors"
	"net"
	"syscall"
)

// A Category is the category of a request failure, as reported by
// Categorize. The request engine records it with every Failed event
// in the NetLog and in the failure metrics.
//
// The category Not means the failure is not recognised as transient:
// fetching the same URL again is unlikely to succeed. All other
// categories name a condition with some prospect of clearing up.
type Category int

const (
	// Not indicates any non-transient error, and the nil error.
	Not Category = iota
	// Timeout indicates a client-side timeout.
	//
	// Categorize returns Timeout if the error or any of its wrapped
	// causes has a Timeout() function that reports true.
	Timeout
	// ConnRefused indicates the remote host refused the connection,
	// corresponding to the POSIX error code ECONNREFUSED. This is what
	// a request to an origin which has gone down usually sees.
	ConnRefused
	// ConnReset indicates the remote host returned an RST packet on a
	// previously active TCP connection (POSIX ECONNRESET).
	ConnReset
	// NameNotResolved indicates the host name in the URL could not be
	// resolved. The DNS server may be temporarily unavailable, so it is
	// classified as transient.
	NameNotResolved
)

var categoryNames = []string{
	"Not",
	"Timeout",
	"ConnRefused",
	"ConnReset",
	"NameNotResolved",
}

// String returns the name of the category.
func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "Unknown"
	}
	return categoryNames[c]
}

// Categorize returns the category of the given error, looking through
// wrapped causes. A nil error produces Not.
//
// Categorize never consults a Temporary() method, as the semantics of
// Temporary() aren't entirely clear.
func Categorize(err error) Category {
	if err == nil {
		return Not
	}

	var hasTimeout hasTimeout
	if errors.As(err, &hasTimeout) && hasTimeout.Timeout() {
		return Timeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NameNotResolved
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if errno == syscall.ECONNRESET {
			return ConnReset
		} else if errno == syscall.ECONNREFUSED {
			return ConnRefused
		}
	}

	return Not
}

type hasTimeout interface {
	Timeout() bool
}
