// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqctx

import (
	"errors"
	"net/url"
	"strings"

	"github.com/gogama/reqctx/config"
	"github.com/gogama/reqctx/request"
)

// ErrActiveRequests is returned by Context.Shutdown while the context
// still has outstanding requests: requests which were created and have
// neither reached a terminal step nor been cancelled.
//
// The message is part of the API and matches the wording existing
// callers test for.
var ErrActiveRequests = errors.New("Cannot shutdown with active requests.")

// ErrAlreadyShutdown is returned by Context.Shutdown on a context which
// is already shut down or shutting down.
var ErrAlreadyShutdown = errors.New("reqctx: context already shut down")

// ErrEngineClosed is returned by a second call to Engine.Close.
var ErrEngineClosed = errors.New("reqctx: engine closed")

// ErrContextsRunning is returned by Engine.Close while any context
// created by the engine has not been shut down.
var ErrContextsRunning = errors.New("reqctx: engine has running contexts")

// A ConfigurationError reports an invalid Config, or a storage path
// already owned by another running context.
type ConfigurationError = config.Error

// A LifecycleError reports an operation attempted in a state which does
// not allow it, such as creating a request on a shut down context or
// starting a request twice.
type LifecycleError struct {
	// Op is the attempted operation, for example "start request".
	Op string
	// State describes the state which refused the operation.
	State string
}

func (e *LifecycleError) Error() string {
	return "reqctx: cannot " + e.Op + " in state " + e.State
}

func urlErrorWrap(p *request.Plan, err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue
	}

	return &url.Error{
		Op:  urlErrorOp(p.Method),
		URL: p.URL.String(),
		Err: err,
	}
}

// urlErrorOp is lifted verbatim from net/http/client.go
func urlErrorOp(method string) string {
	if method == "" {
		return "Get"
	}
	return method[:1] + strings.ToLower(method[1:])
}
