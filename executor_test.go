// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqctx

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/gogama/reqctx/config"
	"github.com/gogama/reqctx/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectExecutor(t *testing.T) {
	ran := false
	DirectExecutor.Execute(func() { ran = true })
	assert.True(t, ran)
}

func TestGoExecutor(t *testing.T) {
	done := make(chan struct{})
	outer := goroutineID()
	var inner uint64
	GoExecutor.Execute(func() {
		inner = goroutineID()
		close(done)
	})
	<-done
	assert.NotEqual(t, outer, inner)
}

func TestExecutorFunc(t *testing.T) {
	var calls int
	ex := ExecutorFunc(func(task func()) {
		calls++
		task()
	})
	ran := false
	ex.Execute(func() { ran = true })
	assert.Equal(t, 1, calls)
	assert.True(t, ran)
}

// goroutineID parses the id out of the stack header "goroutine N [...".
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	var id uint64
	for _, c := range buf[len("goroutine "):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

func TestExecutor_ListenerCannotWaitForOwnRequest(t *testing.T) {
	executors := map[string]Executor{
		"go":     GoExecutor,
		"direct": DirectExecutor,
	}
	for name, ex := range executors {
		t.Run(name, func(t *testing.T) {
			ctx := newTestContext(t, config.Default())
			var waitErr error
			l := ListenerFunc(func(step Step, r *Request, _ *request.Execution) {
				if step != Started {
					return
				}
				wctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
				defer cancel()
				waitErr = r.WaitContext(wctx)
			})
			r, err := ctx.CreateRequest(origin.URL("/success.txt"), l, ex)
			require.NoError(t, err)
			require.NoError(t, r.Start())
			r.Wait()

			assert.ErrorIs(t, waitErr, context.DeadlineExceeded)
			assert.Equal(t, Succeeded, r.Step())
		})
	}
}
