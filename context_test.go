// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqctx

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gogama/reqctx/config"
	"github.com/gogama/reqctx/internal/testserver"
	"github.com/gogama/reqctx/request"
	"github.com/gogama/reqctx/transient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_Shutdown(t *testing.T) {
	t.Run("refused with active requests", testContextShutdownActive)
	t.Run("refused with unstarted request", testContextShutdownUnstarted)
	t.Run("twice", testContextShutdownTwice)
	t.Run("from terminal step", testContextShutdownFromTerminalStep)
	t.Run("after failure", testContextShutdownAfterFailure)
}

func testContextShutdownActive(t *testing.T) {
	ctx := newTestContext(t, config.Default())
	responded := make(chan struct{})
	rec := &recorder{hook: func(step Step, _ *Request, _ *request.Execution) {
		if step == ResponseStarted {
			close(responded)
		}
	}}
	r, err := ctx.CreateRequest(origin.URL("/hang"), rec, nil)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	<-responded

	err = ctx.Shutdown()
	require.Error(t, err)
	assert.Equal(t, "Cannot shutdown with active requests.", err.Error())
	assert.ErrorIs(t, err, ErrActiveRequests)
	assert.Equal(t, Running, ctx.State())
	assert.Equal(t, 1, ctx.ActiveRequests())

	r.Cancel()
	assert.True(t, r.IsCanceled())
	assert.Equal(t, 0, ctx.ActiveRequests())
	require.NoError(t, ctx.Shutdown())
	assert.Equal(t, Shutdown, ctx.State())

	r.Wait()
	steps := rec.Steps()
	assert.Equal(t, Canceled, steps[len(steps)-1])
	assert.Equal(t, 1, terminals(steps))
	assert.Equal(t, Canceled, r.Step())
}

func testContextShutdownUnstarted(t *testing.T) {
	ctx := newTestContext(t, config.Default())
	rec := &recorder{}
	r, err := ctx.CreateRequest(origin.URL("/success.txt"), rec, nil)
	require.NoError(t, err)
	assert.Equal(t, Created, r.Step())

	assert.ErrorIs(t, ctx.Shutdown(), ErrActiveRequests)

	r.Cancel()
	require.NoError(t, ctx.Shutdown())
	r.Wait()
	assert.Equal(t, []Step{Canceled}, rec.Steps())

	var le *LifecycleError
	assert.ErrorAs(t, r.Start(), &le)
}

func testContextShutdownTwice(t *testing.T) {
	ctx := newTestContext(t, config.Default())
	require.NoError(t, ctx.Shutdown())
	assert.ErrorIs(t, ctx.Shutdown(), ErrAlreadyShutdown)

	_, err := ctx.CreateRequest(origin.URL("/success.txt"), &recorder{}, nil)
	var le *LifecycleError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "Shutdown", le.State)
}

func testContextShutdownFromTerminalStep(t *testing.T) {
	ctx := newTestContext(t, config.Default())
	var shutdownErr error
	rec := &recorder{hook: func(step Step, _ *Request, _ *request.Execution) {
		if step == Succeeded {
			shutdownErr = ctx.Shutdown()
		}
	}}
	r, err := ctx.CreateRequest(origin.URL("/success.txt"), rec, nil)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	r.Wait()

	assert.NoError(t, shutdownErr)
	assert.Equal(t, Shutdown, ctx.State())
}

func testContextShutdownAfterFailure(t *testing.T) {
	ctx := newTestContext(t, config.Default())
	rec, r := fetch(t, ctx, unreachableURL(t))

	assert.Equal(t, []Step{Started, Failed}, rec.Steps())
	e := r.Execution()
	var ue *url.Error
	require.ErrorAs(t, e.Err, &ue)
	assert.Equal(t, transient.ConnRefused, transient.Categorize(e.Err))
	assert.Equal(t, 0, ctx.ActiveRequests())
	assert.NoError(t, ctx.Shutdown())
}

func TestContext_CancelDuringDataReceived(t *testing.T) {
	for _, ex := range []struct {
		name     string
		executor Executor
	}{
		{"GoExecutor", GoExecutor},
		{"DirectExecutor", DirectExecutor},
	} {
		t.Run(ex.name, func(t *testing.T) {
			ctx := newTestContext(t, config.Default())
			var once sync.Once
			rec := &recorder{}
			rec.hook = func(step Step, r *Request, e *request.Execution) {
				if step != DataReceived {
					return
				}
				once.Do(func() {
					snapshot := bytes.Clone(e.Data)
					first := &e.Data[0]

					r.Cancel()
					assert.True(t, r.IsCanceled())
					assert.Equal(t, 1, ctx.ActiveRequests())
					assert.ErrorIs(t, ctx.Shutdown(), ErrActiveRequests)

					time.Sleep(50 * time.Millisecond)
					assert.Equal(t, snapshot, e.Data)
					assert.Same(t, first, &e.Data[0])
				})
			}
			r, err := ctx.CreateRequest(origin.URL("/chunked?chunks=8&size=1024&pause=5ms"), rec, ex.executor)
			require.NoError(t, err)
			require.NoError(t, r.Start())
			r.Wait()

			assert.Equal(t, []Step{Started, ResponseStarted, DataReceived, Canceled}, rec.Steps())
			assert.Nil(t, r.Execution().Data)
			assert.NoError(t, r.Execution().Err)
			assert.Equal(t, 0, ctx.ActiveRequests())
			assert.NoError(t, ctx.Shutdown())
		})
	}
}

func TestContext_Cancel(t *testing.T) {
	t.Run("during non-data step", func(t *testing.T) {
		ctx := newTestContext(t, config.Default())
		rec := &recorder{}
		rec.hook = func(step Step, r *Request, _ *request.Execution) {
			if step == Started {
				r.Cancel()
				assert.Equal(t, 0, ctx.ActiveRequests())
			}
		}
		r, err := ctx.CreateRequest(origin.URL("/success.txt"), rec, nil)
		require.NoError(t, err)
		require.NoError(t, r.Start())
		r.Wait()
		assert.Equal(t, []Step{Started, Canceled}, rec.Steps())
	})
	t.Run("after terminal", func(t *testing.T) {
		ctx := newTestContext(t, config.Default())
		rec, r := fetch(t, ctx, origin.URL("/success.txt"))
		r.Cancel()
		assert.False(t, r.IsCanceled())
		assert.Equal(t, Succeeded, r.Step())
		assert.Equal(t, 1, terminals(rec.Steps()))
	})
	t.Run("twice", func(t *testing.T) {
		ctx := newTestContext(t, config.Default())
		rec := &recorder{}
		r, err := ctx.CreateRequest(origin.URL("/hang"), rec, nil)
		require.NoError(t, err)
		require.NoError(t, r.Start())
		r.Cancel()
		r.Cancel()
		r.Wait()
		assert.Equal(t, 1, terminals(rec.Steps()))
		assert.Equal(t, Canceled, r.Step())
	})
}

func TestContext_Fetch(t *testing.T) {
	ctx := newTestContext(t, config.Default())

	rec, r := fetch(t, ctx, origin.URL("/chunked?chunks=5&size=10000&pause=1ms"))

	steps := rec.Steps()
	require.True(t, len(steps) >= 4)
	assert.Equal(t, Started, steps[0])
	assert.Equal(t, ResponseStarted, steps[1])
	for _, step := range steps[2 : len(steps)-1] {
		assert.Equal(t, DataReceived, step)
	}
	assert.Equal(t, Succeeded, steps[len(steps)-1])
	assert.Len(t, rec.Body(), 50000)
	e := r.Execution()
	assert.Equal(t, 200, e.StatusCode())
	assert.Equal(t, int64(50000), e.ReceivedBytes)
	assert.False(t, e.WasCached)
	assert.True(t, e.Ended())
	assert.True(t, r.IsDone())
	assert.NotEmpty(t, r.ID())
	assert.Same(t, ctx, r.Context())
}

func TestContext_Concurrent(t *testing.T) {
	ctx := newTestContext(t, config.Default())
	const n = 20

	var wg sync.WaitGroup
	recs := make([]*recorder, n)
	for i := 0; i < n; i++ {
		recs[i] = &recorder{}
		r, err := ctx.CreateRequest(origin.URL("/success.txt"), recs[i], nil)
		require.NoError(t, err)
		require.NoError(t, r.Start())
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Wait()
		}()
	}
	wg.Wait()

	for _, rec := range recs {
		assert.Equal(t, testserver.SuccessBody, rec.Body())
		assert.Equal(t, 1, terminals(rec.Steps()))
	}
	assert.Equal(t, 0, ctx.ActiveRequests())
	assert.NoError(t, ctx.Shutdown())
}

func TestContext_Cache(t *testing.T) {
	testCases := []struct {
		name     string
		mode     config.CacheMode
		disk     bool
		expected bool
	}{
		{name: "disabled", mode: config.CacheDisabled},
		{name: "memory", mode: config.CacheInMemory, expected: true},
		{name: "disk", mode: config.CacheDisk, disk: true, expected: true},
		{name: "disk without http", mode: config.CacheDiskNoHTTP, disk: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			server := testserver.New()
			defer server.Close()

			cfg := config.Default()
			cfg.CacheMode = testCase.mode
			if testCase.disk {
				cfg.StoragePath = filepath.Join(t.TempDir(), "storage")
			}
			ctx := newTestContext(t, cfg)
			if testCase.disk {
				fi, err := os.Stat(cfg.StoragePath)
				require.NoError(t, err)
				assert.True(t, fi.IsDir())
			}

			rec, r := fetch(t, ctx, server.URL("/cacheable.txt"))
			assert.Equal(t, testserver.CacheableBody, rec.Body())
			assert.False(t, r.Execution().WasCached)
			assert.Equal(t, 1, server.Hits("/cacheable.txt"))

			rec, r = fetch(t, ctx, server.URL("/cacheable.txt"))
			assert.Equal(t, testserver.CacheableBody, rec.Body())
			assert.Equal(t, testCase.expected, r.Execution().WasCached)
			if testCase.expected {
				assert.Equal(t, 1, server.Hits("/cacheable.txt"))
				assert.Equal(t, 200, r.Execution().StatusCode())
				assert.Equal(t, "max-age=3600", r.Execution().Header().Get("Cache-Control"))
				assert.Nil(t, r.Execution().Request)
				assert.Equal(t, int64(1), ctx.CacheStats().Hits())
			} else {
				assert.Equal(t, 2, server.Hits("/cacheable.txt"))
			}

			rec, r = fetch(t, ctx, server.URL("/success.txt"))
			assert.Equal(t, testserver.SuccessBody, rec.Body())
			_, r = fetch(t, ctx, server.URL("/success.txt"))
			assert.False(t, r.Execution().WasCached)
			assert.Equal(t, 2, server.Hits("/success.txt"))
		})
	}
}

func TestContext_CacheOriginDown(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		server := testserver.New()
		ctx := newTestContext(t, config.Default())
		fetch(t, ctx, server.URL("/cacheable.txt"))
		target := server.URL("/cacheable.txt")
		server.Close()

		rec, r := fetch(t, ctx, target)
		assert.Equal(t, Succeeded, r.Step())
		assert.True(t, r.Execution().WasCached)
		assert.Equal(t, testserver.CacheableBody, rec.Body())
	})
	t.Run("disk reused by new context", func(t *testing.T) {
		server := testserver.New()
		target := server.URL("/cacheable.txt")
		cfg := config.Default()
		cfg.CacheMode = config.CacheDisk
		cfg.StoragePath = t.TempDir()

		engine := NewEngine(nil)
		first, err := engine.NewContext(cfg)
		require.NoError(t, err)
		_, r := fetch(t, first, target)
		assert.False(t, r.Execution().WasCached)
		require.NoError(t, first.Shutdown())
		server.Close()

		second, err := engine.NewContext(cfg)
		require.NoError(t, err)
		rec, r := fetch(t, second, target)
		assert.Equal(t, Succeeded, r.Step())
		assert.True(t, r.Execution().WasCached)
		assert.Equal(t, testserver.CacheableBody, rec.Body())
		require.NoError(t, second.Shutdown())
		assert.NoError(t, engine.Close())
	})
	t.Run("disabled", func(t *testing.T) {
		server := testserver.New()
		cfg := config.Default()
		cfg.CacheMode = config.CacheDisabled
		ctx := newTestContext(t, cfg)
		fetch(t, ctx, server.URL("/cacheable.txt"))
		target := server.URL("/cacheable.txt")
		server.Close()

		rec, r := fetch(t, ctx, target)
		assert.Equal(t, []Step{Started, Failed}, rec.Steps())
		assert.Error(t, r.Execution().Err)
	})
}

func TestContext_CacheBypass(t *testing.T) {
	server := testserver.New()
	defer server.Close()
	ctx := newTestContext(t, config.Default())

	fetch(t, ctx, server.URL("/cacheable.txt"))
	p, err := request.NewPlan("GET", server.URL("/cacheable.txt"), nil)
	require.NoError(t, err)
	p.DisableCache = true
	rec := &recorder{}
	r, err := ctx.CreatePlanRequest(p, rec, nil)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	r.Wait()

	assert.False(t, r.Execution().WasCached)
	assert.Equal(t, 2, server.Hits("/cacheable.txt"))
}

func TestContext_NetLog(t *testing.T) {
	t.Run("no activity", func(t *testing.T) {
		ctx := newTestContext(t, config.Default())
		path := filepath.Join(t.TempDir(), "netlog.json")
		require.NoError(t, ctx.StartNetLog(path))
		assert.True(t, ctx.NetLogActive())
		ctx.StopNetLog()
		assert.False(t, ctx.NetLogActive())

		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, int64(0), fi.Size())
	})
	t.Run("activity", func(t *testing.T) {
		ctx := newTestContext(t, config.Default())
		path := filepath.Join(t.TempDir(), "netlog.json")
		require.NoError(t, ctx.StartNetLog(path))
		_, r := fetch(t, ctx, origin.URL("/success.txt"))
		ctx.StopNetLog()

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotEmpty(t, b)
		assert.Contains(t, string(b), r.ID())
		assert.Contains(t, string(b), `"msg":"Succeeded"`)
	})
	t.Run("idempotent", func(t *testing.T) {
		ctx := newTestContext(t, config.Default())
		dir := t.TempDir()
		first := filepath.Join(dir, "first.json")
		second := filepath.Join(dir, "second.json")
		require.NoError(t, ctx.StartNetLog(first))
		require.NoError(t, ctx.StartNetLog(second))
		fetch(t, ctx, origin.URL("/success.txt"))
		ctx.StopNetLog()
		ctx.StopNetLog()

		_, err := os.Stat(second)
		assert.True(t, os.IsNotExist(err))
		fi, err := os.Stat(first)
		require.NoError(t, err)
		assert.NotZero(t, fi.Size())
	})
	t.Run("stop without start", func(t *testing.T) {
		ctx := newTestContext(t, config.Default())
		assert.NotPanics(t, ctx.StopNetLog)
	})
	t.Run("after shutdown", func(t *testing.T) {
		ctx := newTestContext(t, config.Default())
		require.NoError(t, ctx.Shutdown())
		path := filepath.Join(t.TempDir(), "netlog.json")
		require.NoError(t, ctx.StartNetLog(path))
		ctx.StopNetLog()

		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
	t.Run("stopped by shutdown", func(t *testing.T) {
		ctx := newTestContext(t, config.Default())
		path := filepath.Join(t.TempDir(), "netlog.json")
		require.NoError(t, ctx.StartNetLog(path))
		fetch(t, ctx, origin.URL("/success.txt"))
		require.NoError(t, ctx.Shutdown())
		assert.False(t, ctx.NetLogActive())

		fi, err := os.Stat(path)
		require.NoError(t, err)
		size := fi.Size()
		assert.NotZero(t, size)
		ctx.StopNetLog()
		fi, err = os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, size, fi.Size())
	})
	t.Run("bad path", func(t *testing.T) {
		ctx := newTestContext(t, config.Default())
		err := ctx.StartNetLog(filepath.Join(t.TempDir(), "missing", "netlog.json"))
		assert.Error(t, err)
		assert.False(t, ctx.NetLogActive())
	})
}

func TestContext_UserAgent(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		cfg := config.Default()
		cfg.UserAgent = "reqctx-test/2.0"
		ctx := newTestContext(t, cfg)
		rec, _ := fetch(t, ctx, origin.URL("/echoheader/User-Agent"))
		assert.Equal(t, "reqctx-test/2.0", rec.Body())
	})
	t.Run("default", func(t *testing.T) {
		cfg := config.Default()
		cfg.UserAgent = ""
		ctx := newTestContext(t, cfg)
		rec, _ := fetch(t, ctx, origin.URL("/echoheader/User-Agent"))
		assert.Equal(t, config.DefaultUserAgent, rec.Body())
	})
	t.Run("plan header wins", func(t *testing.T) {
		ctx := newTestContext(t, config.Default())
		p, err := request.NewPlan("GET", origin.URL("/echoheader/User-Agent"), nil)
		require.NoError(t, err)
		p.Header.Set("User-Agent", "custom")
		rec := &recorder{}
		r, err := ctx.CreatePlanRequest(p, rec, nil)
		require.NoError(t, err)
		require.NoError(t, r.Start())
		r.Wait()
		assert.Equal(t, "custom", rec.Body())
	})
}

func TestContext_CreateRequest(t *testing.T) {
	ctx := newTestContext(t, config.Default())

	t.Run("bad url", func(t *testing.T) {
		_, err := ctx.CreateRequest("::not a url", &recorder{}, nil)
		assert.Error(t, err)
		_, err = ctx.CreateRequest("/relative", &recorder{}, nil)
		assert.Error(t, err)
	})
	t.Run("nil listener", func(t *testing.T) {
		_, err := ctx.CreateRequest(origin.URL("/success.txt"), nil, nil)
		assert.Error(t, err)
	})
	t.Run("nil plan", func(t *testing.T) {
		_, err := ctx.CreatePlanRequest(nil, &recorder{}, nil)
		assert.Error(t, err)
	})
	t.Run("start twice", func(t *testing.T) {
		r, err := ctx.CreateRequest(origin.URL("/success.txt"), &recorder{}, nil)
		require.NoError(t, err)
		require.NoError(t, r.Start())
		var le *LifecycleError
		assert.ErrorAs(t, r.Start(), &le)
		r.Wait()
		assert.ErrorAs(t, r.Start(), &le)
	})
	t.Run("post", func(t *testing.T) {
		i := &testserver.Instruction{
			StatusCode: 201,
			Body:       []testserver.BodyChunk{{Data: []byte("created")}},
		}
		p, err := request.NewPlan("POST", origin.URL("/instruct"), i.JSON())
		require.NoError(t, err)
		rec := &recorder{}
		r, err := ctx.CreatePlanRequest(p, rec, nil)
		require.NoError(t, err)
		require.NoError(t, r.Start())
		r.Wait()
		assert.Equal(t, 201, r.Execution().StatusCode())
		assert.Equal(t, "created", rec.Body())
	})
	t.Run("config", func(t *testing.T) {
		assert.Equal(t, config.Default(), ctx.Config())
	})
}

func TestContext_ListenerPanic(t *testing.T) {
	ctx := newTestContext(t, config.Default())
	rec := &recorder{hook: func(step Step, _ *Request, _ *request.Execution) {
		if step == ResponseStarted {
			panic("boom")
		}
	}}
	r, err := ctx.CreateRequest(origin.URL("/success.txt"), rec, nil)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	r.Wait()

	assert.Equal(t, []Step{Started, ResponseStarted, Failed}, rec.Steps())
	var ue *url.Error
	require.True(t, errors.As(r.Execution().Err, &ue))
	assert.Contains(t, ue.Err.Error(), "boom")
	assert.NoError(t, ctx.Shutdown())
}

func TestContext_WaitContext(t *testing.T) {
	ctx := newTestContext(t, config.Default())
	r, err := ctx.CreateRequest(origin.URL("/hang"), &recorder{}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Start())

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.WaitContext(waitCtx), context.DeadlineExceeded)
	assert.False(t, r.IsDone())

	r.Cancel()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("request not done after cancel")
	}
	assert.NoError(t, r.WaitContext(context.Background()))
}
