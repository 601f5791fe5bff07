package scripting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dop251/goja"
	gojarequire "github.com/dop251/goja_nodejs/require"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt, err := NewRuntime(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestNewRuntime(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	assert.True(t, rt.IsRunning())
	assert.NotNil(t, rt.Registry())
	assert.NotNil(t, rt.EventLoop())
	assert.NotNil(t, rt.Logger())
	assert.Equal(t, DefaultSyncTimeout, rt.GetTimeout())
}

func TestNewRuntime_WithRegistry(t *testing.T) {
	t.Parallel()
	registry := gojarequire.NewRegistry()
	rt := newTestRuntime(t, WithRegistry(registry))
	assert.Same(t, registry, rt.Registry())
}

func TestRuntime_Close(t *testing.T) {
	t.Parallel()
	rt, err := NewRuntime(context.Background())
	require.NoError(t, err)

	require.NoError(t, rt.Close())
	assert.False(t, rt.IsRunning())
	// idempotent
	require.NoError(t, rt.Close())

	select {
	case <-rt.Done():
	default:
		t.Fatal("Done channel should be closed after Close")
	}

	assert.False(t, rt.RunOnLoop(func(*goja.Runtime) {}))
	assert.Error(t, rt.RunOnLoopSync(func(*goja.Runtime) error { return nil }))
}

func TestRuntime_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	rt, err := NewRuntime(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case <-rt.Done():
	case <-time.After(time.Second):
		t.Fatal("runtime should stop when context is canceled")
	}
}

func TestRuntime_RunOnLoop(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	var executed atomic.Bool
	done := make(chan struct{})
	require.True(t, rt.RunOnLoop(func(vm *goja.Runtime) {
		executed.Store(true)
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunOnLoop callback never ran")
	}
	assert.True(t, executed.Load())
}

func TestRuntime_RunOnLoopSync(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	var result int64
	err := rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		v, err := vm.RunString("1 + 2")
		if err != nil {
			return err
		}
		result = v.ToInteger()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result)

	sentinel := errors.New("boom")
	assert.ErrorIs(t, rt.RunOnLoopSync(func(*goja.Runtime) error { return sentinel }), sentinel)
}

func TestRuntime_RunOnLoopSync_Timeout(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, WithSyncTimeout(20*time.Millisecond))

	release := make(chan struct{})
	defer close(release)
	err := rt.RunOnLoopSync(func(*goja.Runtime) error {
		<-release
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRuntime_SerializesAccess(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)
	require.NoError(t, rt.LoadScript("counter.js", "var counter = 0;"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rt.RunOnLoopSync(func(vm *goja.Runtime) error {
				_, err := vm.RunString("counter++")
				return err
			}))
		}()
	}
	wg.Wait()

	v, err := rt.GetGlobal("counter")
	require.NoError(t, err)
	assert.EqualValues(t, 20, v)
}

func TestRuntime_Globals(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	require.NoError(t, rt.SetGlobal("answer", 42))
	v, err := rt.GetGlobal("answer")
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	v, err = rt.GetGlobal("missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRuntime_LoadScript_Errors(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	err := rt.LoadScript("syntax.js", "function (")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile syntax.js")

	err = rt.LoadScript("throws.js", "throw new Error('nope')")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to run throws.js")
	assert.Contains(t, err.Error(), "nope")
}

func TestRuntime_Timers(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	fired := make(chan struct{})
	rt.EventLoop().SetTimeout(func(*goja.Runtime) { close(fired) }, 5*time.Millisecond)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("loop timer never fired")
	}

	cleared := make(chan struct{}, 1)
	timer := rt.EventLoop().SetTimeout(func(*goja.Runtime) { cleared <- struct{}{} }, 20*time.Millisecond)
	rt.EventLoop().ClearTimeout(timer)
	select {
	case <-cleared:
		t.Fatal("cleared timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestRuntime_CloseReleasesGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rt, err := NewRuntime(context.Background())
	require.NoError(t, err)
	require.NoError(t, rt.LoadScript("timers.js", "setTimeout(function() {}, 10); setInterval(function() {}, 5);"))
	require.NoError(t, rt.Close())
}
