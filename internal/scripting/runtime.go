package scripting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// Runtime provides a shared goja runtime and event loop for test scripts.
// It is the single source of truth for all goja.Runtime access, routing every
// operation through the event loop.
//
// Key Design Principles:
//   - goja.Runtime is NOT goroutine-safe; all access MUST happen via RunOnLoop
//   - Promise resolve/reject MUST happen on the event loop goroutine
//   - Timers scheduled by native modules use the same loop (see EventLoop)
//
// Usage:
//
//	rt, err := NewRuntime(ctx)
//	if err != nil { ... }
//	defer rt.Close()
//
//	err = rt.RunOnLoopSync(func(vm *goja.Runtime) error {
//	    _, err := vm.RunString("console.log('hello')")
//	    return err
//	})
type Runtime struct {
	// loop is the goja_nodejs event loop that serializes all JS execution.
	loop *eventloop.EventLoop

	// registry is the CommonJS require registry for native modules.
	registry *require.Registry

	logger *slog.Logger

	// timeout is the maximum duration to wait for RunOnLoopSync operations.
	// Zero disables the timeout.
	timeout time.Duration

	// mu protects started/stopped state
	mu      sync.RWMutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc

	// stopWatch unregisters the close-on-parent-cancel callback.
	stopWatch func() bool
}

// DefaultSyncTimeout is the maximum duration to wait for RunOnLoopSync operations.
const DefaultSyncTimeout = 5 * time.Second

// Option configures a Runtime.
type Option func(*runtimeOptions)

type runtimeOptions struct {
	registry *require.Registry
	logger   *slog.Logger
	timeout  time.Duration
	console  bool
}

// WithRegistry shares an existing require.Registry with the runtime.
func WithRegistry(registry *require.Registry) Option {
	return func(o *runtimeOptions) {
		o.registry = registry
	}
}

// WithLogger sets the logger used by the runtime.
func WithLogger(logger *slog.Logger) Option {
	return func(o *runtimeOptions) {
		o.logger = logger
	}
}

// WithSyncTimeout overrides DefaultSyncTimeout. Zero disables the timeout.
func WithSyncTimeout(timeout time.Duration) Option {
	return func(o *runtimeOptions) {
		o.timeout = timeout
	}
}

// WithConsole toggles the goja_nodejs console module (enabled by default).
func WithConsole(enabled bool) Option {
	return func(o *runtimeOptions) {
		o.console = enabled
	}
}

// NewRuntime creates a new Runtime with an initialized event loop.
// The event loop is automatically started and runs in a background goroutine.
// Call Close() when done to clean up resources.
//
// The provided context controls lifecycle - when canceled, the runtime stops.
func NewRuntime(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := runtimeOptions{
		timeout: DefaultSyncTimeout,
		console: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = require.NewRegistry()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(o.registry),
		eventloop.EnableConsole(o.console),
	)

	// internal lifecycle context, independent of parent for clean shutdown
	childCtx, cancel := context.WithCancel(context.Background())

	rt := &Runtime{
		loop:     loop,
		registry: o.registry,
		logger:   o.logger,
		ctx:      childCtx,
		cancel:   cancel,
		timeout:  o.timeout,
	}

	loop.Start()
	rt.mu.Lock()
	rt.started = true
	rt.mu.Unlock()

	// make sure the loop actually accepts work before handing it out
	ready := make(chan struct{})
	if !loop.RunOnLoop(func(*goja.Runtime) { close(ready) }) {
		cancel()
		return nil, errors.New("failed to initialize: event loop not running")
	}
	<-ready

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			_ = rt.Close()
		})
		rt.mu.Lock()
		rt.stopWatch = stop
		rt.mu.Unlock()
	}

	rt.logger.Debug("scripting runtime started")

	return rt, nil
}

// Registry returns the require.Registry for module registration.
// Modules must be registered before any script that uses them is executed.
func (rt *Runtime) Registry() *require.Registry {
	return rt.registry
}

// EventLoop returns the underlying event loop. Native modules use it to
// schedule timers (it satisfies async.Scheduler).
func (rt *Runtime) EventLoop() *eventloop.EventLoop {
	return rt.loop
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// Close gracefully stops the event loop and releases resources.
// It's safe to call multiple times.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		return nil
	}
	rt.stopped = true
	stopWatch := rt.stopWatch
	rt.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
	}

	// cancel BEFORE stopping the loop, unblocking anything waiting on Done()
	rt.cancel()

	rt.loop.Stop()

	rt.logger.Debug("scripting runtime stopped")

	return nil
}

// Done returns a channel that is closed when the runtime is stopped.
func (rt *Runtime) Done() <-chan struct{} {
	return rt.ctx.Done()
}

// IsRunning returns true if the runtime is running (started and not stopped).
func (rt *Runtime) IsRunning() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.started && !rt.stopped
}

// SetTimeout sets the timeout for RunOnLoopSync operations.
func (rt *Runtime) SetTimeout(timeout time.Duration) {
	rt.mu.Lock()
	rt.timeout = timeout
	rt.mu.Unlock()
}

// GetTimeout returns the current RunOnLoopSync timeout.
func (rt *Runtime) GetTimeout() time.Duration {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.timeout
}

// RunOnLoop schedules a function to run on the event loop goroutine.
// Returns false if the event loop is not running.
func (rt *Runtime) RunOnLoop(fn func(*goja.Runtime)) bool {
	rt.mu.RLock()
	if !rt.started || rt.stopped {
		rt.mu.RUnlock()
		return false
	}
	rt.mu.RUnlock()

	return rt.loop.RunOnLoop(fn)
}

// RunOnLoopSync schedules a function on the event loop and waits for completion.
// It must not be called from the event loop goroutine.
func (rt *Runtime) RunOnLoopSync(fn func(*goja.Runtime) error) error {
	rt.mu.RLock()
	if !rt.started || rt.stopped {
		rt.mu.RUnlock()
		return errors.New("event loop not running")
	}
	timeout := rt.timeout
	rt.mu.RUnlock()

	errCh := make(chan error, 1)
	ok := rt.loop.RunOnLoop(func(vm *goja.Runtime) {
		errCh <- fn(vm)
	})
	if !ok {
		return errors.New("event loop not running")
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-errCh:
		return err
	case <-rt.Done():
		return errors.New("runtime stopped before completion")
	case <-timer:
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

// LoadScript compiles and executes JavaScript source in the runtime.
func (rt *Runtime) LoadScript(name, code string) error {
	return rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		prg, err := goja.Compile(name, code, false)
		if err != nil {
			return fmt.Errorf("failed to compile %s: %w", name, err)
		}
		if _, err := vm.RunProgram(prg); err != nil {
			return fmt.Errorf("failed to run %s: %w", name, err)
		}
		return nil
	})
}

// SetGlobal sets a global variable in the JavaScript runtime.
func (rt *Runtime) SetGlobal(name string, value any) error {
	return rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		return vm.Set(name, value)
	})
}

// GetGlobal retrieves a global variable from the JavaScript runtime, exported
// to Go. Returns nil if the variable doesn't exist.
func (rt *Runtime) GetGlobal(name string) (any, error) {
	var result any
	err := rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		val := vm.Get(name)
		if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
			return nil
		}
		result = val.Export()
		return nil
	})
	return result, err
}
