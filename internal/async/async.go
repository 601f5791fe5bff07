// Package async implements the sequential action queue used by test scripts:
// a per-test promise chain extended by andThen-style steps, polling waits, and
// an after-each drain that turns chains which never settle into test failures
// carrying the most recently registered diagnostic.
package async

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"

	"github.com/joeycumines/js-test-helpers/internal/scripting"
	"github.com/joeycumines/js-test-helpers/internal/suite"
)

// DefaultPollInterval is the delay between failed polling attempts.
const DefaultPollInterval = 100 * time.Millisecond

// ErrNoChain is returned when a queue primitive is used outside the window
// established by SetupAsync.
var ErrNoChain = errors.New("andThen(): no active chain, you cannot use andThen() unless you call setupAsync() at the root of the appropriate describe()")

// Lifecycle is the test runner integration the engine needs.
type Lifecycle interface {
	BeforeEach(title string, fn suite.Func) error
	AfterEach(title string, fn suite.Func) error
	Current() *suite.Test
}

// Scheduler schedules callbacks on the event loop.
type Scheduler interface {
	SetTimeout(fn func(*goja.Runtime), timeout time.Duration) *eventloop.Timer
	ClearTimeout(t *eventloop.Timer)
}

var (
	_ Lifecycle = (*suite.Runner)(nil)
	_ Scheduler = (*eventloop.EventLoop)(nil)
)

// Engine owns the action chains of the tests run by a Lifecycle. All methods
// taking a *goja.Runtime must be called on the event loop.
type Engine struct {
	lifecycle    Lifecycle
	sched        Scheduler
	pollInterval time.Duration
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an Engine.
func New(lifecycle Lifecycle, sched Scheduler, opts ...Option) *Engine {
	e := &Engine{
		lifecycle:    lifecycle,
		sched:        sched,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// PollInterval returns the delay between polling attempts.
func (e *Engine) PollInterval() time.Duration {
	return e.pollInterval
}

type chainKey struct{}

// Chain is the pending sequence of steps of a running test.
type Chain struct {
	tail *goja.Object
	// descriptor is a string, a function returning a string, or nil
	descriptor goja.Value
	timers     map[*eventloop.Timer]struct{}
	closed     bool
}

func (c *Chain) track(t *eventloop.Timer) {
	if c.timers == nil {
		c.timers = make(map[*eventloop.Timer]struct{})
	}
	c.timers[t] = struct{}{}
}

func (c *Chain) untrack(t *eventloop.Timer) {
	delete(c.timers, t)
}

// Closed reports whether the chain has been drained.
func (c *Chain) Closed() bool {
	return c.closed
}

// SetDescriptor replaces the pending error descriptor.
func (c *Chain) SetDescriptor(descriptor goja.Value) {
	c.descriptor = descriptor
}

// message resolves the pending error descriptor.
func (c *Chain) message(testTimeout time.Duration) string {
	d := c.descriptor
	if d == nil || goja.IsUndefined(d) || goja.IsNull(d) {
		return fmt.Sprintf("async chain did not settle within %dms", testTimeout.Milliseconds())
	}
	if fn, ok := goja.AssertFunction(d); ok {
		v, err := fn(goja.Undefined())
		if err != nil {
			return "error descriptor threw: " + scripting.ErrorFromCall(err).Error()
		}
		return v.String()
	}
	return d.String()
}

// Chain returns the chain of the running test, or nil.
func (e *Engine) Chain() *Chain {
	t := e.lifecycle.Current()
	if t == nil {
		return nil
	}
	c, _ := t.Value(chainKey{}).(*Chain)
	return c
}

func (e *Engine) activeChain() (*Chain, error) {
	c := e.Chain()
	if c == nil || c.closed {
		return nil, ErrNoChain
	}
	return c, nil
}

// SetupAsync registers the hooks that create and drain the chain of every
// test in the suite being defined.
func (e *Engine) SetupAsync() error {
	if err := e.lifecycle.BeforeEach("create async chain", e.createChain); err != nil {
		return fmt.Errorf("setupAsync(): %w", err)
	}
	if err := e.lifecycle.AfterEach("drain async chain", e.drain); err != nil {
		return fmt.Errorf("setupAsync(): %w", err)
	}
	return nil
}

func (e *Engine) createChain(vm *goja.Runtime, c *suite.Context) (goja.Value, error) {
	t := c.Test()
	if t == nil {
		return goja.Undefined(), nil
	}
	if existing, _ := t.Value(chainKey{}).(*Chain); existing != nil {
		return goja.Undefined(), nil
	}
	promise, resolve, _ := vm.NewPromise()
	resolve(goja.Undefined())
	t.SetValue(chainKey{}, &Chain{tail: vm.ToValue(promise).ToObject(vm)})
	e.logger.Debug("async chain created", "test", t.FullTitle())
	return goja.Undefined(), nil
}

// drain races the chain against the test's timeout. It takes over timing from
// the runner by zeroing the hook timeout, restoring it once settled.
func (e *Engine) drain(vm *goja.Runtime, c *suite.Context) (goja.Value, error) {
	t := c.Test()
	if t == nil {
		return goja.Undefined(), nil
	}
	chain, _ := t.Value(chainKey{}).(*Chain)
	if chain == nil {
		return goja.Undefined(), nil
	}

	testTimeout := c.Timeout()
	c.SetTimeout(0)

	promise, resolve, reject := vm.NewPromise()
	settled := false
	var raceTimer *eventloop.Timer

	cleanUp := func() {
		settled = true
		if raceTimer != nil {
			e.sched.ClearTimeout(raceTimer)
		}
		for timer := range chain.timers {
			e.sched.ClearTimeout(timer)
		}
		chain.timers = nil
		chain.closed = true
		t.DeleteValue(chainKey{})
		c.SetTimeout(testTimeout)
	}

	if testTimeout > 0 {
		raceTimer = e.sched.SetTimeout(func(vm *goja.Runtime) {
			if settled {
				return
			}
			msg := chain.message(testTimeout)
			cleanUp()
			e.logger.Debug("async chain timed out", "test", t.FullTitle(), "message", msg)
			reject(newError(vm, msg))
		}, testTimeout)
	}

	if _, err := scripting.Then(vm, chain.tail,
		func(v goja.Value) {
			if settled {
				return
			}
			cleanUp()
			resolve(v)
		},
		func(reason goja.Value) {
			if settled {
				return
			}
			cleanUp()
			reject(reason)
		},
	); err != nil {
		cleanUp()
		return nil, err
	}

	return vm.ToValue(promise), nil
}

// AndThen appends step to the chain. The step receives the value the previous
// step resolved with and may return a thenable.
func (e *Engine) AndThen(vm *goja.Runtime, step goja.Value) error {
	chain, err := e.activeChain()
	if err != nil {
		return err
	}
	if _, ok := goja.AssertFunction(step); !ok {
		return &UsageError{TypeError: true, Message: "andThen(): step must be a function"}
	}
	then, ok := goja.AssertFunction(chain.tail.Get("then"))
	if !ok {
		return errors.New("andThen(): chain tail is not a thenable")
	}
	next, err := then(chain.tail, step)
	if err != nil {
		return scripting.ErrorFromCall(err)
	}
	chain.tail = next.ToObject(vm)
	return nil
}

// AndThenFunc is AndThen for a Go step.
func (e *Engine) AndThenFunc(vm *goja.Runtime, step func(prev goja.Value) (goja.Value, error)) error {
	return e.AndThen(vm, vm.ToValue(func(call goja.FunctionCall) goja.Value {
		v, err := step(call.Argument(0))
		if err != nil {
			panic(Throwable(vm, err))
		}
		if v == nil {
			return goja.Undefined()
		}
		return v
	}))
}

// UsageError is a programmer error surfaced to scripts as Error or TypeError.
type UsageError struct {
	TypeError bool
	Message   string
}

func (e *UsageError) Error() string {
	return e.Message
}

// Throwable converts err into a value suitable for panicking out of a native
// function: JS errors keep their original value, usage errors become
// Error/TypeError instances with the exact message.
func Throwable(vm *goja.Runtime, err error) goja.Value {
	var jsErr *scripting.JSError
	if errors.As(err, &jsErr) && jsErr.Value != nil {
		return jsErr.Value
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value()
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		if usage.TypeError {
			return vm.NewTypeError("%s", usage.Message)
		}
		return newError(vm, usage.Message)
	}
	if errors.Is(err, ErrNoChain) {
		return newError(vm, err.Error())
	}
	return vm.NewGoError(err)
}

func newError(vm *goja.Runtime, msg string) *goja.Object {
	obj, err := vm.New(vm.Get("Error"), vm.ToValue(msg))
	if err != nil {
		return vm.NewGoError(errors.New(msg))
	}
	return obj
}
