package async

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"

	"github.com/joeycumines/js-test-helpers/internal/scripting"
)

// OutcomeKind classifies a single predicate evaluation.
type OutcomeKind int

const (
	// NotYet means the predicate returned a falsy value or threw.
	NotYet OutcomeKind = iota
	// Satisfied means the predicate returned a truthy value.
	Satisfied
	// Fatal means evaluation failed outside of JS, e.g. the runtime was
	// interrupted. Polling stops.
	Fatal
)

func (k OutcomeKind) String() string {
	switch k {
	case Satisfied:
		return "satisfied"
	case Fatal:
		return "fatal"
	default:
		return "not-yet"
	}
}

// Outcome is the result of evaluating a polling predicate once. Err is the
// caught exception for NotYet outcomes that threw, or the failure for Fatal.
type Outcome struct {
	Kind  OutcomeKind
	Value goja.Value
	Err   error
}

// Evaluate calls predicate with arg. Thrown JS exceptions are swallowed into
// NotYet; every other failure is Fatal.
func Evaluate(predicate goja.Callable, arg goja.Value) Outcome {
	v, err := predicate(goja.Undefined(), arg)
	if err != nil {
		var ex *goja.Exception
		if errors.As(err, &ex) {
			return Outcome{Kind: NotYet, Err: scripting.ErrorFromValue(ex.Value())}
		}
		return Outcome{Kind: Fatal, Err: err}
	}
	if v != nil && v.ToBoolean() {
		return Outcome{Kind: Satisfied, Value: v}
	}
	return Outcome{Kind: NotYet, Value: v}
}

// poller drives one waitUntil step: evaluate, then reschedule on the loop
// until satisfied or the chain is drained.
type poller struct {
	e          *Engine
	chain      *Chain
	predicate  goja.Callable
	arg        goja.Value
	descriptor goja.Value
	// useDefault enables the last-exception diagnostic
	useDefault bool
	resolve    func(goja.Value)
	reject     func(goja.Value)
	done       bool
}

func (p *poller) attempt(vm *goja.Runtime) {
	if p.done || p.chain.closed {
		return
	}
	p.chain.descriptor = p.descriptor

	out := Evaluate(p.predicate, p.arg)
	switch out.Kind {
	case Satisfied:
		p.done = true
		p.resolve(out.Value)
		return
	case Fatal:
		p.done = true
		p.reject(vm.NewGoError(out.Err))
		return
	}

	if out.Err != nil && p.useDefault {
		p.chain.descriptor = vm.ToValue("waitUntil() timed out. This is the last exception that was caught: " + out.Err.Error())
	}

	var timer *eventloop.Timer
	timer = p.e.sched.SetTimeout(func(vm *goja.Runtime) {
		p.chain.untrack(timer)
		p.attempt(vm)
	}, p.e.pollInterval)
	p.chain.track(timer)
}

// WaitUntil appends a step that polls predicate, starting immediately, until
// it returns a truthy value, which the step resolves with. The predicate
// receives the previous step's value. descriptor (string, function or nil)
// is the timeout diagnostic.
func (e *Engine) WaitUntil(vm *goja.Runtime, predicate, descriptor goja.Value) error {
	return e.waitUntil(vm, predicate, descriptor, func(source string) string {
		return "waitUntil() timed out since the following function never returned a truthy value within the timeout: " + source
	})
}

func (e *Engine) waitUntil(vm *goja.Runtime, predicate, descriptor goja.Value, defaultMessage func(source string) string) error {
	chain, err := e.activeChain()
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(predicate)
	if !ok {
		return &UsageError{TypeError: true, Message: "waitUntil(): predicate must be a function"}
	}
	useDefault := isAbsent(descriptor)
	if useDefault {
		descriptor = vm.ToValue(defaultMessage(predicate.String()))
	}

	return e.AndThen(vm, vm.ToValue(func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()
		p := &poller{
			e:          e,
			chain:      chain,
			predicate:  fn,
			arg:        call.Argument(0),
			descriptor: descriptor,
			useDefault: useDefault,
			resolve:    func(v goja.Value) { resolve(v) },
			reject:     func(v goja.Value) { reject(v) },
		}
		p.attempt(vm)
		return vm.ToValue(promise)
	}))
}

// WaitMillis appends a step that resolves after ms milliseconds.
func (e *Engine) WaitMillis(vm *goja.Runtime, ms int64) error {
	chain, err := e.activeChain()
	if err != nil {
		return err
	}
	if ms < 0 {
		ms = 0
	}
	return e.AndThen(vm, vm.ToValue(func(goja.FunctionCall) goja.Value {
		promise, resolve, _ := vm.NewPromise()
		chain.descriptor = vm.ToValue(fmt.Sprintf("waitMillis() timed out while waiting %d milliseconds", ms))
		if chain.closed {
			return vm.ToValue(promise)
		}
		var timer *eventloop.Timer
		timer = e.sched.SetTimeout(func(*goja.Runtime) {
			chain.untrack(timer)
			resolve(goja.Undefined())
		}, msDuration(ms))
		chain.track(timer)
		return vm.ToValue(promise)
	}))
}

// WaitUntilChange appends steps that sample predicate once, poll until a
// sample is strictly unequal to that baseline, then resolve with the new
// sample.
func (e *Engine) WaitUntilChange(vm *goja.Runtime, predicate, descriptor goja.Value) error {
	if _, err := e.activeChain(); err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(predicate)
	if !ok {
		return &UsageError{TypeError: true, Message: "waitUntilChange(): predicate must be a function"}
	}
	source := predicate.String()

	var baseline, latest goja.Value
	sample := func(arg goja.Value) goja.Value {
		v, err := fn(goja.Undefined(), arg)
		if err != nil {
			panic(Throwable(vm, scripting.ErrorFromCall(err)))
		}
		return v
	}

	if err := e.AndThen(vm, vm.ToValue(func(call goja.FunctionCall) goja.Value {
		baseline = sample(call.Argument(0))
		return call.Argument(0)
	})); err != nil {
		return err
	}

	changed := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		latest = sample(call.Argument(0))
		return vm.ToValue(!latest.StrictEquals(baseline))
	})
	if err := e.waitUntil(vm, changed, descriptor, func(string) string {
		return "waitUntilChange() timed out since the return value of the following function never changed: " + source
	}); err != nil {
		return err
	}

	return e.AndThen(vm, vm.ToValue(func(goja.FunctionCall) goja.Value {
		if latest == nil {
			return goja.Undefined()
		}
		return latest
	}))
}

func isAbsent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
