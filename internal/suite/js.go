package suite

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/joeycumines/js-test-helpers/internal/scripting"
)

func (r *Runner) installGlobals(vm *goja.Runtime) error {
	describe := r.describeFunc(vm, false, false)
	if err := setVariants(describe,
		r.describeFunc(vm, true, false),
		r.describeFunc(vm, false, true)); err != nil {
		return err
	}
	it := r.itFunc(vm, false, false)
	if err := setVariants(it,
		r.itFunc(vm, true, false),
		r.itFunc(vm, false, true)); err != nil {
		return err
	}

	for name, value := range map[string]goja.Value{
		"describe":   describe,
		"context":    describe,
		"xdescribe":  describe.Get("skip"),
		"it":         it,
		"specify":    it,
		"xit":        it.Get("skip"),
		"before":     r.hookFunc(vm, "before all", r.BeforeAll),
		"after":      r.hookFunc(vm, "after all", r.AfterAll),
		"beforeEach": r.hookFunc(vm, "before each", r.BeforeEach),
		"afterEach":  r.hookFunc(vm, "after each", r.AfterEach),
	} {
		if err := vm.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func setVariants(base *goja.Object, skip, only *goja.Object) error {
	if err := base.Set("skip", skip); err != nil {
		return err
	}
	return base.Set("only", only)
}

func (r *Runner) describeFunc(vm *goja.Runtime, skip, only bool) *goja.Object {
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		title := call.Argument(0).String()
		define, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(vm.NewTypeError("describe(): second argument must be a function"))
		}
		_, err := r.Describe(title, func(s *Suite) error {
			s.Skip = skip
			s.Only = only
			_, err := define(suiteObject(vm, s, r.timeout))
			return err
		})
		if err != nil {
			panic(rethrow(vm, err))
		}
		return goja.Undefined()
	}).ToObject(vm)
}

func (r *Runner) itFunc(vm *goja.Runtime, skip, only bool) *goja.Object {
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		title := call.Argument(0).String()
		var fn Func
		if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			f, err := JSFunc(vm, arg)
			if err != nil {
				panic(vm.NewTypeError("it(): %s", err))
			}
			fn = f
		}
		t, err := r.Test(title, fn)
		if err != nil {
			panic(rethrow(vm, err))
		}
		t.Skip = t.Skip || skip
		t.Only = only
		return goja.Undefined()
	}).ToObject(vm)
}

func (r *Runner) hookFunc(vm *goja.Runtime, kind string, register func(string, Func) error) goja.Value {
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		title := kind + " hook"
		arg := call.Argument(0)
		if _, ok := goja.AssertFunction(arg); !ok {
			title = arg.String()
			arg = call.Argument(1)
		}
		fn, err := JSFunc(vm, arg)
		if err != nil {
			panic(vm.NewTypeError("%s: %s", kind, err))
		}
		if err := register(title, fn); err != nil {
			panic(rethrow(vm, err))
		}
		return goja.Undefined()
	})
}

// JSFunc adapts a JS function into a Func. The function is called with the
// JS form of the Context as `this`. Functions declaring a parameter receive a
// mocha-style done callback instead of having their return value awaited.
func JSFunc(vm *goja.Runtime, v goja.Value) (Func, error) {
	callable, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("expected a function, got %s", v.String())
	}
	wantsDone := v.ToObject(vm).Get("length").ToInteger() > 0

	return func(vm *goja.Runtime, c *Context) (goja.Value, error) {
		this := contextObject(vm, c)
		if !wantsDone {
			result, err := callable(this)
			if err != nil {
				return nil, scripting.ErrorFromCall(err)
			}
			return result, nil
		}

		promise, resolve, reject := vm.NewPromise()
		settled := false
		done := func(call goja.FunctionCall) goja.Value {
			if settled {
				return goja.Undefined()
			}
			settled = true
			if reason := call.Argument(0); reason.ToBoolean() {
				reject(reason)
			} else {
				resolve(goja.Undefined())
			}
			return goja.Undefined()
		}
		if _, err := callable(this, vm.ToValue(done)); err != nil {
			return nil, scripting.ErrorFromCall(err)
		}
		return vm.ToValue(promise), nil
	}, nil
}

// contextObject builds the `this` of a runnable.
func contextObject(vm *goja.Runtime, c *Context) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("timeout", timeoutAccessor(vm, obj, c.Timeout, c.SetTimeout))
	if t := c.Test(); t != nil {
		test := testObject(vm, t)
		_ = obj.Set("currentTest", test)
		_ = obj.Set("test", test)
	}
	return obj
}

func suiteObject(vm *goja.Runtime, s *Suite, def time.Duration) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("title", s.Title)
	_ = obj.Set("fullTitle", func() string { return s.FullTitle() })
	_ = obj.Set("timeout", timeoutAccessor(vm, obj,
		func() time.Duration { return s.Timeout(def) },
		s.SetTimeout))
	return obj
}

func testObject(vm *goja.Runtime, t *Test) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("title", t.Title)
	_ = obj.Set("fullTitle", func() string { return t.FullTitle() })
	_ = obj.Set("timeout", timeoutAccessor(vm, obj, t.Timeout, t.SetTimeout))
	return obj
}

// timeoutAccessor implements mocha's timeout(): with no argument it returns
// the timeout in milliseconds, otherwise it sets it and returns this.
func timeoutAccessor(vm *goja.Runtime, this *goja.Object, get func() time.Duration, set func(time.Duration)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 || goja.IsUndefined(call.Argument(0)) {
			return vm.ToValue(get().Milliseconds())
		}
		ms := call.Argument(0).ToInteger()
		if ms < 0 {
			ms = 0
		}
		set(time.Duration(ms) * time.Millisecond)
		return this
	}
}

// rethrow converts a Go error back into a throwable value, keeping JS
// exceptions intact.
func rethrow(vm *goja.Runtime, err error) goja.Value {
	var jsErr *scripting.JSError
	if errors.As(err, &jsErr) && jsErr.Value != nil {
		return jsErr.Value
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value()
	}
	return vm.NewGoError(err)
}
