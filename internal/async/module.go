package async

import (
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
)

// Require returns the loader of the jth:async module.
//
//	const { setupAsync, asyncIt, andThen, waitUntil, waitMillis, waitUntilChange } = require('jth:async');
func Require(e *Engine) require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		for name, fn := range e.Exports(runtime) {
			_ = exports.Set(name, fn)
		}
	}
}

// Exports returns the JS functions of the queue API, keyed by export name.
// Other modules re-export them.
func (e *Engine) Exports(runtime *goja.Runtime) map[string]goja.Value {
	throw := func(err error) {
		panic(Throwable(runtime, err))
	}

	asyncIt := e.asyncIt(runtime, "it")
	_ = asyncIt.Set("skip", e.asyncIt(runtime, "it.skip"))
	_ = asyncIt.Set("only", e.asyncIt(runtime, "it.only"))

	return map[string]goja.Value{
		// setupAsync(): void
		"setupAsync": runtime.ToValue(func(goja.FunctionCall) goja.Value {
			if err := e.SetupAsync(); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),

		// andThen(step: (prev) => any): void
		"andThen": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			if err := e.AndThen(runtime, call.Argument(0)); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),

		// waitUntil(predicate: (prev) => any, errorMessage?: string | () => string): void
		"waitUntil": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			if err := e.WaitUntil(runtime, call.Argument(0), call.Argument(1)); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),

		// waitMillis(ms: number): void
		"waitMillis": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			if err := e.WaitMillis(runtime, call.Argument(0).ToInteger()); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),

		// waitUntilChange(predicate: (prev) => any, errorMessage?: string | () => string): void
		"waitUntilChange": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			if err := e.WaitUntilChange(runtime, call.Argument(0), call.Argument(1)); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),

		// asyncIt(title: string, fn?: () => any): void, plus .skip and .only
		"asyncIt": asyncIt,
	}
}

// asyncIt registers a test through the global it (or it.skip/it.only) whose
// returned thenable, if any, is appended to the chain.
func (e *Engine) asyncIt(runtime *goja.Runtime, register string) *goja.Object {
	return runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		it, ok := lookupFunction(runtime, register)
		if !ok {
			panic(runtime.NewTypeError("asyncIt(): global %s is not defined", register))
		}
		body := call.Argument(1)
		if isAbsent(body) {
			if _, err := it(goja.Undefined(), call.Argument(0)); err != nil {
				panic(Throwable(runtime, err))
			}
			return goja.Undefined()
		}
		fn, ok := goja.AssertFunction(body)
		if !ok {
			panic(runtime.NewTypeError("asyncIt(): second argument must be a function"))
		}

		wrapper := runtime.ToValue(func(inner goja.FunctionCall) goja.Value {
			result, err := fn(inner.This)
			if err != nil {
				panic(Throwable(runtime, err))
			}
			if obj, ok := result.(*goja.Object); ok {
				if _, ok := goja.AssertFunction(obj.Get("then")); ok {
					if err := e.AndThen(runtime, runtime.ToValue(func(goja.FunctionCall) goja.Value {
						return result
					})); err != nil {
						panic(Throwable(runtime, err))
					}
				}
			}
			return goja.Undefined()
		})
		if _, err := it(goja.Undefined(), call.Argument(0), wrapper); err != nil {
			panic(Throwable(runtime, err))
		}
		return goja.Undefined()
	}).ToObject(runtime)
}

func lookupFunction(runtime *goja.Runtime, path string) (goja.Callable, bool) {
	var v goja.Value = runtime.GlobalObject()
	for _, part := range strings.Split(path, ".") {
		obj, ok := v.(*goja.Object)
		if !ok {
			return nil, false
		}
		v = obj.Get(part)
	}
	return goja.AssertFunction(v)
}

