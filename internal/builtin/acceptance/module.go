package acceptance

import (
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/joeycumines/js-test-helpers/internal/async"
)

// Require returns the loader of the jth:acceptance module.
//
//	const { setupAndTeardownApp, visit, click, fillIn, waitUntilExists } = require('jth:acceptance');
func Require(a *App) require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		for name, fn := range a.Exports(runtime) {
			_ = exports.Set(name, fn)
		}
	}
}

// Exports returns the JS functions of the module, keyed by export name.
func (a *App) Exports(runtime *goja.Runtime) map[string]goja.Value {
	throw := func(err error) {
		panic(async.Throwable(runtime, err))
	}
	undefinedOr := func(err error) goja.Value {
		if err != nil {
			throw(err)
		}
		return goja.Undefined()
	}
	mouse := func(name string, types ...string) goja.Value {
		return runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			return undefinedOr(a.Mouse(runtime, name, call.Argument(0), call.Argument(1), types...))
		})
	}
	touch := func(name, typ string) goja.Value {
		return runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			return undefinedOr(a.Touch(runtime, name, call.Argument(0), call.Argument(1), typ))
		})
	}

	return map[string]goja.Value{
		// setupAndTeardownApp(render: (root, history) => any, options?: { createHistory?, unrender? }): void
		"setupAndTeardownApp": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			m, err := ParseMountOptions(call.Argument(0), call.Argument(1))
			if err != nil {
				throw(err)
			}
			return undefinedOr(a.SetupAndTeardown(m))
		}),

		// visit(route: string): void
		"visit": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			return undefinedOr(a.Visit(runtime, call.Argument(0)))
		}),

		// click|mouseDown|mouseUp|mouseMove(selector: string | Element, options?: object | () => object): void
		"click":     mouse("click", "mousedown", "mouseup", "click"),
		"mouseDown": mouse("mouseDown", "mousedown"),
		"mouseUp":   mouse("mouseUp", "mouseup"),
		"mouseMove": mouse("mouseMove", "mousemove"),

		// touchStart|touchMove|touchEnd|touchCancel(selector: string | Element, options?: object | () => object): void
		"touchStart":  touch("touchStart", "touchstart"),
		"touchMove":   touch("touchMove", "touchmove"),
		"touchEnd":    touch("touchEnd", "touchend"),
		"touchCancel": touch("touchCancel", "touchcancel"),

		// fillIn(selector: string | Element, value: any): void
		"fillIn": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			return undefinedOr(a.FillIn(runtime, call.Argument(0), call.Argument(1)))
		}),

		// keyEventIn(selector: string | Element, type: string, keyCode: number): void
		"keyEventIn": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			return undefinedOr(a.KeyEventIn(runtime, call.Argument(0), call.Argument(1).String(), call.Argument(2)))
		}),

		// waitUntilExists(selector: string | Element, errorMessage?: string | () => string): void
		"waitUntilExists": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			return undefinedOr(a.WaitUntilExists(runtime, call.Argument(0), call.Argument(1)))
		}),

		// waitUntilDoesNotExist(selector: string | Element, errorMessage?: string | () => string): void
		"waitUntilDoesNotExist": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			return undefinedOr(a.WaitUntilDoesNotExist(runtime, call.Argument(0), call.Argument(1)))
		}),

		// waitUntilDisappears(selector: string | Element): void
		"waitUntilDisappears": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			return undefinedOr(a.WaitUntilDisappears(runtime, call.Argument(0)))
		}),

		// find(selector: string | Element): Element[]
		"find": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			if err := a.checkSelector("find", call.Argument(0)); err != nil {
				throw(err)
			}
			nodes, err := a.Find(call.Argument(0))
			if err != nil {
				throw(err)
			}
			return a.doc.WrapAll(nodes)
		}),

		// scaleWindowWidth(scale: number): void
		"scaleWindowWidth": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			return undefinedOr(a.ScaleWindowWidth(runtime, call.Argument(0).ToFloat()))
		}),

		// setWindowWidthPercent(percent: number): void
		"setWindowWidthPercent": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			return undefinedOr(a.SetWindowWidthPercent(runtime, call.Argument(0).ToFloat()))
		}),
	}
}
