// Package fakexhr replaces the global XMLHttpRequest with requests that never
// reach the network. Tests find them by method and URL and answer them with
// respond or respondWithJson.
package fakexhr

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/joeycumines/js-test-helpers/internal/async"
	"github.com/joeycumines/js-test-helpers/internal/builtin/fetch"
)

var (
	errNotStarted = &async.UsageError{Message: "stopFakingXhr can only be used after call to startFakingXhr!"}
	errNotFaking  = &async.UsageError{Message: "findXhr can only be used between calls to startFakingXhr and stopFakingXhr!"}
)

// Faker installs the fake XMLHttpRequest and records every request it
// creates. It is bound to a single runtime and must only be used on its
// event loop.
type Faker struct {
	engine *async.Engine
	logger *slog.Logger

	class    *fetch.XHRClass
	active   bool
	saved    goja.Value
	requests []*fetch.XHR
}

// New creates a Faker.
func New(engine *async.Engine, logger *slog.Logger) *Faker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Faker{engine: engine, logger: logger}
}

// Active reports whether requests are being faked.
func (f *Faker) Active() bool {
	return f.active
}

// Requests returns the recorded requests, oldest first.
func (f *Faker) Requests() []*fetch.XHR {
	return append([]*fetch.XHR(nil), f.requests...)
}

func (f *Faker) classFor(vm *goja.Runtime) *fetch.XHRClass {
	if f.class != nil {
		return f.class
	}
	f.class = fetch.NewXHRClass(vm, fetch.XHRHooks{
		Created: func(x *fetch.XHR) {
			f.requests = append(f.requests, x)
		},
		Send: func(x *fetch.XHR) {
			f.logger.Debug("fake XMLHttpRequest sent", "method", x.Method, "url", x.URL)
		},
	})
	proto := f.class.Prototype

	// respond(status: number, headers?: object, body?: string)
	_ = proto.Set("respond", func(call goja.FunctionCall) goja.Value {
		x := f.lookup(vm, call.This)
		header := make(http.Header)
		if obj, ok := call.Argument(1).(*goja.Object); ok {
			for _, k := range obj.Keys() {
				header[k] = []string{obj.Get(k).String()}
			}
		}
		body := ""
		if b := call.Argument(2); !goja.IsUndefined(b) && !goja.IsNull(b) {
			body = b.String()
		}
		f.respond(vm, x, int(call.Argument(0).ToInteger()), header, body)
		return goja.Undefined()
	})

	// respondWithJson(status?: number, payload?: any)
	_ = proto.Set("respondWithJson", func(call goja.FunctionCall) goja.Value {
		x := f.lookup(vm, call.This)
		status, payload := http.StatusOK, call.Argument(1)
		if first := call.Argument(0); isNumber(first) {
			status = int(first.ToInteger())
		} else {
			payload = first
		}
		body := "{}"
		if !goja.IsUndefined(payload) {
			s, err := fetch.EncodeJSON(vm, payload)
			if err != nil {
				panic(async.Throwable(vm, err))
			}
			body = s
		}
		f.respond(vm, x, status, http.Header{"Content-Type": {"application/json"}}, body)
		return goja.Undefined()
	})
	return f.class
}

func (f *Faker) lookup(vm *goja.Runtime, v goja.Value) *fetch.XHR {
	x, ok := f.class.Lookup(v)
	if !ok {
		panic(vm.NewTypeError("Illegal invocation"))
	}
	return x
}

func (f *Faker) respond(vm *goja.Runtime, x *fetch.XHR, status int, header http.Header, body string) {
	f.logger.Debug("fake XMLHttpRequest responded", "method", x.Method, "url", x.URL, "status", status)
	if err := x.Respond(status, header, body); err != nil {
		panic(async.Throwable(vm, err))
	}
}

func isNumber(v goja.Value) bool {
	switch v.Export().(type) {
	case int64, float64:
		return true
	}
	return false
}

// Start installs the fake XMLHttpRequest, saving the current one.
func (f *Faker) Start(vm *goja.Runtime) error {
	class := f.classFor(vm)
	if !f.active {
		f.saved = vm.Get("XMLHttpRequest")
	}
	f.active = true
	return fetch.SetGlobal(vm, "XMLHttpRequest", class.Constructor)
}

// Stop restores the saved XMLHttpRequest and forgets every recorded request.
// Forgotten requests never get a response.
func (f *Faker) Stop(vm *goja.Runtime) error {
	if !f.active {
		return errNotStarted
	}
	f.active = false
	f.requests = nil
	saved := f.saved
	f.saved = nil
	if saved == nil {
		_ = vm.GlobalObject().Delete("XMLHttpRequest")
		if win, ok := vm.Get("window").(*goja.Object); ok {
			_ = win.Delete("XMLHttpRequest")
		}
		return nil
	}
	return fetch.SetGlobal(vm, "XMLHttpRequest", saved)
}

// Find returns the newest open request matching method (case-insensitive)
// and url. A non-nil requestBody must also be strictly equal.
func (f *Faker) Find(method, url string, requestBody goja.Value) (*fetch.XHR, error) {
	if !f.active {
		return nil, errNotFaking
	}
	for i := len(f.requests) - 1; i >= 0; i-- {
		x := f.requests[i]
		if !strings.EqualFold(x.Method, method) || x.URL != url || x.ReadyState != fetch.Opened {
			continue
		}
		if requestBody != nil && requestBody.ToBoolean() {
			if x.RequestBody == nil || !x.RequestBody.StrictEquals(requestBody) {
				continue
			}
		}
		return x, nil
	}
	return nil, nil
}

// activeRequests lists the distinct METHOD URL pairs of open requests, in
// first-seen order.
func (f *Faker) activeRequests() []string {
	var out []string
	seen := make(map[string]bool)
	for _, x := range f.requests {
		if x.ReadyState != fetch.Opened {
			continue
		}
		key := x.Method + " " + x.URL
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

// WaitUntilExists appends a polling step resolving with the matching
// request.
func (f *Faker) WaitUntilExists(vm *goja.Runtime, method, url string) error {
	predicate := vm.ToValue(func(goja.FunctionCall) goja.Value {
		x, err := f.Find(method, url, nil)
		if err != nil {
			panic(async.Throwable(vm, err))
		}
		if x == nil {
			return goja.Null()
		}
		return x.Object()
	})
	descriptor := vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(fmt.Sprintf("XHR not found: '%s %s'. Active requests are:\n%s", method, url, strings.Join(f.activeRequests(), "\n")))
	})
	return f.engine.WaitUntil(vm, predicate, descriptor)
}

// Require returns the loader of the jth:xhr module.
//
//	const { startFakingXhr, stopFakingXhr, findXhr, waitUntilXhrExists } = require('jth:xhr');
func Require(f *Faker) require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		for name, fn := range f.Exports(runtime) {
			_ = exports.Set(name, fn)
		}
	}
}

// Exports returns the JS functions of the module, keyed by export name.
func (f *Faker) Exports(runtime *goja.Runtime) map[string]goja.Value {
	throw := func(err error) {
		panic(async.Throwable(runtime, err))
	}
	return map[string]goja.Value{
		// startFakingXhr(): void
		"startFakingXhr": runtime.ToValue(func(goja.FunctionCall) goja.Value {
			if err := f.Start(runtime); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),

		// stopFakingXhr(): void
		"stopFakingXhr": runtime.ToValue(func(goja.FunctionCall) goja.Value {
			if err := f.Stop(runtime); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),

		// findXhr(method: string, url: string, requestBody?: any): XMLHttpRequest | null
		"findXhr": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			x, err := f.Find(call.Argument(0).String(), call.Argument(1).String(), call.Argument(2))
			if err != nil {
				throw(err)
			}
			if x == nil {
				return goja.Null()
			}
			return x.Object()
		}),

		// waitUntilXhrExists(method: string, url: string): void
		"waitUntilXhrExists": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			if err := f.WaitUntilExists(runtime, call.Argument(0).String(), call.Argument(1).String()); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),
	}
}
