// Package fakefetch replaces the global fetch with an interceptor whose
// promises stay pending until the test settles them with fetchRespond.
package fakefetch

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/joeycumines/js-test-helpers/internal/async"
	"github.com/joeycumines/js-test-helpers/internal/builtin/fetch"
	"github.com/joeycumines/js-test-helpers/internal/suite"
)

const (
	notSetUpMessage = "fetchRespond(): fetchRespond has to be called after setupFakeFetch() and before teardownFakeFetch()"
	statusMessage   = "First argument to resolveWith must be a number representing the response status."
)

// pending is an intercepted call awaiting a response.
type pending struct {
	resolve func(v goja.Value)
	reject  func(v goja.Value)
}

// Registry tracks the calls made to the fake fetch. It is bound to a single
// runtime and must only be used on its event loop.
type Registry struct {
	engine    *async.Engine
	lifecycle async.Lifecycle
	logger    *slog.Logger

	active bool
	saved  goja.Value
	// paths in first-requested order; entries are FIFO per path
	paths   []string
	entries map[string][]*pending
	calls   []string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates a Registry. The engine and lifecycle back setupFakeFetchAsync
// and waitUntilFetchExists.
func New(engine *async.Engine, lifecycle async.Lifecycle, opts ...Option) *Registry {
	r := &Registry{
		engine:    engine,
		lifecycle: lifecycle,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Active reports whether the fake fetch is installed.
func (r *Registry) Active() bool {
	return r.active
}

// Setup installs the interceptor as the global fetch, saving the current one,
// and resets the registry. Calling it again while active only resets.
func (r *Registry) Setup(vm *goja.Runtime) error {
	if !r.active {
		r.saved = vm.Get("fetch")
	}
	r.active = true
	r.paths = nil
	r.entries = make(map[string][]*pending)
	r.calls = nil
	return fetch.SetGlobal(vm, "fetch", r.interceptor(vm))
}

// Teardown restores the saved fetch and discards the registry. It is a no-op
// when not set up.
func (r *Registry) Teardown(vm *goja.Runtime) error {
	if !r.active {
		return nil
	}
	r.active = false
	saved := r.saved
	r.saved = nil
	r.paths = nil
	r.entries = nil
	r.calls = nil
	if saved == nil {
		_ = vm.GlobalObject().Delete("fetch")
		if win, ok := vm.Get("window").(*goja.Object); ok {
			_ = win.Delete("fetch")
		}
		return nil
	}
	return fetch.SetGlobal(vm, "fetch", saved)
}

// Calls returns the intercepted paths, in call order.
func (r *Registry) Calls() []string {
	return append([]string(nil), r.calls...)
}

// Pending returns the paths awaiting a response, in first-requested order,
// each repeated once per pending call.
func (r *Registry) Pending() []string {
	var out []string
	for _, path := range r.paths {
		for range r.entries[path] {
			out = append(out, path)
		}
	}
	return out
}

func (r *Registry) interceptor(vm *goja.Runtime) goja.Value {
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		promise, resolve, reject := vm.NewPromise()
		if !r.active {
			reject(vm.NewTypeError("Failed to fetch: fake fetch was torn down"))
			return vm.ToValue(promise)
		}
		if _, seen := r.entries[path]; !seen {
			r.paths = append(r.paths, path)
		}
		r.entries[path] = append(r.entries[path], &pending{
			resolve: func(v goja.Value) { resolve(v) },
			reject:  func(v goja.Value) { reject(v) },
		})
		r.calls = append(r.calls, path)
		r.logger.Debug("fetch intercepted", "path", path)
		return vm.ToValue(promise)
	})
}

func formatPaths(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = "'" + p + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// Respond pops the oldest pending call of path.
func (r *Registry) Respond(path string) (*Responder, error) {
	if !r.active {
		return nil, &async.UsageError{Message: notSetUpMessage}
	}
	queue := r.entries[path]
	if len(queue) == 0 {
		return nil, &async.UsageError{Message: fmt.Sprintf("fetchRespond(): Could not find '%s' among the fetched paths: %s", path, formatPaths(r.Pending()))}
	}
	p := queue[0]
	r.entries[path] = queue[1:]
	return &Responder{path: path, p: p}, nil
}

// Responder settles one intercepted call.
type Responder struct {
	path string
	p    *pending
}

// ResolveWith resolves the call with a Response of status whose json()
// yields body and whose text() yields its JSON encoding.
func (s *Responder) ResolveWith(vm *goja.Runtime, status int, body goja.Value) {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	resp := &fetch.Response{
		Status: status,
		URL:    s.path,
		Header: header,
		JSON: func(*goja.Runtime) (goja.Value, error) {
			if body == nil {
				return goja.Undefined(), nil
			}
			return body, nil
		},
		Text: func(vm *goja.Runtime) (goja.Value, error) {
			text, err := fetch.StringifyJSON(vm, body)
			if err != nil {
				return nil, err
			}
			return vm.ToValue(text), nil
		},
	}
	s.p.resolve(resp.Object(vm))
}

// RejectWith rejects the call with reason.
func (s *Responder) RejectWith(reason goja.Value) {
	s.p.reject(reason)
}

// Object returns the JS {resolveWith, rejectWith} of s.
func (s *Responder) Object(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("path", s.path)
	_ = obj.Set("resolveWith", func(call goja.FunctionCall) goja.Value {
		status := call.Argument(0)
		if _, ok := status.Export().(int64); !ok {
			if _, ok := status.Export().(float64); !ok {
				panic(vm.NewTypeError("%s", statusMessage))
			}
		}
		s.ResolveWith(vm, int(status.ToInteger()), call.Argument(1))
		return goja.Undefined()
	})
	_ = obj.Set("rejectWith", func(call goja.FunctionCall) goja.Value {
		s.RejectWith(call.Argument(0))
		return goja.Undefined()
	})
	return obj
}

// SetupAsync calls setupAsync and registers hooks installing the fake fetch
// before each test and restoring the real one after it.
func (r *Registry) SetupAsync() error {
	if err := r.engine.SetupAsync(); err != nil {
		return err
	}
	if err := r.lifecycle.BeforeEach("setup fake fetch", func(vm *goja.Runtime, _ *suite.Context) (goja.Value, error) {
		return goja.Undefined(), r.Setup(vm)
	}); err != nil {
		return fmt.Errorf("setupFakeFetchAsync(): %w", err)
	}
	if err := r.lifecycle.AfterEach("teardown fake fetch", func(vm *goja.Runtime, _ *suite.Context) (goja.Value, error) {
		return goja.Undefined(), r.Teardown(vm)
	}); err != nil {
		return fmt.Errorf("setupFakeFetchAsync(): %w", err)
	}
	return nil
}

// WaitUntilExists appends a polling step that resolves with the responder of
// the first call of path.
func (r *Registry) WaitUntilExists(vm *goja.Runtime, path string) error {
	predicate := vm.ToValue(func(goja.FunctionCall) goja.Value {
		resp, err := r.Respond(path)
		if err != nil {
			panic(async.Throwable(vm, err))
		}
		return resp.Object(vm)
	})
	descriptor := vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(fmt.Sprintf("waitUntilFetchExists(): no fetch of '%s' was made. Pending paths: %s", path, formatPaths(r.Pending())))
	})
	return r.engine.WaitUntil(vm, predicate, descriptor)
}

// Require returns the loader of the jth:fetch-fake module.
//
//	const { setupFakeFetch, teardownFakeFetch, fetchRespond } = require('jth:fetch-fake');
func Require(r *Registry) require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		for name, fn := range r.Exports(runtime) {
			_ = exports.Set(name, fn)
		}
	}
}

// Exports returns the JS functions of the module, keyed by export name.
func (r *Registry) Exports(runtime *goja.Runtime) map[string]goja.Value {
	throw := func(err error) {
		panic(async.Throwable(runtime, err))
	}
	return map[string]goja.Value{
		// setupFakeFetch(): void
		"setupFakeFetch": runtime.ToValue(func(goja.FunctionCall) goja.Value {
			if err := r.Setup(runtime); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),

		// teardownFakeFetch(): void
		"teardownFakeFetch": runtime.ToValue(func(goja.FunctionCall) goja.Value {
			if err := r.Teardown(runtime); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),

		// fetchRespond(path: string): {resolveWith(status, body), rejectWith(error)}
		"fetchRespond": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			resp, err := r.Respond(call.Argument(0).String())
			if err != nil {
				throw(err)
			}
			return resp.Object(runtime)
		}),

		// calls(): string[]
		"calls": runtime.ToValue(func(goja.FunctionCall) goja.Value {
			calls := r.Calls()
			items := make([]any, len(calls))
			for i, c := range calls {
				items[i] = c
			}
			return runtime.NewArray(items...)
		}),

		// setupFakeFetchAsync(): void
		"setupFakeFetchAsync": runtime.ToValue(func(goja.FunctionCall) goja.Value {
			if err := r.SetupAsync(); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),

		// waitUntilFetchExists(path: string): void
		"waitUntilFetchExists": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			if err := r.WaitUntilExists(runtime, call.Argument(0).String()); err != nil {
				throw(err)
			}
			return goja.Undefined()
		}),
	}
}
