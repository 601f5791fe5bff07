// Package smoke wraps the real fetch so smoke tests can wait for the
// responses of requests made by the code under test.
package smoke

import (
	"fmt"
	"log/slog"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/joeycumines/js-test-helpers/internal/async"
	"github.com/joeycumines/js-test-helpers/internal/builtin/fetch"
	"github.com/joeycumines/js-test-helpers/internal/suite"
)

// Recorder remembers the promise returned by the latest fetch of each path.
type Recorder struct {
	engine    *async.Engine
	lifecycle async.Lifecycle
	logger    *slog.Logger

	active   bool
	saved    goja.Value
	returned map[string]goja.Value
}

// New creates a Recorder.
func New(engine *async.Engine, lifecycle async.Lifecycle, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{engine: engine, lifecycle: lifecycle, logger: logger}
}

// Setup wraps the global fetch.
func (r *Recorder) Setup(vm *goja.Runtime) error {
	if r.active {
		r.returned = make(map[string]goja.Value)
		return nil
	}
	original, ok := goja.AssertFunction(vm.Get("fetch"))
	if !ok {
		return &async.UsageError{TypeError: true, Message: "setupSmoke(): fetch is not a function"}
	}
	r.active = true
	r.saved = vm.Get("fetch")
	r.returned = make(map[string]goja.Value)
	return fetch.SetGlobal(vm, "fetch", vm.ToValue(func(call goja.FunctionCall) goja.Value {
		v, err := original(call.This, call.Arguments...)
		if err != nil {
			panic(async.Throwable(vm, err))
		}
		path := call.Argument(0).String()
		if r.returned != nil {
			r.returned[path] = v
		}
		r.logger.Debug("smoke fetch", "path", path)
		return v
	}))
}

// Teardown restores the original fetch.
func (r *Recorder) Teardown(vm *goja.Runtime) error {
	if !r.active {
		return nil
	}
	r.active = false
	saved := r.saved
	r.saved, r.returned = nil, nil
	return fetch.SetGlobal(vm, "fetch", saved)
}

// Returned reports the value the latest fetch of path returned.
func (r *Recorder) Returned(path string) (goja.Value, bool) {
	v, ok := r.returned[path]
	return v, ok
}

// SetupAsync calls setupAsync and wraps fetch around every test.
func (r *Recorder) SetupAsync() error {
	if err := r.engine.SetupAsync(); err != nil {
		return err
	}
	if err := r.lifecycle.BeforeEach("setup smoke fetch", func(vm *goja.Runtime, _ *suite.Context) (goja.Value, error) {
		return goja.Undefined(), r.Setup(vm)
	}); err != nil {
		return fmt.Errorf("setupSmoke(): %w", err)
	}
	if err := r.lifecycle.AfterEach("teardown smoke fetch", func(vm *goja.Runtime, _ *suite.Context) (goja.Value, error) {
		return goja.Undefined(), r.Teardown(vm)
	}); err != nil {
		return fmt.Errorf("setupSmoke(): %w", err)
	}
	return nil
}

// WaitUntilFetchResolves appends a step that waits for the latest fetch of
// path, as recorded when the step runs.
func (r *Recorder) WaitUntilFetchResolves(vm *goja.Runtime, path string) error {
	return r.engine.AndThenFunc(vm, func(goja.Value) (goja.Value, error) {
		v, ok := r.Returned(path)
		if !ok {
			r.logger.Debug("no fetch recorded", "path", path)
			return goja.Undefined(), nil
		}
		return v, nil
	})
}

// Require returns the loader of the jth:smoke module.
//
//	const { setupSmoke, waitUntilFetchResolves } = require('jth:smoke');
func Require(r *Recorder) require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		for name, fn := range r.Exports(runtime) {
			_ = exports.Set(name, fn)
		}
	}
}

// Exports returns the JS functions of the module, keyed by export name.
func (r *Recorder) Exports(runtime *goja.Runtime) map[string]goja.Value {
	return map[string]goja.Value{
		// setupSmoke(): void
		"setupSmoke": runtime.ToValue(func(goja.FunctionCall) goja.Value {
			if err := r.SetupAsync(); err != nil {
				panic(async.Throwable(runtime, err))
			}
			return goja.Undefined()
		}),

		// waitUntilFetchResolves(path: string): void
		"waitUntilFetchResolves": runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			if err := r.WaitUntilFetchResolves(runtime, call.Argument(0).String()); err != nil {
				panic(async.Throwable(runtime, err))
			}
			return goja.Undefined()
		}),
	}
}
