package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/spf13/afero"

	"github.com/joeycumines/js-test-helpers/internal/async"
	"github.com/joeycumines/js-test-helpers/internal/builtin/acceptance"
	"github.com/joeycumines/js-test-helpers/internal/builtin/assert"
	"github.com/joeycumines/js-test-helpers/internal/builtin/fakefetch"
	"github.com/joeycumines/js-test-helpers/internal/builtin/fakexhr"
	"github.com/joeycumines/js-test-helpers/internal/builtin/fetch"
	osmod "github.com/joeycumines/js-test-helpers/internal/builtin/os"
	"github.com/joeycumines/js-test-helpers/internal/builtin/smoke"
	"github.com/joeycumines/js-test-helpers/internal/dom"
	"github.com/joeycumines/js-test-helpers/internal/scripting"
	"github.com/joeycumines/js-test-helpers/internal/suite"
)

// Prefix is the namespace of the native modules.
const Prefix = "jth:"

// Host holds the module state bound to one runtime.
type Host struct {
	Engine    *async.Engine
	Document  *dom.Document
	Fetch     *fetch.Client
	FakeFetch *fakefetch.Registry
	Smoke     *smoke.Recorder
	XHR       *fakexhr.Faker
	App       *acceptance.App
	Fixtures  *osmod.Fixtures
}

// Option configures Register.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	pollInterval time.Duration
	fs           afero.Fs
	baseDir      string
	fetchOpts    []fetch.Option
	domOpts      []dom.Option
}

// WithLogger sets the logger handed to every module.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPollInterval sets the polling interval of the async engine.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithFixtures sets the filesystem and base directory of jth:os.
func WithFixtures(fs afero.Fs, baseDir string) Option {
	return func(o *options) {
		o.fs = fs
		o.baseDir = baseDir
	}
}

// WithFetchOptions configures the real fetch and XMLHttpRequest globals.
func WithFetchOptions(opts ...fetch.Option) Option {
	return func(o *options) {
		o.fetchOpts = append(o.fetchOpts, opts...)
	}
}

// WithDOMOptions configures the document.
func WithDOMOptions(opts ...dom.Option) Option {
	return func(o *options) {
		o.domOpts = append(o.domOpts, opts...)
	}
}

// Register installs the document and network globals into rt, then registers
// every native module under Prefix plus the aggregate "jth" module. It must
// be called before any script is loaded, off the event loop.
func Register(ctx context.Context, rt *scripting.Runtime, runner *suite.Runner, opts ...Option) (*Host, error) {
	o := options{logger: rt.Logger()}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Host{
		Engine: async.New(runner, rt.EventLoop(), async.WithPollInterval(o.pollInterval), async.WithLogger(o.logger)),
		Fetch:  fetch.New(ctx, rt, append([]fetch.Option{fetch.WithLogger(o.logger)}, o.fetchOpts...)...),
	}
	if err := rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		doc, err := dom.Install(vm, append([]dom.Option{dom.WithLogger(o.logger)}, o.domOpts...)...)
		if err != nil {
			return err
		}
		h.Document = doc
		return h.Fetch.Install(vm)
	}); err != nil {
		return nil, fmt.Errorf("failed to install globals: %w", err)
	}

	h.FakeFetch = fakefetch.New(h.Engine, runner, fakefetch.WithLogger(o.logger))
	h.Smoke = smoke.New(h.Engine, runner, o.logger)
	h.XHR = fakexhr.New(h.Engine, o.logger)
	h.App = acceptance.New(h.Engine, runner, h.Document, acceptance.WithLogger(o.logger))
	h.Fixtures = osmod.New(o.fs, o.baseDir)

	registry := rt.Registry()
	registry.RegisterNativeModule(Prefix+"async", async.Require(h.Engine))
	registry.RegisterNativeModule(Prefix+"fetch", h.Fetch.Require())
	registry.RegisterNativeModule(Prefix+"fetch-fake", fakefetch.Require(h.FakeFetch))
	registry.RegisterNativeModule(Prefix+"smoke", smoke.Require(h.Smoke))
	registry.RegisterNativeModule(Prefix+"xhr", fakexhr.Require(h.XHR))
	registry.RegisterNativeModule(Prefix+"acceptance", acceptance.Require(h.App))
	registry.RegisterNativeModule(Prefix+"assert", assert.Require())
	registry.RegisterNativeModule(Prefix+"os", osmod.Require(h.Fixtures))
	registry.RegisterNativeModule("jth", h.aggregate())
	return h, nil
}

// aggregate re-exports the helper modules from a single module, the way
// scripts usually import them.
//
//	const { setupAsync, andThen, click, setupFakeFetch, findXhr } = require('jth');
func (h *Host) aggregate() require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		for name, fn := range h.Exports(runtime) {
			_ = exports.Set(name, fn)
		}
	}
}

// Exports merges the exports of the helper modules. Names are unique across
// modules.
func (h *Host) Exports(runtime *goja.Runtime) map[string]goja.Value {
	out := make(map[string]goja.Value)
	for _, part := range []map[string]goja.Value{
		h.Engine.Exports(runtime),
		h.FakeFetch.Exports(runtime),
		h.Smoke.Exports(runtime),
		h.XHR.Exports(runtime),
		h.App.Exports(runtime),
	} {
		for name, fn := range part {
			out[name] = fn
		}
	}
	return out
}
