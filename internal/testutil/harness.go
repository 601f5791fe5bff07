package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	testifyrequire "github.com/stretchr/testify/require"

	"github.com/joeycumines/js-test-helpers/internal/async"
	"github.com/joeycumines/js-test-helpers/internal/scripting"
	"github.com/joeycumines/js-test-helpers/internal/suite"
)

// Harness runs test scripts against a runtime, runner and async engine, the
// way the CLI wires them.
type Harness struct {
	Runtime *scripting.Runtime
	Runner  *suite.Runner
	Engine  *async.Engine
}

// HarnessOption configures a Harness.
type HarnessOption func(*harnessOptions)

type harnessOptions struct {
	timeout      time.Duration
	pollInterval time.Duration
}

// WithTestTimeout sets the default test timeout of the runner.
func WithTestTimeout(d time.Duration) HarnessOption {
	return func(o *harnessOptions) {
		o.timeout = d
	}
}

// WithPollInterval sets the polling interval of the engine.
func WithPollInterval(d time.Duration) HarnessOption {
	return func(o *harnessOptions) {
		o.pollInterval = d
	}
}

// NewHarness creates a Harness with jth:async registered. It is closed on
// test cleanup.
func NewHarness(t testing.TB, opts ...HarnessOption) *Harness {
	t.Helper()
	o := harnessOptions{
		timeout:      time.Second,
		pollInterval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}

	rt, err := scripting.NewRuntime(context.Background(), scripting.WithConsole(false))
	testifyrequire.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	runner, err := suite.New(rt, suite.WithTimeout(o.timeout))
	testifyrequire.NoError(t, err)

	engine := async.New(runner, rt.EventLoop(), async.WithPollInterval(o.pollInterval))
	rt.Registry().RegisterNativeModule("jth:async", async.Require(engine))
	return &Harness{Runtime: rt, Runner: runner, Engine: engine}
}

// Register adds a native module.
func (h *Harness) Register(name string, loader require.ModuleLoader) {
	h.Runtime.Registry().RegisterNativeModule(name, loader)
}

// OnLoop runs fn on the event loop and fails the test on error.
func (h *Harness) OnLoop(t testing.TB, fn func(vm *goja.Runtime) error) {
	t.Helper()
	testifyrequire.NoError(t, h.Runtime.RunOnLoopSync(fn))
}

// Run loads script, which defines suites, and runs them.
func (h *Harness) Run(t testing.TB, script string) *suite.Report {
	t.Helper()
	testifyrequire.NoError(t, h.Runtime.LoadScript("test.js", script))
	rep, err := h.Runner.Run(context.Background())
	testifyrequire.NoError(t, err)
	return rep
}

// Global exports a global variable.
func (h *Harness) Global(t testing.TB, name string) any {
	t.Helper()
	v, err := h.Runtime.GetGlobal(name)
	testifyrequire.NoError(t, err)
	return v
}

// TestErr returns the error of the test titled title.
func TestErr(t testing.TB, rep *suite.Report, title string) error {
	t.Helper()
	for _, test := range rep.Tests {
		if test.Title == title {
			return test.Err
		}
	}
	t.Fatalf("test %q not found", title)
	return nil
}

// Failures lists the failed tests of rep with their errors, for assertion
// messages.
func Failures(rep *suite.Report) []string {
	var out []string
	for _, test := range rep.Tests {
		if test.Err != nil {
			out = append(out, test.FullTitle()+": "+test.Err.Error())
		}
	}
	for _, err := range rep.HookErrors {
		out = append(out, err.Error())
	}
	return out
}
