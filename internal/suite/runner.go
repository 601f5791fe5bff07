package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/joeycumines/js-test-helpers/internal/scripting"
)

// DefaultTimeout is the per-test timeout used when neither the runner nor a
// suite configures one.
const DefaultTimeout = 2 * time.Second

var (
	// ErrTimeout is wrapped by errors for runnables that did not settle in time.
	ErrTimeout = errors.New("timeout exceeded")

	// ErrRunning is returned when the suite tree is modified during a run.
	ErrRunning = errors.New("runner is already running")

	errRuntimeStopped = errors.New("runtime stopped before the runnable settled")
)

// Runner builds and executes a suite tree inside a scripting.Runtime.
type Runner struct {
	rt       *scripting.Runtime
	logger   *slog.Logger
	reporter Reporter
	filter   *Filter
	timeout  time.Duration

	mu       sync.Mutex
	root     *Suite
	building *Suite
	running  bool

	current atomic.Pointer[Test]
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the default per-test timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithReporter sets the reporter notified of suite and test events.
func WithReporter(reporter Reporter) Option {
	return func(r *Runner) {
		r.reporter = reporter
	}
}

// WithFilter restricts the run to tests matching the filter.
func WithFilter(filter *Filter) Option {
	return func(r *Runner) {
		r.filter = filter
	}
}

// New creates a Runner and installs the describe/it/hook globals into rt.
func New(rt *scripting.Runtime, opts ...Option) (*Runner, error) {
	r := &Runner{
		rt:      rt,
		timeout: DefaultTimeout,
		root:    newSuite("", nil),
	}
	r.building = r.root
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = rt.Logger()
	}
	if r.reporter == nil {
		r.reporter = nopReporter{}
	}
	if err := rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		return r.installGlobals(vm)
	}); err != nil {
		return nil, fmt.Errorf("failed to install runner globals: %w", err)
	}
	return r, nil
}

// Root returns the root suite.
func (r *Runner) Root() *Suite {
	return r.root
}

// Current returns the test being run, or nil between tests.
func (r *Runner) Current() *Test {
	return r.current.Load()
}

// BeforeEach registers a before-each hook on the suite currently being
// defined (the root suite outside of describe callbacks).
func (r *Runner) BeforeEach(title string, fn Func) error {
	s, err := r.definingSuite()
	if err != nil {
		return err
	}
	s.BeforeEach(title, fn)
	return nil
}

// AfterEach registers an after-each hook on the suite currently being defined.
func (r *Runner) AfterEach(title string, fn Func) error {
	s, err := r.definingSuite()
	if err != nil {
		return err
	}
	s.AfterEach(title, fn)
	return nil
}

// BeforeAll registers a before-all hook on the suite currently being defined.
func (r *Runner) BeforeAll(title string, fn Func) error {
	s, err := r.definingSuite()
	if err != nil {
		return err
	}
	s.BeforeAll(title, fn)
	return nil
}

// AfterAll registers an after-all hook on the suite currently being defined.
func (r *Runner) AfterAll(title string, fn Func) error {
	s, err := r.definingSuite()
	if err != nil {
		return err
	}
	s.AfterAll(title, fn)
	return nil
}

// Test registers a test on the suite currently being defined.
func (r *Runner) Test(title string, fn Func) (*Test, error) {
	s, err := r.definingSuite()
	if err != nil {
		return nil, err
	}
	t := &Test{Title: title, Suite: s, Fn: fn, Skip: fn == nil}
	s.Tests = append(s.Tests, t)
	return t, nil
}

// Describe registers a child suite of the suite currently being defined and
// calls define with the new suite as the defining suite.
func (r *Runner) Describe(title string, define func(s *Suite) error) (*Suite, error) {
	parent, err := r.definingSuite()
	if err != nil {
		return nil, err
	}
	child := newSuite(title, parent)
	parent.Suites = append(parent.Suites, child)

	r.mu.Lock()
	r.building = child
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.building = parent
		r.mu.Unlock()
	}()

	if define != nil {
		if err := define(child); err != nil {
			return child, err
		}
	}
	return child, nil
}

func (r *Runner) definingSuite() (*Suite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil, ErrRunning
	}
	return r.building, nil
}

// Report summarises a run.
type Report struct {
	RunID    string
	Start    time.Time
	Duration time.Duration
	Passed   int
	Failed   int
	Skipped  int
	Tests    []*Test
	// HookErrors holds before/after-all hook failures.
	HookErrors []error
}

// OK reports whether the run had no failures.
func (rep *Report) OK() bool {
	return rep.Failed == 0 && len(rep.HookErrors) == 0
}

// Run executes the suite tree once. The returned error is only non-nil when
// the run could not complete (context cancelled, runtime stopped); test
// failures are recorded in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	rep := &Report{
		RunID: uuid.NewString(),
		Start: time.Now(),
	}
	logger := r.logger.With("run", rep.RunID)
	logger.Debug("test run started")

	r.reporter.Start(rep)
	err := r.runSuite(ctx, logger, r.root, r.root.hasOnly(), rep)
	rep.Duration = time.Since(rep.Start)
	r.reporter.Done(rep)

	logger.Debug("test run finished",
		"passed", rep.Passed,
		"failed", rep.Failed,
		"skipped", rep.Skipped,
		"duration", rep.Duration)

	return rep, err
}

func (r *Runner) selected(t *Test, hasOnly bool) bool {
	if hasOnly && !t.Only && !t.Suite.only() {
		return false
	}
	if r.filter != nil && !r.filter.Match(t) {
		return false
	}
	return true
}

func (r *Runner) countSelected(s *Suite, hasOnly bool) int {
	n := 0
	for _, t := range s.Tests {
		if r.selected(t, hasOnly) {
			n++
		}
	}
	for _, child := range s.Suites {
		n += r.countSelected(child, hasOnly)
	}
	return n
}

func (r *Runner) runSuite(ctx context.Context, logger *slog.Logger, s *Suite, hasOnly bool, rep *Report) error {
	if r.countSelected(s, hasOnly) == 0 {
		return nil
	}
	if s.Parent != nil {
		r.reporter.SuiteStart(s)
	}

	runnable := !s.skipped()
	if runnable {
		for _, hook := range s.beforeAll {
			c := newContext(nil, s, false, s.Timeout(r.timeout))
			if err := r.invoke(ctx, hook.Fn, c); err != nil {
				if fatal := r.fatal(ctx); fatal != nil {
					return fatal
				}
				err = fmt.Errorf("%q hook %q in %q: %w", "before all", hook.Title, s.FullTitle(), err)
				logger.Warn("hook failed", "error", err)
				rep.HookErrors = append(rep.HookErrors, err)
				r.reporter.HookFailed(s, err)
				runnable = false
				break
			}
		}
	}

	for _, t := range s.Tests {
		if !r.selected(t, hasOnly) {
			continue
		}
		if !runnable || t.Skip {
			t.State = StateSkipped
		} else if err := r.runTest(ctx, logger, t); err != nil {
			return err
		}
		switch t.State {
		case StatePassed:
			rep.Passed++
		case StateFailed:
			rep.Failed++
		default:
			rep.Skipped++
		}
		rep.Tests = append(rep.Tests, t)
		r.reporter.TestEnd(t)
	}

	for _, child := range s.Suites {
		if !runnable {
			child.Skip = true
		}
		if err := r.runSuite(ctx, logger, child, hasOnly, rep); err != nil {
			return err
		}
	}

	if !s.skipped() {
		for _, hook := range s.afterAll {
			c := newContext(nil, s, false, s.Timeout(r.timeout))
			if err := r.invoke(ctx, hook.Fn, c); err != nil {
				if fatal := r.fatal(ctx); fatal != nil {
					return fatal
				}
				err = fmt.Errorf("%q hook %q in %q: %w", "after all", hook.Title, s.FullTitle(), err)
				logger.Warn("hook failed", "error", err)
				rep.HookErrors = append(rep.HookErrors, err)
				r.reporter.HookFailed(s, err)
			}
		}
	}

	if s.Parent != nil {
		r.reporter.SuiteEnd(s)
	}
	return nil
}

func (r *Runner) runTest(ctx context.Context, logger *slog.Logger, t *Test) error {
	t.SetTimeout(t.Suite.Timeout(r.timeout))
	r.current.Store(t)
	defer func() {
		r.current.Store(nil)
		t.clearValues()
	}()

	start := time.Now()
	var testErr error

	for _, hook := range t.Suite.beforeEachChain() {
		c := newContext(t, t.Suite, false, t.Timeout())
		if err := r.invoke(ctx, hook.Fn, c); err != nil {
			testErr = fmt.Errorf("%q hook %q: %w", "before each", hook.Title, err)
			break
		}
	}

	if testErr == nil {
		c := newContext(t, t.Suite, true, t.Timeout())
		testErr = r.invoke(ctx, t.Fn, c)
	}

	// after-each hooks always run, seeing the timeout the test body left behind
	for _, hook := range t.Suite.afterEachChain() {
		if err := r.fatal(ctx); err != nil {
			break
		}
		c := newContext(t, t.Suite, false, t.Timeout())
		if err := r.invoke(ctx, hook.Fn, c); err != nil && testErr == nil {
			testErr = fmt.Errorf("%q hook %q: %w", "after each", hook.Title, err)
		}
	}

	t.Duration = time.Since(start)
	if fatal := r.fatal(ctx); fatal != nil {
		t.State = StateFailed
		t.Err = fatal
		return fatal
	}
	if testErr != nil {
		t.State = StateFailed
		t.Err = testErr
		logger.Debug("test failed", "test", t.FullTitle(), "error", testErr)
	} else {
		t.State = StatePassed
		logger.Debug("test passed", "test", t.FullTitle(), "duration", t.Duration)
	}
	return nil
}

// fatal reports conditions that abort the whole run.
func (r *Runner) fatal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-r.rt.Done():
		return errRuntimeStopped
	default:
		return nil
	}
}

// invoke runs fn on the loop and waits for its result to settle. The timeout
// is read from c after the synchronous call so runnables can change it.
func (r *Runner) invoke(ctx context.Context, fn Func, c *Context) error {
	start := time.Now()
	done := make(chan error, 1)
	if err := r.rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		v, err := fn(vm, c)
		if err != nil {
			return err
		}
		return scripting.Await(vm, v, done)
	}); err != nil {
		return err
	}

	var timer <-chan time.Time
	timeout := c.Timeout()
	if timeout > 0 {
		remaining := timeout - time.Since(start)
		if remaining < 0 {
			remaining = 0
		}
		t := time.NewTimer(remaining)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-done:
		return err
	case <-timer:
		return fmt.Errorf("%w after %dms; if returning a promise, ensure it settles", ErrTimeout, timeout.Milliseconds())
	case <-ctx.Done():
		return ctx.Err()
	case <-r.rt.Done():
		return errRuntimeStopped
	}
}
