// Package suite implements a mocha-style test runner for scripts executed in a
// scripting.Runtime: describe/it blocks, before/after hooks, per-test timeouts
// that hooks can read and override, and a per-test value store that other
// modules (such as the async engine) use to attach state to the running test.
package suite

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// Func is the Go form of every runnable (test body or hook). The returned
// value may be a thenable, in which case the runner waits for it to settle.
// Func is always invoked on the event loop goroutine.
type Func func(vm *goja.Runtime, c *Context) (goja.Value, error)

// Hook is a named before/after hook.
type Hook struct {
	Title string
	Fn    Func
}

// State is the outcome of a test.
type State int

const (
	StatePending State = iota
	StatePassed
	StateFailed
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

// Suite is a describe block.
type Suite struct {
	Title  string
	Parent *Suite
	Suites []*Suite
	Tests  []*Test
	Skip   bool
	Only   bool

	beforeAll  []*Hook
	afterAll   []*Hook
	beforeEach []*Hook
	afterEach  []*Hook

	// timeout is negative when inherited from the parent
	timeout time.Duration
}

func newSuite(title string, parent *Suite) *Suite {
	return &Suite{Title: title, Parent: parent, timeout: -1}
}

// FullTitle joins the titles of the suite and its ancestors.
func (s *Suite) FullTitle() string {
	var parts []string
	for cur := s; cur != nil; cur = cur.Parent {
		if cur.Title != "" {
			parts = append(parts, cur.Title)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " ")
}

// Timeout returns the effective timeout for tests in this suite, falling back
// to def when neither the suite nor an ancestor set one.
func (s *Suite) Timeout(def time.Duration) time.Duration {
	for cur := s; cur != nil; cur = cur.Parent {
		if cur.timeout >= 0 {
			return cur.timeout
		}
	}
	return def
}

// SetTimeout sets the timeout inherited by the suite's tests.
func (s *Suite) SetTimeout(d time.Duration) {
	s.timeout = d
}

// BeforeEach registers a hook run before every test in the suite tree.
func (s *Suite) BeforeEach(title string, fn Func) {
	s.beforeEach = append(s.beforeEach, &Hook{Title: title, Fn: fn})
}

// AfterEach registers a hook run after every test in the suite tree.
func (s *Suite) AfterEach(title string, fn Func) {
	s.afterEach = append(s.afterEach, &Hook{Title: title, Fn: fn})
}

// BeforeAll registers a hook run once before the suite's tests.
func (s *Suite) BeforeAll(title string, fn Func) {
	s.beforeAll = append(s.beforeAll, &Hook{Title: title, Fn: fn})
}

// AfterAll registers a hook run once after the suite's tests.
func (s *Suite) AfterAll(title string, fn Func) {
	s.afterAll = append(s.afterAll, &Hook{Title: title, Fn: fn})
}

// beforeEachChain returns before-each hooks outermost first.
func (s *Suite) beforeEachChain() []*Hook {
	var chain []*Hook
	for cur := s; cur != nil; cur = cur.Parent {
		chain = append(append([]*Hook(nil), cur.beforeEach...), chain...)
	}
	return chain
}

// afterEachChain returns after-each hooks innermost first, each suite's hooks
// in registration order.
func (s *Suite) afterEachChain() []*Hook {
	var chain []*Hook
	for cur := s; cur != nil; cur = cur.Parent {
		chain = append(chain, cur.afterEach...)
	}
	return chain
}

func (s *Suite) skipped() bool {
	for cur := s; cur != nil; cur = cur.Parent {
		if cur.Skip {
			return true
		}
	}
	return false
}

func (s *Suite) only() bool {
	for cur := s; cur != nil; cur = cur.Parent {
		if cur.Only {
			return true
		}
	}
	return false
}

func (s *Suite) hasOnly() bool {
	if s.Only {
		return true
	}
	for _, t := range s.Tests {
		if t.Only {
			return true
		}
	}
	for _, child := range s.Suites {
		if child.hasOnly() {
			return true
		}
	}
	return false
}

// Test is an it block.
type Test struct {
	Title string
	Suite *Suite
	Fn    Func
	Skip  bool
	Only  bool

	State    State
	Err      error
	Duration time.Duration

	timeout atomic.Int64

	mu     sync.Mutex
	values map[any]any
}

// FullTitle joins the suite titles and the test title.
func (t *Test) FullTitle() string {
	if prefix := t.Suite.FullTitle(); prefix != "" {
		return prefix + " " + t.Title
	}
	return t.Title
}

// Timeout returns the test's timeout. Zero means no timeout.
func (t *Test) Timeout() time.Duration {
	return time.Duration(t.timeout.Load())
}

// SetTimeout overrides the test's timeout.
func (t *Test) SetTimeout(d time.Duration) {
	t.timeout.Store(int64(d))
}

// Value returns the value stored under key, or nil.
func (t *Test) Value(key any) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values[key]
}

// SetValue stores a value for the lifetime of the test run.
func (t *Test) SetValue(key, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.values == nil {
		t.values = make(map[any]any)
	}
	t.values[key] = value
}

// DeleteValue removes the value stored under key.
func (t *Test) DeleteValue(key any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.values, key)
}

func (t *Test) clearValues() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values = nil
}

// Context is handed to every runnable invocation. Within JS it is exposed as
// `this`, with timeout() and currentTest.
type Context struct {
	test    *Test
	suite   *Suite
	isTest  bool
	timeout atomic.Int64
}

func newContext(test *Test, suite *Suite, isTest bool, timeout time.Duration) *Context {
	c := &Context{test: test, suite: suite, isTest: isTest}
	c.timeout.Store(int64(timeout))
	return c
}

// Test returns the test the runnable belongs to, nil for before/after-all hooks.
func (c *Context) Test() *Test {
	return c.test
}

// Suite returns the suite the runnable belongs to.
func (c *Context) Suite() *Suite {
	return c.suite
}

// Timeout returns the timeout the runner applies to the current runnable.
func (c *Context) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// SetTimeout overrides the runnable's timeout; zero disables it. Inside a test
// body it also changes the test's own timeout.
func (c *Context) SetTimeout(d time.Duration) {
	c.timeout.Store(int64(d))
	if c.isTest && c.test != nil {
		c.test.SetTimeout(d)
	}
}
