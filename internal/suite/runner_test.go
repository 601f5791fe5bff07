package suite

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/js-test-helpers/internal/scripting"
)

func newTestRunner(t *testing.T, script string, opts ...Option) (*Runner, *scripting.Runtime) {
	t.Helper()
	rt, err := scripting.NewRuntime(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	r, err := New(rt, opts...)
	require.NoError(t, err)
	require.NoError(t, rt.LoadScript("test.js", "var log = [];\n"+script))
	return r, rt
}

func jsLog(t *testing.T, rt *scripting.Runtime) []string {
	t.Helper()
	var out []string
	require.NoError(t, rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		return vm.ExportTo(vm.Get("log"), &out)
	}))
	return out
}

func states(rep *Report) map[string]State {
	m := make(map[string]State)
	for _, test := range rep.Tests {
		m[test.FullTitle()] = test.State
	}
	return m
}

func TestRunner_HookOrder(t *testing.T) {
	t.Parallel()
	r, rt := newTestRunner(t, `
		before(function() { log.push('root before'); });
		beforeEach(function() { log.push('root beforeEach'); });
		afterEach(function() { log.push('root afterEach'); });
		describe('outer', function() {
			beforeEach(function() { log.push('outer beforeEach 1'); });
			beforeEach(function() { log.push('outer beforeEach 2'); });
			afterEach(function() { log.push('outer afterEach 1'); });
			afterEach(function() { log.push('outer afterEach 2'); });
			it('runs', function() { log.push('test'); });
			after(function() { log.push('outer after'); });
		});
	`)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, 1, rep.Passed)
	assert.NotEmpty(t, rep.RunID)

	assert.Equal(t, []string{
		"root before",
		"root beforeEach",
		"outer beforeEach 1",
		"outer beforeEach 2",
		"test",
		"outer afterEach 1",
		"outer afterEach 2",
		"root afterEach",
		"outer after",
	}, jsLog(t, rt))
}

func TestRunner_FailuresAndAfterEach(t *testing.T) {
	t.Parallel()
	r, rt := newTestRunner(t, `
		afterEach(function() { log.push('afterEach ' + this.currentTest.title); });
		describe('suite', function() {
			it('throws', function() { throw new Error('sync failure'); });
			it('rejects', function() { return Promise.reject(new Error('async failure')); });
			it('passes', function() { return new Promise(function(r) { setTimeout(r, 5); }); });
		});
	`)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 2, rep.Failed)

	require.Len(t, rep.Tests, 3)
	assert.EqualError(t, rep.Tests[0].Err, "sync failure")
	assert.EqualError(t, rep.Tests[1].Err, "async failure")
	assert.NoError(t, rep.Tests[2].Err)

	assert.Equal(t, []string{
		"afterEach throws",
		"afterEach rejects",
		"afterEach passes",
	}, jsLog(t, rt))
}

func TestRunner_Timeouts(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, `
		describe('timeouts', function() {
			this.timeout(30);
			it('never settles', function() { return new Promise(function() {}); });
			it('extends its own timeout', function() {
				this.timeout(200);
				return new Promise(function(r) { setTimeout(r, 60); });
			});
			it('reports the inherited timeout', function() {
				if (this.timeout() !== 30) throw new Error('timeout was ' + this.timeout());
			});
		});
	`)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Tests, 3)
	assert.ErrorIs(t, rep.Tests[0].Err, ErrTimeout)
	assert.Contains(t, rep.Tests[0].Err.Error(), "after 30ms")
	assert.Equal(t, StatePassed, rep.Tests[1].State)
	assert.Equal(t, StatePassed, rep.Tests[2].State)
}

func TestRunner_DoneCallback(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, `
		it('calls done', function(done) { setTimeout(function() { done(); }, 5); });
		it('fails through done', function(done) { done(new Error('via done')); });
	`)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Tests, 2)
	assert.Equal(t, StatePassed, rep.Tests[0].State)
	assert.EqualError(t, rep.Tests[1].Err, "via done")
}

func TestRunner_SkipAndOnly(t *testing.T) {
	t.Parallel()
	r, rt := newTestRunner(t, `
		it('ignored', function() { log.push('ignored'); });
		describe.only('focused', function() {
			it('runs', function() { log.push('runs'); });
			it.skip('skipped', function() { log.push('skipped'); });
			it('pending');
		});
		describe('other', function() {
			it.only('also focused', function() { log.push('also focused'); });
		});
		xdescribe('disabled', function() {
			it('disabled test', function() { log.push('disabled'); });
		});
	`)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]State{
		"focused runs":       StatePassed,
		"focused skipped":    StateSkipped,
		"focused pending":    StateSkipped,
		"other also focused": StatePassed,
	}, states(rep))
	assert.Equal(t, []string{"runs", "also focused"}, jsLog(t, rt))
}

func TestRunner_BeforeAllFailureSkipsSuite(t *testing.T) {
	t.Parallel()
	r, rt := newTestRunner(t, `
		describe('broken', function() {
			before(function() { throw new Error('setup failed'); });
			it('never runs', function() { log.push('ran'); });
			describe('nested', function() {
				it('never runs either', function() { log.push('ran nested'); });
			});
		});
	`)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.OK())
	require.Len(t, rep.HookErrors, 1)
	assert.Contains(t, rep.HookErrors[0].Error(), "setup failed")
	assert.Equal(t, 2, rep.Skipped)
	assert.Empty(t, jsLog(t, rt))
}

func TestRunner_GoHooksAndContextTimeout(t *testing.T) {
	t.Parallel()
	rt, err := scripting.NewRuntime(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	r, err := New(rt, WithTimeout(40*time.Millisecond))
	require.NoError(t, err)

	var seen []time.Duration
	require.NoError(t, r.BeforeEach("record", func(vm *goja.Runtime, c *Context) (goja.Value, error) {
		assert.Same(t, c.Test(), r.Current())
		c.Test().SetValue("key", "value")
		return goja.Undefined(), nil
	}))
	require.NoError(t, r.AfterEach("slow drain", func(vm *goja.Runtime, c *Context) (goja.Value, error) {
		seen = append(seen, c.Timeout())
		assert.Equal(t, "value", c.Test().Value("key"))
		// the hook takes over timing by disabling the runner timeout
		c.SetTimeout(0)
		promise, resolve, _ := vm.NewPromise()
		rt.EventLoop().SetTimeout(func(*goja.Runtime) {
			resolve(goja.Undefined())
		}, 80*time.Millisecond)
		return vm.ToValue(promise), nil
	}))
	require.NoError(t, rt.LoadScript("test.js", `
		it('default timeout', function() {});
		it('custom timeout', function() { this.timeout(10); });
	`))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.OK(), "%+v", rep.Tests)
	assert.Equal(t, []time.Duration{40 * time.Millisecond, 10 * time.Millisecond}, seen)
	assert.Nil(t, r.Current())
	assert.Nil(t, rep.Tests[0].Value("key"))

	_, err = r.Run(context.Background())
	require.NoError(t, err)
}

func TestRunner_ContextCancel(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, `
		it('hangs', function() { this.timeout(0); return new Promise(function() {}); });
		it('never reached', function() {});
	`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	rep, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, rep.Tests, 0)
}

func TestRunner_Filter(t *testing.T) {
	t.Parallel()
	filter, err := CompileFilter(`suite == "xhr" || title contains "respond"`)
	require.NoError(t, err)

	r, _ := newTestRunner(t, `
		describe('xhr', function() { it('opens', function() {}); });
		describe('fetch', function() {
			it('responds', function() {});
			it('rejects', function() {});
		});
	`, WithFilter(filter))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]State{
		"xhr opens":      StatePassed,
		"fetch responds": StatePassed,
	}, states(rep))
}

func TestCompileFilter(t *testing.T) {
	t.Parallel()

	f, err := CompileFilter("")
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = CompileFilter("fake fetch")
	require.NoError(t, err)
	s := newSuite("fake fetch", newSuite("", nil))
	assert.True(t, f.Match(&Test{Title: "responds", Suite: s}))
	assert.False(t, f.Match(&Test{Title: "responds", Suite: newSuite("xhr", nil)}))

	_, err = CompileFilter("title == (")
	assert.Error(t, err)
}

func TestRunner_RegisterWhileRunning(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, `
		it('registers a hook', function() { beforeEach(function() {}); });
	`)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Tests, 1)
	assert.ErrorContains(t, rep.Tests[0].Err, ErrRunning.Error())
}

func TestSpecReporter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r, _ := newTestRunner(t, `
		describe('reporting', function() {
			it('passes', function() {});
			it('fails', function() { throw new Error('broken'); });
			it('waits');
		});
	`, WithReporter(NewSpecReporter(&buf, false)))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "reporting\n")
	assert.Contains(t, out, "✓ passes")
	assert.Contains(t, out, "1) fails")
	assert.Contains(t, out, "- waits")
	assert.Contains(t, out, "1 passing")
	assert.Contains(t, out, "1 pending")
	assert.Contains(t, out, "1 failing")
	assert.Contains(t, out, "1) reporting fails:\n     broken")
	assert.Contains(t, out, rep.RunID)
	assert.NotContains(t, out, "\x1b[")
}
