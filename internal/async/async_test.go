package async

import (
	"context"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/js-test-helpers/internal/scripting"
	"github.com/joeycumines/js-test-helpers/internal/suite"
)

type harness struct {
	rt     *scripting.Runtime
	runner *suite.Runner
	engine *Engine
}

func newHarness(t *testing.T, timeout time.Duration, opts ...Option) *harness {
	t.Helper()
	rt, err := scripting.NewRuntime(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	runner, err := suite.New(rt, suite.WithTimeout(timeout))
	require.NoError(t, err)

	engine := New(runner, rt.EventLoop(), append([]Option{WithPollInterval(10 * time.Millisecond)}, opts...)...)
	rt.Registry().RegisterNativeModule("jth:async", Require(engine))
	return &harness{rt: rt, runner: runner, engine: engine}
}

const prelude = `
var log = [];
var a = require('jth:async');
var setupAsync = a.setupAsync, andThen = a.andThen, waitUntil = a.waitUntil,
	waitMillis = a.waitMillis, waitUntilChange = a.waitUntilChange, asyncIt = a.asyncIt;
`

func (h *harness) run(t *testing.T, script string) *suite.Report {
	t.Helper()
	require.NoError(t, h.rt.LoadScript("test.js", prelude+script))
	rep, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	return rep
}

func (h *harness) log(t *testing.T) []any {
	t.Helper()
	var out []any
	require.NoError(t, h.rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		out = vm.Get("log").Export().([]any)
		return nil
	}))
	return out
}

func testErr(t *testing.T, rep *suite.Report, title string) error {
	t.Helper()
	for _, test := range rep.Tests {
		if test.Title == title {
			return test.Err
		}
	}
	t.Fatalf("test %q not found", title)
	return nil
}

func TestAndThen_OrderAndValues(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	rep := h.run(t, `
		describe('andThen', function() {
			setupAsync();
			it('delivers values in registration order', function() {
				andThen(function(prev) { log.push('1:' + prev); return 'one'; });
				andThen(function(prev) {
					log.push('2:' + prev);
					return new Promise(function(r) { setTimeout(function() { r('two'); }, 10); });
				});
				andThen(function(prev) { log.push('3:' + prev); return 'three'; });
				andThen(function(prev) { log.push('4:' + prev); });
				log.push('sync');
			});
		});
	`)
	require.True(t, rep.OK(), "%v", rep.Tests[0].Err)
	assert.Equal(t, []any{"sync", "1:undefined", "2:one", "3:two", "4:three"}, h.log(t))
}

func TestAndThen_NoChain(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	rep := h.run(t, `
		describe('without setupAsync', function() {
			it('throws', function() {
				try {
					andThen(function() {});
				} catch (e) {
					log.push(e.message);
				}
				try {
					waitUntil(function() { return true; });
				} catch (e) {
					log.push(e.message);
				}
			});
		});
		try {
			andThen(function() {});
		} catch (e) {
			log.push('definition: ' + e.message);
		}
	`)
	require.True(t, rep.OK())
	msg := "andThen(): no active chain, you cannot use andThen() unless you call setupAsync() at the root of the appropriate describe()"
	assert.Equal(t, []any{"definition: " + msg, msg, msg}, h.log(t))
}

func TestAndThen_NonFunction(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	rep := h.run(t, `
		describe('andThen', function() {
			setupAsync();
			it('rejects non-functions', function() {
				try {
					andThen('nope');
				} catch (e) {
					log.push(e instanceof TypeError, e.message);
				}
			});
		});
	`)
	require.True(t, rep.OK())
	assert.Equal(t, []any{true, "andThen(): step must be a function"}, h.log(t))
}

func TestAndThen_StepErrorFailsFast(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2*time.Second)
	rep := h.run(t, `
		describe('steps', function() {
			setupAsync();
			it('propagates exceptions', function() {
				andThen(function() { throw new Error('step failed'); });
				andThen(function() { log.push('unreachable'); });
			});
		});
	`)
	require.Len(t, rep.Tests, 1)
	assert.EqualError(t, rep.Tests[0].Err, `"after each" hook "drain async chain": step failed`)
	assert.Less(t, rep.Tests[0].Duration, time.Second)
	assert.Empty(t, h.log(t))
}

func TestWaitUntil_FirstAttemptIsImmediate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 300*time.Millisecond, WithPollInterval(time.Hour))
	rep := h.run(t, `
		describe('waitUntil', function() {
			setupAsync();
			it('resolves without waiting for the poll interval', function() {
				andThen(function() { return 'chained'; });
				waitUntil(function(prev) { log.push(prev); return 'truthy'; });
				andThen(function(v) { log.push(v); });
			});
		});
	`)
	require.True(t, rep.OK(), "%v", rep.Tests[0].Err)
	assert.Equal(t, []any{"chained", "truthy"}, h.log(t))
}

func TestWaitUntil_PollsUntilTruthy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	rep := h.run(t, `
		describe('waitUntil', function() {
			setupAsync();
			it('swallows exceptions while polling', function() {
				var value = false;
				setTimeout(function() { value = 'done'; }, 40);
				waitUntil(function() {
					if (!value) throw new Error('not yet');
					return value;
				});
				andThen(function(v) { log.push(v); });
			});
		});
	`)
	require.True(t, rep.OK(), "%v", rep.Tests[0].Err)
	assert.Equal(t, []any{"done"}, h.log(t))
}

func TestWaitUntil_TimeoutMessages(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 60*time.Millisecond)
	rep := h.run(t, `
		describe('timeouts', function() {
			setupAsync();
			it('default', function() { waitUntil(function () { return false; }); });
			it('last exception', function() { waitUntil(function () { throw new Error('still wrong'); }); });
			it('custom string', function() { waitUntil(function () { throw new Error('hidden'); }, 'custom message'); });
			it('lazy function', function() { waitUntil(function () { return false; }, function() { return 13 + 37; }); });
			it('latest wait is blamed', function() {
				waitUntil(function () { return true; }, 'first');
				waitUntil(function () { return false; }, 'second');
			});
		});
	`)
	require.Len(t, rep.Tests, 5)
	prefix := `"after each" hook "drain async chain": `

	assert.EqualError(t, testErr(t, rep, "default"),
		prefix+"waitUntil() timed out since the following function never returned a truthy value within the timeout: function () { return false; }")
	assert.EqualError(t, testErr(t, rep, "last exception"),
		prefix+"waitUntil() timed out. This is the last exception that was caught: still wrong")
	assert.EqualError(t, testErr(t, rep, "custom string"), prefix+"custom message")
	assert.EqualError(t, testErr(t, rep, "lazy function"), prefix+"50")
	assert.EqualError(t, testErr(t, rep, "latest wait is blamed"), prefix+"second")
}

func TestWaitUntil_ThrowingAndFalsyPollAlike(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 105*time.Millisecond, WithPollInterval(20*time.Millisecond))
	rep := h.run(t, `
		var falsy = 0, throwing = 0;
		describe('timing', function() {
			setupAsync();
			it('falsy', function() { waitUntil(function() { falsy++; return false; }); });
			it('throwing', function() { waitUntil(function() { throwing++; throw new Error('x'); }); });
			it('records', function() { log.push(falsy, throwing); });
		});
	`)
	require.Len(t, rep.Tests, 3)
	counts := h.log(t)
	require.Len(t, counts, 2)
	falsy, throwing := counts[0].(int64), counts[1].(int64)
	assert.GreaterOrEqual(t, falsy, int64(4))
	assert.InDelta(t, falsy, throwing, 1)
}

func TestDrain_ClearsPollTimers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 50*time.Millisecond)
	rep := h.run(t, `
		var polls = 0;
		describe('cleanup', function() {
			setupAsync();
			it('times out', function() { waitUntil(function() { polls++; return false; }); });
			it('sees no more polls', function() {
				var before = polls;
				this.timeout(500);
				waitMillis(80);
				andThen(function() { log.push(before > 0, polls === before); });
			});
		});
	`)
	require.Len(t, rep.Tests, 2)
	assert.Error(t, rep.Tests[0].Err)
	require.NoError(t, rep.Tests[1].Err)
	assert.Equal(t, []any{true, true}, h.log(t))
}

func TestDrain_RestoresTimeoutAndIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 200*time.Millisecond)
	rep := h.run(t, `
		describe('outer', function() {
			setupAsync();
			describe('inner', function() {
				setupAsync();
				afterEach(function() { log.push(this.timeout()); });
				it('uses both hooks', function() {
					waitMillis(10);
					andThen(function() { log.push('done'); });
				});
			});
		});
		describe('plain', function() {
			it('has no chain', function() {});
		});
	`)
	require.True(t, rep.OK(), "%v", rep.Tests[0].Err)
	assert.Equal(t, []any{"done", int64(200)}, h.log(t))
	assert.Nil(t, h.engine.Chain())
}

func TestWaitMillis(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 50*time.Millisecond)
	rep := h.run(t, `
		describe('waitMillis', function() {
			setupAsync();
			it('waits', function() {
				var start = Date.now();
				waitMillis(30);
				andThen(function() { log.push(Date.now() - start >= 30); });
			});
			it('times out', function() { waitMillis(1337); });
		});
	`)
	require.Len(t, rep.Tests, 2)
	require.NoError(t, rep.Tests[0].Err)
	assert.Equal(t, []any{true}, h.log(t))
	assert.EqualError(t, rep.Tests[1].Err, `"after each" hook "drain async chain": waitMillis() timed out while waiting 1337 milliseconds`)
}

func TestWaitUntilChange(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 500*time.Millisecond)
	rep := h.run(t, `
		describe('waitUntilChange', function() {
			setupAsync();
			it('resolves with the new value', function() {
				var value = 4, samples = 0;
				setTimeout(function() { value = 0; }, 30);
				waitUntilChange(function() { samples++; return value; });
				andThen(function(v) { log.push(v, samples > 2); });
			});
			it('passes the chained value', function() {
				var obj = { value: 'a' };
				setTimeout(function() { obj.value = 'b'; }, 20);
				waitUntil(function() { return obj; });
				waitUntilChange(function(chained) { return chained.value; });
				andThen(function(v) { log.push(v); });
			});
			it('times out', function() {
				this.timeout(40);
				waitUntilChange(function () { return 1; });
			});
			it('propagates baseline exceptions', function() {
				waitUntilChange(function() { throw new Error('baseline failed'); });
			});
		});
	`)
	require.Len(t, rep.Tests, 4)
	require.NoError(t, rep.Tests[0].Err)
	require.NoError(t, rep.Tests[1].Err)
	assert.Equal(t, []any{int64(0), true, "b"}, h.log(t))
	assert.EqualError(t, rep.Tests[2].Err,
		`"after each" hook "drain async chain": waitUntilChange() timed out since the return value of the following function never changed: function () { return 1; }`)
	assert.EqualError(t, rep.Tests[3].Err, `"after each" hook "drain async chain": baseline failed`)
}

func TestAsyncIt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 200*time.Millisecond)
	rep := h.run(t, `
		describe('asyncIt', function() {
			setupAsync();
			asyncIt('waits for the returned promise', function() {
				andThen(function() { log.push('step'); });
				return new Promise(function(r) { setTimeout(function() { log.push('returned'); r(); }, 20); });
			});
			asyncIt('fails with the returned rejection', function() {
				return Promise.reject(new Error('rejected'));
			});
			asyncIt.skip('is skipped', function() { log.push('skipped'); });
			asyncIt('pending');
		});
	`)
	require.Len(t, rep.Tests, 4)
	require.NoError(t, rep.Tests[0].Err)
	assert.EqualError(t, rep.Tests[1].Err, `"after each" hook "drain async chain": rejected`)
	assert.Equal(t, suite.StateSkipped, rep.Tests[2].State)
	assert.Equal(t, suite.StateSkipped, rep.Tests[3].State)
	assert.Equal(t, []any{"step", "returned"}, h.log(t))
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	vm := goja.New()
	eval := func(src string) Outcome {
		v, err := vm.RunString(src)
		require.NoError(t, err)
		fn, ok := goja.AssertFunction(v)
		require.True(t, ok)
		return Evaluate(fn, vm.ToValue("arg"))
	}

	out := eval("(function(a) { return a + '!'; })")
	assert.Equal(t, Satisfied, out.Kind)
	assert.Equal(t, "arg!", out.Value.String())

	out = eval("(function() { return 0; })")
	assert.Equal(t, NotYet, out.Kind)
	assert.NoError(t, out.Err)

	out = eval("(function() { throw new Error('nope'); })")
	assert.Equal(t, NotYet, out.Kind)
	assert.EqualError(t, out.Err, "nope")

	timer := time.AfterFunc(20*time.Millisecond, func() { vm.Interrupt("stop") })
	defer timer.Stop()
	out = eval("(function() { for (;;) {} })")
	assert.Equal(t, Fatal, out.Kind)
	var interrupted *goja.InterruptedError
	assert.ErrorAs(t, out.Err, &interrupted)
	vm.ClearInterrupt()
}
