package assert

import (
	"testing"

	"github.com/dop251/goja"
	gojarequire "github.com/dop251/goja_nodejs/require"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T) *goja.Runtime {
	t.Helper()
	registry := gojarequire.NewRegistry()
	registry.RegisterNativeModule("jth:assert", Require())
	vm := goja.New()
	registry.Enable(vm)
	_, err := vm.RunString(`var assert = require('jth:assert');`)
	require.NoError(t, err)
	return vm
}

func run(t *testing.T, vm *goja.Runtime, src string) goja.Value {
	t.Helper()
	v, err := vm.RunString(src)
	require.NoError(t, err)
	return v
}

func TestPassingAssertions(t *testing.T) {
	t.Parallel()
	vm := newRuntime(t)
	v := run(t, vm, `[
		assert.ok(1),
		assert.equal('a', 'a'),
		assert.notEqual(1, '1'),
		assert.deepEqual({ b: [1, 2], a: { c: null } }, { a: { c: null }, b: [1, 2] }),
		assert.deepEqual(0.5 * 2, 1),
		assert.notDeepEqual({ a: 1 }, { a: 2 }),
		assert.match('hello world', /wor/),
	].every(function(x) { return x === true; })`)
	require.True(t, v.ToBoolean())
}

func TestFailureShape(t *testing.T) {
	t.Parallel()
	vm := newRuntime(t)
	v := run(t, vm, `
		var e;
		try { assert.equal(1, 2); } catch (err) { e = err; }
		[e instanceof Error, e.name, e.message, e.operator, e.actual, e.expected].join('|');
	`)
	require.Equal(t, "true|AssertionError|Expected values to be strictly equal:\n\n1 !== 2|strictEqual|1|2", v.String())

	v = run(t, vm, `
		try { assert.ok(false, 'custom message'); } catch (err) { err.message; }
	`)
	require.Equal(t, "custom message", v.String())

	v = run(t, vm, `try { assert.fail(); } catch (err) { err.message; }`)
	require.Equal(t, "Failed", v.String())
}

func TestDeepEqualDiff(t *testing.T) {
	t.Parallel()
	vm := newRuntime(t)
	v := run(t, vm, `
		try {
			assert.deepEqual({ name: 'Fire', id: 1337 }, { name: 'Ice', id: 1337 });
		} catch (err) {
			err.diff;
		}
	`)
	want := "--- expected\n+++ actual\n@@ -1,4 +1,4 @@\n {\n   \"id\": 1337,\n-  \"name\": \"Ice\"\n+  \"name\": \"Fire\"\n }\n"
	require.Equal(t, want, v.String())
}

func TestThrows(t *testing.T) {
	t.Parallel()
	vm := newRuntime(t)
	v := run(t, vm, `
		var out = [];
		out.push(assert.throws(function() { throw new TypeError('bad type'); }, TypeError).message);
		out.push(assert.throws(function() { throw new Error('abc def'); }, /abc/).message);
		out.push(assert.throws(function() { throw new Error('findXhr can only be used'); }, 'can only').message);
		try { assert.throws(function() {}); } catch (e) { out.push(e.message); }
		try { assert.throws(function() { throw new Error('x'); }, TypeError); } catch (e) { out.push(e.name); }
		try { assert.throws(function() { throw new Error('x'); }, 'y'); } catch (e) { out.push(e.message); }
		out.join('|');
	`)
	require.Equal(t, `bad type|abc def|findXhr can only be used|Missing expected exception.|AssertionError|Expected error message to include "y", got "x"`, v.String())
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()
	vm := newRuntime(t)
	_, err := vm.RunString(`assert.throws(1)`)
	require.ErrorContains(t, err, "first argument must be a function")
	_, err = vm.RunString(`assert.match('a', 'a')`)
	require.ErrorContains(t, err, "second argument must be a RegExp")
}

func TestRender(t *testing.T) {
	t.Parallel()
	vm := goja.New()
	require.Equal(t, "undefined", Render(goja.Undefined()))
	require.Equal(t, "null", Render(goja.Null()))
	v, err := vm.RunString(`({ z: 1, a: [true, 'x'] })`)
	require.NoError(t, err)
	require.Equal(t, "{\n  \"a\": [\n    true,\n    \"x\"\n  ],\n  \"z\": 1\n}", Render(v))
}
