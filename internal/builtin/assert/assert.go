// Package assert provides the jth:assert module: assertions for test
// scripts which throw AssertionError on failure. Deep equality failures carry
// a unified diff of the JSON renderings of both values.
package assert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/pmezard/go-difflib/difflib"
)

// Require returns the loader of the jth:assert module.
//
//	const assert = require('jth:assert');
//	assert.deepEqual(actual, expected);
func Require() require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		a := &asserter{vm: runtime}
		exports := module.Get("exports").(*goja.Object)
		_ = exports.Set("ok", a.ok)
		_ = exports.Set("equal", a.equal)
		_ = exports.Set("notEqual", a.notEqual)
		_ = exports.Set("deepEqual", a.deepEqual)
		_ = exports.Set("notDeepEqual", a.notDeepEqual)
		_ = exports.Set("throws", a.throws)
		_ = exports.Set("match", a.match)
		_ = exports.Set("fail", a.fail)
	}
}

type asserter struct {
	vm *goja.Runtime
}

// failure describes a failed assertion.
type failure struct {
	message  string
	operator string
	actual   goja.Value
	expected goja.Value
	diff     string
}

func (a *asserter) throw(f failure, custom goja.Value) {
	msg := f.message
	if !isAbsent(custom) {
		msg = custom.String()
	}
	obj, err := a.vm.New(a.vm.Get("Error"), a.vm.ToValue(msg))
	if err != nil {
		panic(a.vm.NewGoError(fmt.Errorf("AssertionError: %s", msg)))
	}
	_ = obj.Set("name", "AssertionError")
	_ = obj.Set("operator", f.operator)
	_ = obj.Set("actual", orUndefined(f.actual))
	_ = obj.Set("expected", orUndefined(f.expected))
	if f.diff != "" {
		_ = obj.Set("diff", f.diff)
	}
	panic(obj)
}

// ok(value, message?)
func (a *asserter) ok(call goja.FunctionCall) goja.Value {
	v := call.Argument(0)
	if !v.ToBoolean() {
		a.throw(failure{
			message:  fmt.Sprintf("Expected value to be truthy, got %s", inline(v)),
			operator: "ok",
			actual:   v,
			expected: a.vm.ToValue(true),
		}, call.Argument(1))
	}
	return a.vm.ToValue(true)
}

// equal(actual, expected, message?) uses ===.
func (a *asserter) equal(call goja.FunctionCall) goja.Value {
	actual, expected := call.Argument(0), call.Argument(1)
	if !actual.StrictEquals(expected) {
		a.throw(failure{
			message:  fmt.Sprintf("Expected values to be strictly equal:\n\n%s !== %s", inline(actual), inline(expected)),
			operator: "strictEqual",
			actual:   actual,
			expected: expected,
		}, call.Argument(2))
	}
	return a.vm.ToValue(true)
}

// notEqual(actual, expected, message?) uses !==.
func (a *asserter) notEqual(call goja.FunctionCall) goja.Value {
	actual, expected := call.Argument(0), call.Argument(1)
	if actual.StrictEquals(expected) {
		a.throw(failure{
			message:  fmt.Sprintf("Expected %s to be strictly unequal to %s", inline(actual), inline(expected)),
			operator: "notStrictEqual",
			actual:   actual,
			expected: expected,
		}, call.Argument(2))
	}
	return a.vm.ToValue(true)
}

// deepEqual(actual, expected, message?) compares JSON renderings with
// object keys sorted.
func (a *asserter) deepEqual(call goja.FunctionCall) goja.Value {
	actual, expected := call.Argument(0), call.Argument(1)
	got, want := Render(actual), Render(expected)
	if got != want {
		diff := Diff(want, got)
		a.throw(failure{
			message:  "Expected values to be deeply equal:\n" + diff,
			operator: "deepEqual",
			actual:   actual,
			expected: expected,
			diff:     diff,
		}, call.Argument(2))
	}
	return a.vm.ToValue(true)
}

// notDeepEqual(actual, expected, message?)
func (a *asserter) notDeepEqual(call goja.FunctionCall) goja.Value {
	actual, expected := call.Argument(0), call.Argument(1)
	if Render(actual) == Render(expected) {
		a.throw(failure{
			message:  fmt.Sprintf("Expected values not to be deeply equal: %s", inline(actual)),
			operator: "notDeepEqual",
			actual:   actual,
			expected: expected,
		}, call.Argument(2))
	}
	return a.vm.ToValue(true)
}

// throws(fn, expected?, message?) returns the thrown value. expected may be a
// constructor, a RegExp tested against String(error), or a substring of the
// error message.
func (a *asserter) throws(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(a.vm.NewTypeError("throws(): first argument must be a function"))
	}
	expected, custom := call.Argument(1), call.Argument(2)

	_, err := fn(goja.Undefined())
	if err == nil {
		a.throw(failure{message: "Missing expected exception.", operator: "throws", expected: expected}, custom)
	}
	ex, ok := err.(*goja.Exception)
	if !ok {
		panic(a.vm.NewGoError(err))
	}
	thrown := ex.Value()

	if isAbsent(expected) {
		return thrown
	}
	if ctor, ok := expected.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(ctor); isFn {
			if !a.vm.InstanceOf(thrown, ctor) {
				a.throw(failure{
					message:  fmt.Sprintf("The error is expected to be an instance of %q. Received %s", ctor.Get("name").String(), inline(thrown)),
					operator: "throws",
					actual:   thrown,
					expected: expected,
				}, custom)
			}
			return thrown
		}
		if test, isRegExp := goja.AssertFunction(ctor.Get("test")); isRegExp {
			res, err := test(ctor, a.vm.ToValue(thrown.String()))
			if err != nil {
				panic(a.vm.NewGoError(err))
			}
			if !res.ToBoolean() {
				a.throw(failure{
					message:  fmt.Sprintf("The error %s does not match %s", inline(thrown), expected.String()),
					operator: "throws",
					actual:   thrown,
					expected: expected,
				}, custom)
			}
			return thrown
		}
	}
	if !strings.Contains(message(thrown), expected.String()) {
		a.throw(failure{
			message:  fmt.Sprintf("Expected error message to include %q, got %q", expected.String(), message(thrown)),
			operator: "throws",
			actual:   thrown,
			expected: expected,
		}, custom)
	}
	return thrown
}

// match(string, regexp, message?)
func (a *asserter) match(call goja.FunctionCall) goja.Value {
	s, re := call.Argument(0), call.Argument(1)
	obj, ok := re.(*goja.Object)
	var test goja.Callable
	if ok {
		test, ok = goja.AssertFunction(obj.Get("test"))
	}
	if !ok {
		panic(a.vm.NewTypeError("match(): second argument must be a RegExp"))
	}
	res, err := test(obj, s)
	if err != nil {
		panic(a.vm.NewGoError(err))
	}
	if !res.ToBoolean() {
		a.throw(failure{
			message:  fmt.Sprintf("The input did not match the regular expression %s. Input: %s", re.String(), inline(s)),
			operator: "match",
			actual:   s,
			expected: re,
		}, call.Argument(2))
	}
	return a.vm.ToValue(true)
}

// fail(message?)
func (a *asserter) fail(call goja.FunctionCall) goja.Value {
	a.throw(failure{message: "Failed", operator: "fail"}, call.Argument(0))
	return goja.Undefined()
}

// Render formats v as indented JSON with sorted object keys, numbers
// normalized to float64. Values JSON cannot encode fall back to String().
func Render(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	data, err := json.MarshalIndent(normalize(v.Export()), "", "  ")
	if err != nil {
		return v.String()
	}
	return string(data)
}

// Diff is a unified diff from expected to actual.
func Diff(expected, actual string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected + "\n"),
		B:        difflib.SplitLines(actual + "\n"),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	})
	if err != nil {
		return fmt.Sprintf("expected: %s\nactual: %s", expected, actual)
	}
	return diff
}

func normalize(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalize(e)
		}
		return out
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return v
}

func inline(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if _, isString := v.Export().(string); isString {
		data, _ := json.Marshal(v.String())
		return string(data)
	}
	data, err := json.Marshal(normalize(v.Export()))
	if err != nil {
		return v.String()
	}
	return string(data)
}

func message(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if m := obj.Get("message"); !isAbsent(m) {
			return m.String()
		}
	}
	return v.String()
}

func orUndefined(v goja.Value) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	return v
}

func isAbsent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}
