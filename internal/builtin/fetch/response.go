package fetch

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// Response describes a fetch Response object. Text and JSON produce the
// values the text() and json() promises resolve with; returning an error
// rejects the promise.
type Response struct {
	Status int
	URL    string
	Header http.Header
	Text   func(vm *goja.Runtime) (goja.Value, error)
	JSON   func(vm *goja.Runtime) (goja.Value, error)
}

// StatusText returns the reason phrase of status, e.g. "Not Found".
func StatusText(status int) string {
	return http.StatusText(status)
}

// Object builds the JS value of r:
//
//	status     - HTTP status code (number)
//	ok         - true if status is 200-299 (boolean)
//	statusText - reason phrase, e.g. "OK" (string)
//	url        - final URL (string)
//	headers    - lowercase header keys, plus get(name), has(name), forEach(fn)
//	text()     - Promise of the body as a string
//	json()     - Promise of the parsed body
func (r *Response) Object(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("status", r.Status)
	_ = obj.Set("ok", r.Status >= 200 && r.Status <= 299)
	_ = obj.Set("statusText", StatusText(r.Status))
	_ = obj.Set("url", r.URL)
	_ = obj.Set("headers", HeadersObject(vm, r.Header))

	bodyUsed := false
	body := func(name string, read func(vm *goja.Runtime) (goja.Value, error)) func(goja.FunctionCall) goja.Value {
		return func(goja.FunctionCall) goja.Value {
			promise, resolve, reject := vm.NewPromise()
			switch {
			case bodyUsed:
				reject(vm.NewTypeError("Failed to execute '%s' on 'Response': body stream already read", name))
			case read == nil:
				resolve(goja.Undefined())
			default:
				bodyUsed = true
				v, err := read(vm)
				if err != nil {
					reject(rejection(vm, err))
				} else {
					resolve(v)
				}
			}
			return vm.ToValue(promise)
		}
	}
	_ = obj.Set("text", body("text", r.Text))
	_ = obj.Set("json", body("json", r.JSON))
	_ = obj.DefineAccessorProperty("bodyUsed", vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(bodyUsed)
	}), nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
	return obj
}

// HeadersObject converts h to a JS object keyed by lowercase header name.
// Multiple values are joined with ", ".
func HeadersObject(vm *goja.Runtime, h http.Header) *goja.Object {
	obj := vm.NewObject()
	names := make([]string, 0, len(h))
	values := make(map[string]string, len(h))
	for k, v := range h {
		name := strings.ToLower(k)
		names = append(names, name)
		values[name] = strings.Join(v, ", ")
	}
	sort.Strings(names)
	for _, name := range names {
		_ = obj.Set(name, values[name])
	}

	method := func(name string, fn func(goja.FunctionCall) goja.Value) {
		_ = obj.DefineDataProperty(name, vm.ToValue(fn), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}
	method("get", func(call goja.FunctionCall) goja.Value {
		v, ok := values[strings.ToLower(call.Argument(0).String())]
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	method("has", func(call goja.FunctionCall) goja.Value {
		_, ok := values[strings.ToLower(call.Argument(0).String())]
		return vm.ToValue(ok)
	})
	method("forEach", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("Headers.forEach: callback must be a function"))
		}
		for _, name := range names {
			if _, err := fn(call.Argument(1), vm.ToValue(values[name]), vm.ToValue(name), obj); err != nil {
				panic(err)
			}
		}
		return goja.Undefined()
	})
	return obj
}

// headersFromValue reads a plain object of header values.
func headersFromValue(v goja.Value) http.Header {
	h := make(http.Header)
	obj, ok := v.(*goja.Object)
	if !ok || isAbsent(v) {
		return h
	}
	for _, k := range obj.Keys() {
		val := obj.Get(k)
		if isAbsent(val) {
			continue
		}
		h.Set(k, val.String())
	}
	return h
}

// ParseJSON parses text with the runtime's JSON.parse, producing native JS
// objects.
func ParseJSON(vm *goja.Runtime, text string) (goja.Value, error) {
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errJSONUnavailable
	}
	return parse(goja.Undefined(), vm.ToValue(text))
}

// StringifyJSON encodes v with the runtime's JSON.stringify. Strings are
// returned as is.
func StringifyJSON(vm *goja.Runtime, v goja.Value) (string, error) {
	if isAbsent(v) {
		if v != nil && goja.IsNull(v) {
			return "null", nil
		}
		return "", nil
	}
	if s, ok := v.Export().(string); ok {
		return s, nil
	}
	return EncodeJSON(vm, v)
}

// EncodeJSON is JSON.stringify(v). Values JSON cannot represent encode as
// the empty string.
func EncodeJSON(vm *goja.Runtime, v goja.Value) (string, error) {
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return "", errJSONUnavailable
	}
	out, err := stringify(goja.Undefined(), v)
	if err != nil {
		return "", err
	}
	if goja.IsUndefined(out) {
		return "", nil
	}
	return out.String(), nil
}

func rejection(vm *goja.Runtime, err error) goja.Value {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value()
	}
	return vm.NewGoError(err)
}

func isAbsent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}
