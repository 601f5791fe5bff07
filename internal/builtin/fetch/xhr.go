package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// XMLHttpRequest ready states.
const (
	Unsent          = 0
	Opened          = 1
	HeadersReceived = 2
	Loading         = 3
	Done            = 4
)

// ErrInvalidState is returned by request transitions made in the wrong state.
var ErrInvalidState = errors.New("InvalidStateError")

// Header is a single request header, in the case it was set with.
type Header struct {
	Name  string
	Value string
}

// XHR is the state behind one XMLHttpRequest object. It must only be used on
// the event loop.
type XHR struct {
	vm    *goja.Runtime
	obj   *goja.Object
	class *XHRClass

	Method          string
	URL             string
	Async           bool
	RequestHeaders  []Header
	RequestBody     goja.Value
	ReadyState      int
	Status          int
	StatusText      string
	ResponseHeaders http.Header
	ResponseText    string
	ResponseURL     string
	ResponseType    string
	Timeout         time.Duration

	sent      bool
	aborted   bool
	gen       int
	cancel    context.CancelFunc
	listeners map[string][]goja.Value
}

// Object returns the JS object of the request.
func (x *XHR) Object() *goja.Object {
	return x.obj
}

// Sent reports whether send() has been called since the last open().
func (x *XHR) Sent() bool {
	return x.sent
}

// RequestHeader returns the value of a request header, matched
// case-insensitively.
func (x *XHR) RequestHeader(name string) (string, bool) {
	for _, h := range x.RequestHeaders {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// ResponseHeader returns the value of a response header, matched
// case-insensitively. Repeated values are joined with ", ".
func (x *XHR) ResponseHeader(name string) (string, bool) {
	for k, values := range x.ResponseHeaders {
		if strings.EqualFold(k, name) {
			return strings.Join(values, ", "), true
		}
	}
	return "", false
}

// XHRHooks customize an XMLHttpRequest class.
type XHRHooks struct {
	// Created is called for every constructed request.
	Created func(x *XHR)
	// Send is called by send(). It delivers the outcome through Respond or
	// Fail, possibly later on the loop.
	Send func(x *XHR)
	// Abort is called by abort() on a sent request.
	Abort func(x *XHR)
}

// XHRClass is an XMLHttpRequest constructor backed by XHR values.
type XHRClass struct {
	vm          *goja.Runtime
	hooks       XHRHooks
	sym         *goja.Symbol
	Constructor *goja.Object
	Prototype   *goja.Object
}

// NewXHRClass builds an XMLHttpRequest constructor whose requests are
// serviced by hooks.
func NewXHRClass(vm *goja.Runtime, hooks XHRHooks) *XHRClass {
	c := &XHRClass{
		vm:    vm,
		hooks: hooks,
		sym:   goja.NewSymbol("XMLHttpRequest"),
	}
	c.Constructor = vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		x := &XHR{
			vm:        vm,
			obj:       call.This,
			class:     c,
			Async:     true,
			listeners: make(map[string][]goja.Value),
		}
		_ = call.This.DefineDataPropertySymbol(c.sym, vm.ToValue(x), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
		if c.hooks.Created != nil {
			c.hooks.Created(x)
		}
		return nil
	}).ToObject(vm)
	c.Prototype = c.Constructor.Get("prototype").ToObject(vm)

	for name, value := range map[string]int{
		"UNSENT":           Unsent,
		"OPENED":           Opened,
		"HEADERS_RECEIVED": HeadersReceived,
		"LOADING":          Loading,
		"DONE":             Done,
	} {
		_ = c.Constructor.Set(name, value)
		_ = c.Prototype.Set(name, value)
	}
	c.definePrototype()
	return c
}

// Lookup returns the request behind v.
func (c *XHRClass) Lookup(v goja.Value) (*XHR, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	sv := obj.GetSymbol(c.sym)
	if sv == nil {
		return nil, false
	}
	x, ok := sv.Export().(*XHR)
	return x, ok
}

func (c *XHRClass) must(v goja.Value) *XHR {
	x, ok := c.Lookup(v)
	if !ok {
		panic(c.vm.NewTypeError("Illegal invocation"))
	}
	return x
}

func (c *XHRClass) definePrototype() {
	vm := c.vm
	proto := c.Prototype
	getter := func(name string, get func(x *XHR) goja.Value) {
		_ = proto.DefineAccessorProperty(name, vm.ToValue(func(call goja.FunctionCall) goja.Value {
			return get(c.must(call.This))
		}), nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
	}
	accessor := func(name string, get func(x *XHR) goja.Value, set func(x *XHR, v goja.Value)) {
		_ = proto.DefineAccessorProperty(name, vm.ToValue(func(call goja.FunctionCall) goja.Value {
			return get(c.must(call.This))
		}), vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(c.must(call.This), call.Argument(0))
			return goja.Undefined()
		}), goja.FLAG_TRUE, goja.FLAG_TRUE)
	}

	getter("readyState", func(x *XHR) goja.Value { return vm.ToValue(x.ReadyState) })
	getter("method", func(x *XHR) goja.Value { return vm.ToValue(x.Method) })
	getter("url", func(x *XHR) goja.Value { return vm.ToValue(x.URL) })
	getter("async", func(x *XHR) goja.Value { return vm.ToValue(x.Async) })
	getter("status", func(x *XHR) goja.Value { return vm.ToValue(x.Status) })
	getter("statusText", func(x *XHR) goja.Value { return vm.ToValue(x.StatusText) })
	getter("responseURL", func(x *XHR) goja.Value { return vm.ToValue(x.ResponseURL) })
	getter("responseText", func(x *XHR) goja.Value { return vm.ToValue(x.ResponseText) })
	getter("response", func(x *XHR) goja.Value { return x.response() })
	getter("requestBody", func(x *XHR) goja.Value {
		if x.RequestBody == nil {
			return goja.Null()
		}
		return x.RequestBody
	})
	getter("requestHeaders", func(x *XHR) goja.Value {
		obj := vm.NewObject()
		for _, h := range x.RequestHeaders {
			_ = obj.Set(h.Name, h.Value)
		}
		return obj
	})
	getter("responseHeaders", func(x *XHR) goja.Value {
		obj := vm.NewObject()
		for name, values := range x.ResponseHeaders {
			_ = obj.Set(name, strings.Join(values, ", "))
		}
		return obj
	})
	accessor("responseType", func(x *XHR) goja.Value {
		return vm.ToValue(x.ResponseType)
	}, func(x *XHR, v goja.Value) {
		x.ResponseType = v.String()
	})
	accessor("timeout", func(x *XHR) goja.Value {
		return vm.ToValue(x.Timeout.Milliseconds())
	}, func(x *XHR, v goja.Value) {
		x.Timeout = time.Duration(v.ToInteger()) * time.Millisecond
	})
	accessor("withCredentials", func(*XHR) goja.Value {
		return vm.ToValue(false)
	}, func(*XHR, goja.Value) {})

	method := func(name string, fn func(x *XHR, call goja.FunctionCall) goja.Value) {
		_ = proto.Set(name, func(call goja.FunctionCall) goja.Value {
			return fn(c.must(call.This), call)
		})
	}
	throw := func(err error) {
		panic(rejection(vm, err))
	}

	// open(method: string, url: string, async?: boolean)
	method("open", func(x *XHR, call goja.FunctionCall) goja.Value {
		async := true
		if a := call.Argument(2); !goja.IsUndefined(a) {
			async = a.ToBoolean()
		}
		if err := x.Open(call.Argument(0).String(), call.Argument(1).String(), async); err != nil {
			throw(err)
		}
		return goja.Undefined()
	})
	method("setRequestHeader", func(x *XHR, call goja.FunctionCall) goja.Value {
		if err := x.SetRequestHeader(call.Argument(0).String(), call.Argument(1).String()); err != nil {
			throw(err)
		}
		return goja.Undefined()
	})
	method("send", func(x *XHR, call goja.FunctionCall) goja.Value {
		if err := x.Send(call.Argument(0)); err != nil {
			throw(err)
		}
		return goja.Undefined()
	})
	method("abort", func(x *XHR, call goja.FunctionCall) goja.Value {
		if err := x.Abort(); err != nil {
			throw(err)
		}
		return goja.Undefined()
	})
	method("getResponseHeader", func(x *XHR, call goja.FunctionCall) goja.Value {
		if x.ReadyState < HeadersReceived || x.ResponseHeaders == nil {
			return goja.Null()
		}
		v, ok := x.ResponseHeader(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	method("getAllResponseHeaders", func(x *XHR, call goja.FunctionCall) goja.Value {
		return vm.ToValue(x.AllResponseHeaders())
	})
	method("overrideMimeType", func(*XHR, goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
	method("addEventListener", func(x *XHR, call goja.FunctionCall) goja.Value {
		typ, cb := call.Argument(0).String(), call.Argument(1)
		if isAbsent(cb) {
			return goja.Undefined()
		}
		for _, l := range x.listeners[typ] {
			if l.SameAs(cb) {
				return goja.Undefined()
			}
		}
		x.listeners[typ] = append(x.listeners[typ], cb)
		return goja.Undefined()
	})
	method("removeEventListener", func(x *XHR, call goja.FunctionCall) goja.Value {
		typ, cb := call.Argument(0).String(), call.Argument(1)
		list := x.listeners[typ]
		for i, l := range list {
			if l.SameAs(cb) {
				x.listeners[typ] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	})
}

// Open resets the request and moves it to OPENED.
func (x *XHR) Open(method, url string, async bool) error {
	x.gen++
	if x.cancel != nil {
		x.cancel()
		x.cancel = nil
	}
	x.Method = method
	x.URL = url
	x.Async = async
	x.RequestHeaders = nil
	x.RequestBody = nil
	x.Status = 0
	x.StatusText = ""
	x.ResponseHeaders = nil
	x.ResponseText = ""
	x.ResponseURL = ""
	x.sent = false
	x.aborted = false
	return x.setReadyState(Opened)
}

// SetRequestHeader appends a request header. Repeated names are combined.
func (x *XHR) SetRequestHeader(name, value string) error {
	if x.ReadyState != Opened || x.sent {
		return fmt.Errorf("%w: setRequestHeader requires an opened, unsent request", ErrInvalidState)
	}
	for i, h := range x.RequestHeaders {
		if strings.EqualFold(h.Name, name) {
			x.RequestHeaders[i].Value = h.Value + ", " + value
			return nil
		}
	}
	x.RequestHeaders = append(x.RequestHeaders, Header{Name: name, Value: value})
	return nil
}

// Send records body and hands the request to the class's Send hook.
func (x *XHR) Send(body goja.Value) error {
	if x.ReadyState != Opened || x.sent {
		return fmt.Errorf("%w: send requires an opened, unsent request", ErrInvalidState)
	}
	if m := strings.ToUpper(x.Method); m == http.MethodGet || m == http.MethodHead || isAbsent(body) {
		body = goja.Null()
	}
	x.RequestBody = body
	x.sent = true
	if err := x.fire("loadstart"); err != nil {
		return err
	}
	if x.class.hooks.Send != nil {
		x.class.hooks.Send(x)
	}
	return nil
}

// Abort cancels a sent request, firing abort and loadend.
func (x *XHR) Abort() error {
	x.gen++
	if x.cancel != nil {
		x.cancel()
		x.cancel = nil
	}
	wasActive := x.sent && x.ReadyState != Done && x.ReadyState != Unsent
	x.aborted = true
	x.sent = false
	x.RequestHeaders = nil
	x.ResponseText = ""
	x.Status = 0
	x.StatusText = ""
	if !wasActive {
		x.ReadyState = Unsent
		return nil
	}
	if x.class.hooks.Abort != nil {
		x.class.hooks.Abort(x)
	}
	var errs []error
	errs = append(errs, x.setReadyState(Done), x.fire("abort"), x.fire("loadend"))
	x.ReadyState = Unsent
	return errors.Join(errs...)
}

// Respond completes the request with a response, walking the ready states
// HEADERS_RECEIVED, LOADING and DONE and firing load and loadend. Exceptions
// thrown by handlers are returned, after every event has fired.
func (x *XHR) Respond(status int, header http.Header, body string) error {
	if x.ReadyState != Opened || x.aborted {
		return fmt.Errorf("%w: request is not awaiting a response (readyState %d)", ErrInvalidState, x.ReadyState)
	}
	if header == nil {
		header = make(http.Header)
	}
	x.Status = status
	x.StatusText = StatusText(status)
	x.ResponseHeaders = header
	if x.ResponseURL == "" {
		x.ResponseURL = x.URL
	}

	var errs []error
	errs = append(errs, x.setReadyState(HeadersReceived))
	errs = append(errs, x.setReadyState(Loading))
	x.ResponseText = body
	errs = append(errs, x.setReadyState(Done))
	errs = append(errs, x.fire("load"), x.fire("loadend"))
	return errors.Join(errs...)
}

// Fail completes the request with a network error.
func (x *XHR) Fail(cause error) error {
	if x.ReadyState != Opened || x.aborted {
		return fmt.Errorf("%w: request is not awaiting a response (readyState %d)", ErrInvalidState, x.ReadyState)
	}
	x.Status = 0
	x.StatusText = ""
	x.ResponseText = ""
	typ := "error"
	if errors.Is(cause, context.DeadlineExceeded) {
		typ = "timeout"
	}
	return errors.Join(x.setReadyState(Done), x.fire(typ), x.fire("loadend"))
}

// AllResponseHeaders formats the response headers as getAllResponseHeaders
// does: lowercase names, CRLF separated.
func (x *XHR) AllResponseHeaders() string {
	if x.ReadyState < HeadersReceived || x.ResponseHeaders == nil {
		return ""
	}
	names := make([]string, 0, len(x.ResponseHeaders))
	for k := range x.ResponseHeaders {
		names = append(names, k)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, k := range names {
		sb.WriteString(strings.ToLower(k))
		sb.WriteString(": ")
		sb.WriteString(strings.Join(x.ResponseHeaders[k], ", "))
		sb.WriteString("\r\n")
	}
	return sb.String()
}

func (x *XHR) response() goja.Value {
	switch x.ResponseType {
	case "json":
		if x.ReadyState != Done || x.ResponseText == "" {
			return goja.Null()
		}
		v, err := ParseJSON(x.vm, x.ResponseText)
		if err != nil {
			return goja.Null()
		}
		return v
	default:
		return x.vm.ToValue(x.ResponseText)
	}
}

func (x *XHR) setReadyState(state int) error {
	x.ReadyState = state
	return x.fire("readystatechange")
}

// fire calls the listeners of typ, then the on<typ> handler property.
func (x *XHR) fire(typ string) error {
	vm := x.vm
	event := vm.NewObject()
	_ = event.Set("type", typ)
	_ = event.Set("target", x.obj)
	_ = event.Set("currentTarget", x.obj)
	_ = event.Set("lengthComputable", false)
	_ = event.Set("loaded", len(x.ResponseText))
	_ = event.Set("total", 0)

	handlers := append([]goja.Value(nil), x.listeners[typ]...)
	if h := x.obj.Get("on" + typ); h != nil {
		handlers = append(handlers, h)
	}
	var errs []error
	for _, h := range handlers {
		fn, ok := goja.AssertFunction(h)
		if !ok {
			continue
		}
		if _, err := fn(x.obj, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// XMLHttpRequest returns a constructor performing real requests through the
// client.
func (c *Client) XMLHttpRequest(vm *goja.Runtime) *goja.Object {
	return NewXHRClass(vm, XHRHooks{
		Send:  c.sendXHR,
		Abort: func(*XHR) {},
	}).Constructor
}

func (c *Client) sendXHR(x *XHR) {
	u, err := c.resolve(x.URL)
	if err != nil {
		if err := x.Fail(err); err != nil {
			c.logger.Warn("XMLHttpRequest handler threw", "url", x.URL, "error", err)
		}
		return
	}
	req := request{
		method:  strings.ToUpper(x.Method),
		url:     u,
		header:  make(http.Header),
		timeout: x.Timeout,
	}
	for _, h := range x.RequestHeaders {
		req.header.Add(h.Name, h.Value)
	}
	if !isAbsent(x.RequestBody) {
		s, err := StringifyJSON(x.vm, x.RequestBody)
		if err != nil {
			if err := x.Fail(err); err != nil {
				c.logger.Warn("XMLHttpRequest handler threw", "url", x.URL, "error", err)
			}
			return
		}
		req.body, req.hasBody = s, true
	}

	ctx, cancel := context.WithCancel(c.ctx)
	x.cancel = cancel
	gen := x.gen
	go func() {
		defer cancel()
		res := c.do(ctx, req)
		if !c.loop.RunOnLoop(func(*goja.Runtime) {
			// reopened or aborted meanwhile
			if x.gen != gen {
				return
			}
			x.cancel = nil
			var err error
			if res.err != nil {
				err = x.Fail(res.err)
			} else {
				x.ResponseURL = res.url
				err = x.Respond(res.status, res.header, string(res.body))
			}
			if err != nil {
				c.logger.Warn("XMLHttpRequest handler threw", "url", x.URL, "error", err)
			}
		}) {
			c.logger.Debug("dropping http response, event loop stopped", "url", req.url)
		}
	}()
}
