// Package fetch provides real network globals for test scripts: a
// promise-returning fetch() and an XMLHttpRequest constructor, both backed by
// Go's net/http client. Requests run off the event loop; settlement is
// marshalled back onto it.
//
// The Response builder and XHR core are shared with the fake registries,
// which replace these globals during tests.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
)

// DefaultTimeout bounds each request unless overridden per call.
const DefaultTimeout = 30 * time.Second

var errJSONUnavailable = errors.New("JSON is not available in this runtime")

// Loop runs callbacks on the event loop goroutine.
type Loop interface {
	RunOnLoop(fn func(*goja.Runtime)) bool
}

// Client performs the requests of the fetch and XMLHttpRequest globals.
type Client struct {
	ctx     context.Context
	loop    Loop
	http    *http.Client
	base    *url.URL
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBaseURL resolves relative request URLs against base.
func WithBaseURL(base *url.URL) Option {
	return func(c *Client) {
		c.base = base
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client. In-flight requests are cancelled with ctx.
func New(ctx context.Context, loop Loop, opts ...Option) *Client {
	c := &Client{
		ctx:     ctx,
		loop:    loop,
		http:    http.DefaultClient,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Require returns the loader of the jth:fetch module.
//
//	const { fetch, XMLHttpRequest } = require('jth:fetch');
func (c *Client) Require() require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		_ = exports.Set("fetch", c.FetchFunc(runtime))
		_ = exports.Set("XMLHttpRequest", c.XMLHttpRequest(runtime))
	}
}

// Install defines the fetch and XMLHttpRequest globals, mirroring them onto
// window when a window global exists.
func (c *Client) Install(vm *goja.Runtime) error {
	if err := SetGlobal(vm, "fetch", c.FetchFunc(vm)); err != nil {
		return err
	}
	return SetGlobal(vm, "XMLHttpRequest", c.XMLHttpRequest(vm))
}

// SetGlobal sets a global and, if present, the same property of window.
func SetGlobal(vm *goja.Runtime, name string, v goja.Value) error {
	if err := vm.Set(name, v); err != nil {
		return err
	}
	if win, ok := vm.Get("window").(*goja.Object); ok && win != vm.GlobalObject() {
		return win.Set(name, v)
	}
	return nil
}

// request is a parsed fetch/XHR request, ready to run off the loop.
type request struct {
	method  string
	url     string
	header  http.Header
	body    string
	hasBody bool
	timeout time.Duration
}

func (c *Client) resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if c.base != nil {
		u = c.base.ResolveReference(u)
	}
	return u.String(), nil
}

// result is a completed exchange; it carries no goja values so it can cross
// goroutines.
type result struct {
	status int
	url    string
	header http.Header
	body   []byte
	err    error
}

func (c *Client) do(ctx context.Context, req request) result {
	timeout := req.timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.hasBody {
		body = strings.NewReader(req.body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return result{err: err}
	}
	hreq.Header = req.header

	c.logger.Debug("http request", "method", req.method, "url", req.url)
	resp, err := c.http.Do(hreq)
	if err != nil {
		return result{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return result{err: err}
	}
	return result{
		status: resp.StatusCode,
		url:    resp.Request.URL.String(),
		header: resp.Header,
		body:   data,
	}
}

// run performs req on a new goroutine and delivers the result on the loop.
func (c *Client) run(req request, deliver func(vm *goja.Runtime, res result)) {
	go func() {
		res := c.do(c.ctx, req)
		if !c.loop.RunOnLoop(func(vm *goja.Runtime) { deliver(vm, res) }) {
			c.logger.Debug("dropping http response, event loop stopped", "url", req.url)
		}
	}()
}

// FetchFunc returns the JS fetch function.
//
// fetch(url: string, options?: object): Promise<Response>
//
// Options:
//
//	method  - HTTP method (default: "GET")
//	headers - object of header key/value pairs
//	body    - request body; non-strings are JSON encoded
//	timeout - request timeout in seconds (default: 30)
//
// The promise rejects with a TypeError on network failure; HTTP error
// statuses resolve normally.
func (c *Client) FetchFunc(vm *goja.Runtime) goja.Value {
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()

		req, err := c.parseFetch(vm, call.Argument(0), call.Argument(1))
		if err != nil {
			reject(vm.NewTypeError("Failed to fetch: %s", err.Error()))
			return vm.ToValue(promise)
		}

		c.run(req, func(vm *goja.Runtime, res result) {
			if res.err != nil {
				reject(vm.NewTypeError("Failed to fetch: %s", res.err.Error()))
				return
			}
			body := string(res.body)
			resp := &Response{
				Status: res.status,
				URL:    res.url,
				Header: res.header,
				Text: func(vm *goja.Runtime) (goja.Value, error) {
					return vm.ToValue(body), nil
				},
				JSON: func(vm *goja.Runtime) (goja.Value, error) {
					return ParseJSON(vm, body)
				},
			}
			resolve(resp.Object(vm))
		})
		return vm.ToValue(promise)
	})
}

func (c *Client) parseFetch(vm *goja.Runtime, target, options goja.Value) (request, error) {
	if isAbsent(target) {
		return request{}, errors.New("a URL is required")
	}
	u, err := c.resolve(target.String())
	if err != nil {
		return request{}, err
	}
	req := request{method: http.MethodGet, url: u, header: make(http.Header)}

	opts, ok := options.(*goja.Object)
	if !ok || isAbsent(options) {
		return req, nil
	}
	if m := opts.Get("method"); !isAbsent(m) {
		req.method = strings.ToUpper(m.String())
	}
	if h := opts.Get("headers"); !isAbsent(h) {
		req.header = headersFromValue(h)
	}
	if b := opts.Get("body"); !isAbsent(b) {
		s, err := StringifyJSON(vm, b)
		if err != nil {
			return request{}, fmt.Errorf("invalid body: %w", err)
		}
		req.body, req.hasBody = s, true
	}
	if t := opts.Get("timeout"); !isAbsent(t) {
		req.timeout = time.Duration(t.ToFloat() * float64(time.Second))
	}
	return req, nil
}
