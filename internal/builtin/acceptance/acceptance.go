// Package acceptance provides the jth:acceptance module: helpers that mount
// an application into a test root element and drive it like a user would.
// Every interaction waits for its selector through the async queue before
// dispatching synthetic DOM events.
package acceptance

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"github.com/joeycumines/js-test-helpers/internal/async"
	"github.com/joeycumines/js-test-helpers/internal/dom"
	"github.com/joeycumines/js-test-helpers/internal/suite"
)

const (
	// RootID is the id of the element applications are rendered into.
	RootID = "test-root"
	// RootSize is the initial width and height of the root, in pixels.
	RootSize = 1024
)

const noHistoryMessage = "visit(): You cannot use visit() unless you pass a valid createHistory function to setupAndTeardownApp() at the root of the appropriate describe()!"

// MountOptions are the callbacks of setupAndTeardownApp.
type MountOptions struct {
	// Render receives the root element and the history. Required.
	Render goja.Value
	// CreateHistory is called before each test; its result is passed to
	// Render and used by visit.
	CreateHistory goja.Value
	// Unrender receives the root element after each test.
	Unrender goja.Value
}

// App holds the mounted application of the running test. It is bound to a
// single runtime and must only be used on its event loop.
type App struct {
	engine    *async.Engine
	lifecycle async.Lifecycle
	doc       *dom.Document
	logger    *slog.Logger

	root    *html.Node
	history goja.Value
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// New creates an App over doc.
func New(engine *async.Engine, lifecycle async.Lifecycle, doc *dom.Document, opts ...Option) *App {
	a := &App{
		engine:    engine,
		lifecycle: lifecycle,
		doc:       doc,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Root returns the mounted root element, or nil.
func (a *App) Root() *html.Node {
	return a.root
}

// ParseMountOptions validates the arguments of setupAndTeardownApp.
func ParseMountOptions(render, options goja.Value) (MountOptions, error) {
	if _, ok := goja.AssertFunction(render); !ok {
		return MountOptions{}, &async.UsageError{TypeError: true, Message: "setupAndTeardownApp(): render must be a function"}
	}
	m := MountOptions{Render: render}
	if isAbsent(options) {
		return m, nil
	}
	obj, ok := options.(*goja.Object)
	if !ok {
		return MountOptions{}, &async.UsageError{TypeError: true, Message: "setupAndTeardownApp(): options must be an object"}
	}
	for _, key := range obj.Keys() {
		v := obj.Get(key)
		var field *goja.Value
		switch key {
		case "createHistory":
			field = &m.CreateHistory
		case "unrender":
			field = &m.Unrender
		default:
			return MountOptions{}, &async.UsageError{Message: fmt.Sprintf("setupAndTeardownApp(): unknown option '%s'", key)}
		}
		if isAbsent(v) {
			continue
		}
		if _, ok := goja.AssertFunction(v); !ok {
			return MountOptions{}, &async.UsageError{TypeError: true, Message: fmt.Sprintf("setupAndTeardownApp(): option '%s' must be a function", key)}
		}
		*field = v
	}
	return m, nil
}

// SetupAndTeardown calls SetupAsync, then registers hooks mounting the
// application before each test and unmounting it after.
func (a *App) SetupAndTeardown(m MountOptions) error {
	render, ok := goja.AssertFunction(m.Render)
	if !ok {
		return &async.UsageError{TypeError: true, Message: "setupAndTeardownApp(): render must be a function"}
	}
	if err := a.engine.SetupAsync(); err != nil {
		return err
	}
	if err := a.lifecycle.BeforeEach("set up app", func(vm *goja.Runtime, _ *suite.Context) (goja.Value, error) {
		return a.mount(vm, render, m.CreateHistory)
	}); err != nil {
		return fmt.Errorf("setupAndTeardownApp(): %w", err)
	}
	if err := a.lifecycle.AfterEach("tear down app", func(vm *goja.Runtime, _ *suite.Context) (goja.Value, error) {
		return goja.Undefined(), a.unmount(m.Unrender)
	}); err != nil {
		return fmt.Errorf("setupAndTeardownApp(): %w", err)
	}
	return nil
}

func (a *App) mount(vm *goja.Runtime, render goja.Callable, createHistory goja.Value) (goja.Value, error) {
	history := goja.Undefined()
	if fn, ok := goja.AssertFunction(createHistory); ok {
		v, err := fn(goja.Undefined())
		if err != nil {
			return nil, err
		}
		history = v
	}
	a.history = history

	root := a.doc.CreateElement("div")
	root.Attr = append(root.Attr, html.Attribute{Key: "id", Val: RootID})
	dom.SetStyleProperty(root, "width", px(RootSize))
	dom.SetStyleProperty(root, "height", px(RootSize))
	a.doc.Body().AppendChild(root)
	a.root = root
	a.logger.Debug("app root mounted")

	return render(goja.Undefined(), a.doc.Wrap(root), history)
}

func (a *App) unmount(unrender goja.Value) error {
	root := a.root
	a.root = nil
	a.history = nil
	if root == nil {
		return nil
	}
	var err error
	if fn, ok := goja.AssertFunction(unrender); ok {
		_, err = fn(goja.Undefined(), a.doc.Wrap(root))
	}
	if root.Parent != nil {
		root.Parent.RemoveChild(root)
	}
	a.logger.Debug("app root unmounted")
	return err
}

// Visit appends a step pushing route to the history.
func (a *App) Visit(vm *goja.Runtime, route goja.Value) error {
	history, ok := a.history.(*goja.Object)
	if !ok {
		return &async.UsageError{Message: noHistoryMessage}
	}
	return a.engine.AndThenFunc(vm, func(goja.Value) (goja.Value, error) {
		push, ok := goja.AssertFunction(history.Get("push"))
		if !ok {
			return nil, &async.UsageError{TypeError: true, Message: "visit(): history.push is not a function"}
		}
		_, err := push(history, route)
		return nil, err
	})
}

// scope is the node selectors are matched within: the root when mounted,
// the whole document otherwise.
func (a *App) scope() *html.Node {
	if a.root != nil {
		return a.root
	}
	return a.doc.Root()
}

// Find returns the elements matching selector. An element selector matches
// itself while it is in the document.
func (a *App) Find(selector goja.Value) ([]*html.Node, error) {
	if n, ok := a.doc.Unwrap(selector); ok {
		if n.Type != html.ElementNode || !a.doc.Contains(n) {
			return nil, nil
		}
		return []*html.Node{n}, nil
	}
	return a.doc.QueryAll(a.scope(), selector.String())
}

// checkSelector rejects selectors that can never match.
func (a *App) checkSelector(caller string, selector goja.Value) error {
	if n, ok := a.doc.Unwrap(selector); ok {
		if n.Type != html.ElementNode {
			return &async.UsageError{TypeError: true, Message: caller + "(): selector must be a string or an element"}
		}
		return nil
	}
	if _, ok := selector.Export().(string); !ok {
		return &async.UsageError{TypeError: true, Message: caller + "(): selector must be a string or an element"}
	}
	if _, err := a.doc.QueryAll(a.doc.Root(), selector.String()); err != nil {
		return &async.UsageError{Message: fmt.Sprintf("%s(): %v", caller, err)}
	}
	return nil
}

// describe renders selector for diagnostics.
func (a *App) describe(selector goja.Value) string {
	if n, ok := a.doc.Unwrap(selector); ok && n.Type == html.ElementNode {
		return "<" + n.Data + ">"
	}
	return selector.String()
}

// WaitUntilExists appends a polling step resolving with the array of matching
// elements. descriptor defaults to the standard diagnostic.
func (a *App) WaitUntilExists(vm *goja.Runtime, selector, descriptor goja.Value) error {
	if err := a.checkSelector("waitUntilExists", selector); err != nil {
		return err
	}
	if isAbsent(descriptor) {
		descriptor = vm.ToValue(fmt.Sprintf("waitUntilExists(): Selector never showed up: '%s'", a.describe(selector)))
	}
	return a.waitUntilExists(vm, selector, descriptor)
}

func (a *App) waitUntilExists(vm *goja.Runtime, selector, descriptor goja.Value) error {
	predicate := vm.ToValue(func(goja.FunctionCall) goja.Value {
		nodes, err := a.Find(selector)
		if err != nil {
			panic(async.Throwable(vm, err))
		}
		if len(nodes) == 0 {
			return vm.ToValue(false)
		}
		return a.doc.WrapAll(nodes)
	})
	return a.engine.WaitUntil(vm, predicate, descriptor)
}

// WaitUntilDoesNotExist appends a polling step resolving once nothing matches
// selector.
func (a *App) WaitUntilDoesNotExist(vm *goja.Runtime, selector, descriptor goja.Value) error {
	if err := a.checkSelector("waitUntilDoesNotExist", selector); err != nil {
		return err
	}
	if isAbsent(descriptor) {
		descriptor = vm.ToValue(fmt.Sprintf("waitUntilDoesNotExist(): Selector never stopped existing: '%s'", a.describe(selector)))
	}
	return a.waitUntilDoesNotExist(vm, selector, descriptor)
}

func (a *App) waitUntilDoesNotExist(vm *goja.Runtime, selector, descriptor goja.Value) error {
	predicate := vm.ToValue(func(goja.FunctionCall) goja.Value {
		nodes, err := a.Find(selector)
		if err != nil {
			panic(async.Throwable(vm, err))
		}
		return vm.ToValue(len(nodes) == 0)
	})
	return a.engine.WaitUntil(vm, predicate, descriptor)
}

// WaitUntilDisappears waits for selector to match, then to stop matching.
func (a *App) WaitUntilDisappears(vm *goja.Runtime, selector goja.Value) error {
	if err := a.checkSelector("waitUntilDisappears", selector); err != nil {
		return err
	}
	desc := a.describe(selector)
	if err := a.waitUntilExists(vm, selector, vm.ToValue(fmt.Sprintf("waitUntilDisappears(): Selector never showed up: '%s'", desc))); err != nil {
		return err
	}
	return a.waitUntilDoesNotExist(vm, selector, vm.ToValue(fmt.Sprintf("waitUntilDisappears(): Selector showed up but never disappeared: '%s'", desc)))
}

// ScaleWindowWidth appends a step multiplying the root width by scale, then
// dispatching resize on the window.
func (a *App) ScaleWindowWidth(vm *goja.Runtime, scale float64) error {
	return a.engine.AndThenFunc(vm, func(goja.Value) (goja.Value, error) {
		if a.root == nil {
			return nil, &async.UsageError{Message: "scaleWindowWidth(): no app root, call setupAndTeardownApp() at the root of the appropriate describe()"}
		}
		return nil, a.resizeRoot(a.doc.Width(a.root) * scale)
	})
}

// SetWindowWidthPercent appends a step setting the root width to percent of
// RootSize, then dispatching resize on the window.
func (a *App) SetWindowWidthPercent(vm *goja.Runtime, percent float64) error {
	return a.engine.AndThenFunc(vm, func(goja.Value) (goja.Value, error) {
		if a.root == nil {
			return nil, &async.UsageError{Message: "setWindowWidthPercent(): no app root, call setupAndTeardownApp() at the root of the appropriate describe()"}
		}
		return nil, a.resizeRoot(RootSize * percent / 100)
	})
}

func (a *App) resizeRoot(width float64) error {
	dom.SetStyleProperty(a.root, "width", px(width))
	ev, err := a.doc.NewEvent(dom.KindEvent, "resize", nil)
	if err != nil {
		return err
	}
	_, err = a.doc.Dispatch(a.doc.Window(), ev)
	return err
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

func isAbsent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}
