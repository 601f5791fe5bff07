// Package dom provides a minimal browser document for scripts: document and
// window globals over a golang.org/x/net/html tree, CSS selector queries via
// goquery, event listeners, and synthetic event dispatch with capture and
// bubbling. There is no layout engine; element sizes come from inline styles.
package dom

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	DefaultWindowWidth  = 1024
	DefaultWindowHeight = 768

	defaultMarkup = "<!DOCTYPE html><html><head></head><body></body></html>"
)

// Document is the DOM installed into a goja runtime. All methods must be
// called on the runtime's event loop.
type Document struct {
	vm     *goja.Runtime
	logger *slog.Logger
	root   *html.Node

	// identity map between nodes and their JS wrappers
	wrappers map[*html.Node]*goja.Object
	nodes    map[*goja.Object]*html.Node

	listeners map[any][]*listener
	eventSym  *goja.Symbol
	forms     map[*html.Node]*formState
	active    *html.Node
	started   time.Time

	eventTargetProto *goja.Object
	nodeProto        *goja.Object
	elementProto     *goja.Object
	constructors     map[EventKind]*goja.Object

	document *goja.Object
	window   *goja.Object

	innerWidth  float64
	innerHeight float64
}

// windowKey identifies the window in the listener table.
type windowKey struct{}

// Option configures a Document.
type Option func(*options)

type options struct {
	markup string
	logger *slog.Logger
	width  float64
	height float64
}

// WithMarkup sets the initial HTML of the document.
func WithMarkup(markup string) Option {
	return func(o *options) {
		o.markup = markup
	}
}

// WithLogger sets the logger used to report listener exceptions.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithWindowSize sets window.innerWidth and window.innerHeight.
func WithWindowSize(width, height float64) Option {
	return func(o *options) {
		o.width = width
		o.height = height
	}
}

// Install parses the document and defines document, window, HTMLElement and
// the event constructors as globals of vm.
func Install(vm *goja.Runtime, opts ...Option) (*Document, error) {
	o := options{
		markup: defaultMarkup,
		width:  DefaultWindowWidth,
		height: DefaultWindowHeight,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	root, err := html.Parse(strings.NewReader(o.markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	d := &Document{
		vm:           vm,
		logger:       o.logger,
		root:         root,
		wrappers:     make(map[*html.Node]*goja.Object),
		nodes:        make(map[*goja.Object]*html.Node),
		listeners:    make(map[any][]*listener),
		eventSym:     goja.NewSymbol("event"),
		forms:        make(map[*html.Node]*formState),
		started:      time.Now(),
		constructors: make(map[EventKind]*goja.Object),
		innerWidth:   o.width,
		innerHeight:  o.height,
	}

	d.eventTargetProto = vm.NewObject()
	d.defineEventTarget(d.eventTargetProto)

	d.nodeProto = vm.NewObject()
	d.nodeProto.SetPrototype(d.eventTargetProto)
	d.defineNode(d.nodeProto)

	elementCtor := vm.ToValue(func(goja.ConstructorCall) *goja.Object {
		panic(vm.NewTypeError("Illegal constructor"))
	}).ToObject(vm)
	d.elementProto = elementCtor.Get("prototype").ToObject(vm)
	d.elementProto.SetPrototype(d.nodeProto)
	d.defineElement(d.elementProto)

	d.document = vm.NewObject()
	d.document.SetPrototype(d.nodeProto)
	d.wrappers[root] = d.document
	d.nodes[d.document] = root
	d.defineDocument(d.document)

	d.window = vm.NewObject()
	d.window.SetPrototype(d.eventTargetProto)
	d.defineWindow(d.window)

	if err := d.defineEvents(); err != nil {
		return nil, err
	}

	globals := map[string]goja.Value{
		"document":    d.document,
		"window":      d.window,
		"HTMLElement": elementCtor,

		"getComputedStyle": d.window.Get("getComputedStyle"),
	}
	for kind, ctor := range d.constructors {
		globals[string(kind)] = ctor
	}
	for name, value := range globals {
		if err := vm.Set(name, value); err != nil {
			return nil, err
		}
		if name != "window" {
			_ = d.window.Set(name, value)
		}
	}
	return d, nil
}

// Runtime returns the runtime the document is installed in.
func (d *Document) Runtime() *goja.Runtime {
	return d.vm
}

// Object returns the JS document object.
func (d *Document) Object() *goja.Object {
	return d.document
}

// Window returns the JS window object.
func (d *Document) Window() *goja.Object {
	return d.window
}

// Body returns the body element.
func (d *Document) Body() *html.Node {
	return findFirst(d.root, atom.Body)
}

// Head returns the head element.
func (d *Document) Head() *html.Node {
	return findFirst(d.root, atom.Head)
}

// DocumentElement returns the html element.
func (d *Document) DocumentElement() *html.Node {
	return findFirst(d.root, atom.Html)
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	return d.root
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// Wrap returns the JS object of n, creating it on first use. Wrapping the
// same node always yields the same object.
func (d *Document) Wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if obj, ok := d.wrappers[n]; ok {
		return obj
	}
	obj := d.vm.NewObject()
	if n.Type == html.ElementNode {
		obj.SetPrototype(d.elementProto)
		_ = obj.DefineDataProperty("style", d.newStyle(n), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
	} else {
		obj.SetPrototype(d.nodeProto)
	}
	d.wrappers[n] = obj
	d.nodes[obj] = n
	return obj
}

// Unwrap returns the node behind a JS value, if it is one.
func (d *Document) Unwrap(v goja.Value) (*html.Node, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	n, ok := d.nodes[obj]
	return n, ok
}

func (d *Document) mustNode(v goja.Value) *html.Node {
	n, ok := d.Unwrap(v)
	if !ok {
		panic(d.vm.NewTypeError("Illegal invocation"))
	}
	return n
}

func (d *Document) mustElement(v goja.Value) *html.Node {
	n := d.mustNode(v)
	if n.Type != html.ElementNode {
		panic(d.vm.NewTypeError("Illegal invocation"))
	}
	return n
}

// ErrInvalidSelector wraps selector syntax errors.
var ErrInvalidSelector = errors.New("invalid selector")

// QueryAll returns the descendants of scope matching selector, in document
// order.
func (d *Document) QueryAll(scope *html.Node, selector string) ([]*html.Node, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w '%s': %v", ErrInvalidSelector, selector, err)
	}
	return goquery.NewDocumentFromNode(scope).FindMatcher(sel).Nodes, nil
}

// Matches reports whether n matches selector.
func (d *Document) Matches(n *html.Node, selector string) (bool, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return false, fmt.Errorf("%w '%s': %v", ErrInvalidSelector, selector, err)
	}
	return sel.Match(n), nil
}

// WrapAll wraps nodes into a JS array.
func (d *Document) WrapAll(nodes []*html.Node) goja.Value {
	values := make([]any, len(nodes))
	for i, n := range nodes {
		values[i] = d.Wrap(n)
	}
	return d.vm.NewArray(values...)
}

// Contains reports whether n is in the document tree.
func (d *Document) Contains(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == d.root {
			return true
		}
	}
	return false
}

func (d *Document) throw(err error) {
	panic(d.vm.NewGoError(err))
}

func (d *Document) syntaxError(err error) {
	obj, newErr := d.vm.New(d.vm.Get("SyntaxError"), d.vm.ToValue(err.Error()))
	if newErr != nil {
		d.throw(err)
	}
	panic(obj)
}
