package acceptance

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/joeycumines/js-test-helpers/internal/async"
	"github.com/joeycumines/js-test-helpers/internal/dom"
)

var touchLists = []string{"touches", "targetTouches", "changedTouches"}

// interact appends a wait for selector followed by a step calling dispatch
// with the first match. With single set, more than one match fails the step.
func (a *App) interact(vm *goja.Runtime, caller string, selector goja.Value, single bool, neverShowedUp string, dispatch func(n *html.Node) error) error {
	if err := a.checkSelector(caller, selector); err != nil {
		return err
	}
	desc := a.describe(selector)
	if err := a.waitUntilExists(vm, selector, vm.ToValue(fmt.Sprintf(neverShowedUp, caller, desc))); err != nil {
		return err
	}
	return a.engine.AndThenFunc(vm, func(prev goja.Value) (goja.Value, error) {
		nodes := a.elementsOf(prev)
		if len(nodes) == 0 {
			return nil, &async.UsageError{Message: fmt.Sprintf(neverShowedUp, caller, desc)}
		}
		if single && len(nodes) > 1 {
			return nil, &async.UsageError{Message: fmt.Sprintf("%s(): Found more than one match for selector: '%s'", caller, desc)}
		}
		return nil, dispatch(nodes[0])
	})
}

func (a *App) elementsOf(v goja.Value) []*html.Node {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	length := obj.Get("length")
	if length == nil {
		return nil
	}
	var out []*html.Node
	for i := int64(0); i < length.ToInteger(); i++ {
		if n, ok := a.doc.Unwrap(obj.Get(strconv.FormatInt(i, 10))); ok {
			out = append(out, n)
		}
	}
	return out
}

// evaluateOptions resolves options given as an object or as a function
// returning one. It runs at dispatch time.
func evaluateOptions(caller string, options goja.Value) (*goja.Object, error) {
	if fn, ok := goja.AssertFunction(options); ok {
		v, err := fn(goja.Undefined())
		if err != nil {
			return nil, err
		}
		options = v
	}
	if isAbsent(options) {
		return nil, nil
	}
	obj, ok := options.(*goja.Object)
	if !ok {
		return nil, &async.UsageError{TypeError: true, Message: caller + "(): options must be an object or a function returning one"}
	}
	return obj, nil
}

func (a *App) dispatch(n *html.Node, kind dom.EventKind, typ string, init map[string]any) (*goja.Object, error) {
	ev, err := a.doc.NewEvent(kind, typ, init)
	if err != nil {
		return nil, err
	}
	if _, err := a.doc.Dispatch(a.doc.Wrap(n), ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Mouse dispatches MouseEvents of the given types, in order, on the single
// element matching selector.
func (a *App) Mouse(vm *goja.Runtime, caller string, selector, options goja.Value, types ...string) error {
	return a.interact(vm, caller, selector, true, "%s(): Selector never showed up '%s'", func(n *html.Node) error {
		opts, err := evaluateOptions(caller, options)
		if err != nil {
			return err
		}
		for _, typ := range types {
			if _, err := a.dispatch(n, dom.KindMouseEvent, typ, a.mouseInit(typ, opts)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *App) mouseInit(typ string, opts *goja.Object) map[string]any {
	init := map[string]any{
		"bubbles":       true,
		"cancelable":    typ != "mousemove",
		"view":          a.doc.Window(),
		"detail":        0,
		"screenX":       0,
		"screenY":       0,
		"clientX":       0,
		"clientY":       0,
		"ctrlKey":       false,
		"altKey":        false,
		"shiftKey":      false,
		"metaKey":       false,
		"button":        0,
		"relatedTarget": a.doc.Wrap(a.doc.DocumentElement()),
	}
	if opts != nil {
		for _, k := range opts.Keys() {
			init[k] = opts.Get(k)
		}
	}
	return init
}

// Touch dispatches a TouchEvent of type typ on the single element matching
// selector. Touch entries of the options default their target to that
// element and their identifier to 0.
func (a *App) Touch(vm *goja.Runtime, caller string, selector, options goja.Value, typ string) error {
	return a.interact(vm, caller, selector, true, "%s(): Selector never showed up '%s'", func(n *html.Node) error {
		opts, err := evaluateOptions(caller, options)
		if err != nil {
			return err
		}
		init := map[string]any{
			"bubbles":    true,
			"cancelable": typ != "touchcancel",
			"view":       a.doc.Window(),
		}
		if opts != nil {
			for _, k := range opts.Keys() {
				init[k] = opts.Get(k)
			}
		}
		for _, list := range touchLists {
			touches, err := a.touchList(vm, n, init[list])
			if err != nil {
				return fmt.Errorf("%s(): %s: %w", caller, list, err)
			}
			init[list] = touches
		}
		_, err = a.dispatch(n, dom.KindTouchEvent, typ, init)
		return err
	})
}

func (a *App) touchList(vm *goja.Runtime, n *html.Node, v any) (goja.Value, error) {
	items, _ := v.(goja.Value)
	if isAbsent(items) {
		return vm.NewArray(), nil
	}
	obj, ok := items.(*goja.Object)
	if !ok {
		return nil, &async.UsageError{TypeError: true, Message: "touch list must be an array"}
	}
	var out []any
	for i := int64(0); i < obj.Get("length").ToInteger(); i++ {
		init := vm.NewObject()
		_ = init.Set("target", a.doc.Wrap(n))
		_ = init.Set("identifier", 0)
		if item, ok := obj.Get(strconv.FormatInt(i, 10)).(*goja.Object); ok {
			for _, k := range item.Keys() {
				_ = init.Set(k, item.Get(k))
			}
		}
		touch, err := a.doc.NewTouch(init)
		if err != nil {
			return nil, err
		}
		out = append(out, touch)
	}
	return vm.NewArray(out...), nil
}

// FillIn sets the value of the single form control matching selector, then
// dispatches bubbling input and change events.
func (a *App) FillIn(vm *goja.Runtime, selector, value goja.Value) error {
	const caller = "fillIn"
	return a.interact(vm, caller, selector, true, "%s(): Selector never showed up '%s'", func(n *html.Node) error {
		desc := a.describe(selector)
		v := value.String()
		switch n.DataAtom {
		case atom.Input, atom.Textarea:
		case atom.Select:
			if !a.hasOption(n, v) {
				return &async.UsageError{Message: fmt.Sprintf("fillIn(): Could not set value '%s' of select matching '%s'", v, desc)}
			}
		default:
			return &async.UsageError{Message: fmt.Sprintf("fillIn(): Selector has to match an input, select or textarea element: '%s'", desc)}
		}
		a.doc.SetValue(n, v)
		for _, typ := range []string{"input", "change"} {
			if _, err := a.dispatch(n, dom.KindEvent, typ, map[string]any{"bubbles": true}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *App) hasOption(n *html.Node, value string) bool {
	options, err := a.doc.QueryAll(n, "option")
	if err != nil {
		return false
	}
	for _, opt := range options {
		if a.doc.Value(opt) == value {
			return true
		}
	}
	return false
}

// KeyEventIn dispatches a bubbling event of type typ carrying keyCode on the
// first element matching selector.
func (a *App) KeyEventIn(vm *goja.Runtime, selector goja.Value, typ string, keyCode goja.Value) error {
	return a.interact(vm, "keyEventIn", selector, false, "%s(): Selector never showed up: '%s'", func(n *html.Node) error {
		ev, err := a.doc.NewEvent(dom.KindEvent, typ, map[string]any{"bubbles": true})
		if err != nil {
			return err
		}
		if err := ev.Set("keyCode", keyCode); err != nil {
			return err
		}
		_, err = a.doc.Dispatch(a.doc.Wrap(n), ev)
		return err
	})
}
