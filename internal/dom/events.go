package dom

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

// EventKind names an event constructor.
type EventKind string

const (
	KindEvent         EventKind = "Event"
	KindUIEvent       EventKind = "UIEvent"
	KindFocusEvent    EventKind = "FocusEvent"
	KindMouseEvent    EventKind = "MouseEvent"
	KindKeyboardEvent EventKind = "KeyboardEvent"
	KindTouchEvent    EventKind = "TouchEvent"
	KindCustomEvent   EventKind = "CustomEvent"
)

// Event phases.
const (
	PhaseNone      = 0
	PhaseCapturing = 1
	PhaseAtTarget  = 2
	PhaseBubbling  = 3
)

type eventState struct {
	typ              string
	bubbles          bool
	cancelable       bool
	defaultPrevented bool
	stopped          bool
	stoppedNow       bool
	dispatching      bool
	phase            int
	target           goja.Value
	currentTarget    goja.Value
	timeStamp        float64
}

type listener struct {
	typ      string
	callback goja.Value
	capture  bool
	once     bool
	removed  bool
}

func (d *Document) eventOf(v goja.Value) (*eventState, *goja.Object) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, nil
	}
	sv := obj.GetSymbol(d.eventSym)
	if sv == nil {
		return nil, nil
	}
	st, _ := sv.Export().(*eventState)
	return st, obj
}

func (d *Document) mustEvent(v goja.Value) *eventState {
	st, _ := d.eventOf(v)
	if st == nil {
		panic(d.vm.NewTypeError("Illegal invocation"))
	}
	return st
}

// targetKey maps a JS event target to its listener table key.
func (d *Document) targetKey(v goja.Value) (any, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	if obj == d.window {
		return windowKey{}, true
	}
	if n, ok := d.nodes[obj]; ok {
		return n, true
	}
	return nil, false
}

func (d *Document) objectOf(key any) *goja.Object {
	switch k := key.(type) {
	case windowKey:
		return d.window
	case *html.Node:
		return d.Wrap(k).(*goja.Object)
	}
	return nil
}

func listenerOptions(v goja.Value) (capture, once bool) {
	if isAbsent(v) {
		return false, false
	}
	if obj, ok := v.(*goja.Object); ok {
		if c := obj.Get("capture"); c != nil {
			capture = c.ToBoolean()
		}
		if o := obj.Get("once"); o != nil {
			once = o.ToBoolean()
		}
		return capture, once
	}
	return v.ToBoolean(), false
}

func (d *Document) defineEventTarget(proto *goja.Object) {
	vm := d.vm
	_ = proto.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		key, ok := d.targetKey(call.This)
		if !ok {
			panic(vm.NewTypeError("Illegal invocation"))
		}
		typ := call.Argument(0).String()
		cb := call.Argument(1)
		if isAbsent(cb) {
			return goja.Undefined()
		}
		capture, once := listenerOptions(call.Argument(2))
		d.AddListener(key, typ, cb, capture, once)
		return goja.Undefined()
	})
	_ = proto.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		key, ok := d.targetKey(call.This)
		if !ok {
			panic(vm.NewTypeError("Illegal invocation"))
		}
		capture, _ := listenerOptions(call.Argument(2))
		d.removeListener(key, call.Argument(0).String(), call.Argument(1), capture)
		return goja.Undefined()
	})
	_ = proto.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		st, obj := d.eventOf(call.Argument(0))
		if st == nil {
			panic(vm.NewTypeError("Failed to execute 'dispatchEvent' on 'EventTarget': parameter 1 is not of type 'Event'."))
		}
		if st.dispatching {
			panic(vm.NewTypeError("Failed to execute 'dispatchEvent' on 'EventTarget': The event is already being dispatched."))
		}
		ok, err := d.Dispatch(call.This, obj)
		if err != nil {
			d.throw(err)
		}
		return vm.ToValue(ok)
	})
}

// AddListener registers cb for typ on the target identified by key (a node
// or the window). Duplicate registrations are ignored.
func (d *Document) AddListener(key any, typ string, cb goja.Value, capture, once bool) {
	for _, l := range d.listeners[key] {
		if l.typ == typ && l.capture == capture && l.callback.SameAs(cb) {
			return
		}
	}
	d.listeners[key] = append(d.listeners[key], &listener{
		typ:      typ,
		callback: cb,
		capture:  capture,
		once:     once,
	})
}

func (d *Document) removeListener(key any, typ string, cb goja.Value, capture bool) {
	list := d.listeners[key]
	for i, l := range list {
		if l.typ == typ && l.capture == capture && l.callback.SameAs(cb) {
			l.removed = true
			d.listeners[key] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of listeners for typ on the target.
func (d *Document) ListenerCount(target goja.Value, typ string) int {
	key, ok := d.targetKey(target)
	if !ok {
		return 0
	}
	count := 0
	for _, l := range d.listeners[key] {
		if l.typ == typ {
			count++
		}
	}
	return count
}

// Dispatch dispatches event to target through the capture, target and bubble
// phases. Listener exceptions are logged and do not stop propagation. It
// returns false if a listener cancelled the event.
func (d *Document) Dispatch(target goja.Value, event *goja.Object) (bool, error) {
	st, _ := d.eventOf(event)
	if st == nil {
		return false, fmt.Errorf("dispatch: %v is not an event", event)
	}
	key, ok := d.targetKey(target)
	if !ok {
		return false, fmt.Errorf("dispatch: %v is not an event target", target)
	}

	path := []any{key}
	if n, ok := key.(*html.Node); ok {
		for p := n.Parent; p != nil; p = p.Parent {
			path = append(path, p)
		}
		if d.Contains(n) {
			path = append(path, windowKey{})
		}
	}

	st.dispatching = true
	st.stopped = false
	st.stoppedNow = false
	st.target = d.objectOf(key)
	defer func() {
		st.dispatching = false
		st.phase = PhaseNone
		st.currentTarget = goja.Null()
	}()

	for i := len(path) - 1; i > 0 && !st.stopped; i-- {
		d.invoke(path[i], event, st, PhaseCapturing)
	}
	if !st.stopped {
		d.invoke(path[0], event, st, PhaseAtTarget)
	}
	if st.bubbles {
		for i := 1; i < len(path) && !st.stopped; i++ {
			d.invoke(path[i], event, st, PhaseBubbling)
		}
	}
	return !st.defaultPrevented, nil
}

func (d *Document) invoke(key any, event *goja.Object, st *eventState, phase int) {
	obj := d.objectOf(key)
	st.phase = phase
	st.currentTarget = obj

	snapshot := append([]*listener(nil), d.listeners[key]...)
	for _, l := range snapshot {
		if st.stoppedNow {
			return
		}
		if l.removed || l.typ != st.typ {
			continue
		}
		if (phase == PhaseCapturing && !l.capture) || (phase == PhaseBubbling && l.capture) {
			continue
		}
		if l.once {
			d.removeListener(key, l.typ, l.callback, l.capture)
		}
		d.call(obj, l.callback, event, st)
	}

	if phase != PhaseCapturing && !st.stoppedNow {
		if handler := obj.Get("on" + st.typ); handler != nil {
			if _, ok := goja.AssertFunction(handler); ok {
				// handlers returning false cancel the event
				ret := d.call(obj, handler, event, st)
				if ret != nil && ret.StrictEquals(d.vm.ToValue(false)) && st.cancelable {
					st.defaultPrevented = true
				}
			}
		}
	}
}

func (d *Document) call(this *goja.Object, cb goja.Value, event *goja.Object, st *eventState) goja.Value {
	fn, ok := goja.AssertFunction(cb)
	if !ok {
		obj, isObj := cb.(*goja.Object)
		if !isObj {
			return nil
		}
		if fn, ok = goja.AssertFunction(obj.Get("handleEvent")); !ok {
			return nil
		}
		this = obj
	}
	ret, err := fn(this, event)
	if err != nil {
		d.logger.Warn("event listener threw", "type", st.typ, "error", err)
		return nil
	}
	return ret
}

// NewEvent constructs an event of the given kind, as `new Kind(typ, init)`.
func (d *Document) NewEvent(kind EventKind, typ string, init map[string]any) (*goja.Object, error) {
	ctor, ok := d.constructors[kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	args := []goja.Value{d.vm.ToValue(typ)}
	if init != nil {
		args = append(args, d.vm.ToValue(init))
	}
	return d.vm.New(ctor, args...)
}

// NewTouch constructs a Touch from init.
func (d *Document) NewTouch(init goja.Value) (*goja.Object, error) {
	return d.vm.New(d.vm.Get("Touch"), init)
}

// eventField describes one own property an event constructor copies from its
// init dictionary.
type eventField struct {
	name string
	def  func(vm *goja.Runtime) goja.Value
}

func numberField(name string) eventField {
	return eventField{name: name, def: func(vm *goja.Runtime) goja.Value { return vm.ToValue(0) }}
}

func boolField(name string) eventField {
	return eventField{name: name, def: func(vm *goja.Runtime) goja.Value { return vm.ToValue(false) }}
}

func stringField(name string) eventField {
	return eventField{name: name, def: func(vm *goja.Runtime) goja.Value { return vm.ToValue("") }}
}

func nullField(name string) eventField {
	return eventField{name: name, def: func(*goja.Runtime) goja.Value { return goja.Null() }}
}

func arrayField(name string) eventField {
	return eventField{name: name, def: func(vm *goja.Runtime) goja.Value { return vm.NewArray() }}
}

var (
	modifierFields = []eventField{boolField("ctrlKey"), boolField("shiftKey"), boolField("altKey"), boolField("metaKey")}

	kindParents = map[EventKind]EventKind{
		KindUIEvent:       KindEvent,
		KindFocusEvent:    KindUIEvent,
		KindMouseEvent:    KindUIEvent,
		KindKeyboardEvent: KindUIEvent,
		KindTouchEvent:    KindUIEvent,
		KindCustomEvent:   KindEvent,
	}

	kindFields = map[EventKind][]eventField{
		KindUIEvent:    {nullField("view"), numberField("detail")},
		KindFocusEvent: {nullField("relatedTarget")},
		KindMouseEvent: append([]eventField{
			numberField("screenX"), numberField("screenY"),
			numberField("clientX"), numberField("clientY"),
			numberField("button"), numberField("buttons"),
			nullField("relatedTarget"),
		}, modifierFields...),
		KindKeyboardEvent: append([]eventField{
			stringField("key"), stringField("code"),
			numberField("keyCode"), numberField("which"), numberField("charCode"),
			numberField("location"), boolField("repeat"),
		}, modifierFields...),
		KindTouchEvent: append([]eventField{
			arrayField("touches"), arrayField("targetTouches"), arrayField("changedTouches"),
		}, modifierFields...),
		KindCustomEvent: {nullField("detail")},
	}

	// ordered so parents are defined before children
	kindOrder = []EventKind{
		KindEvent, KindUIEvent, KindFocusEvent, KindMouseEvent,
		KindKeyboardEvent, KindTouchEvent, KindCustomEvent,
	}
)

func (d *Document) defineEvents() error {
	vm := d.vm
	for _, kind := range kindOrder {
		kind := kind
		ctor := vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
			if len(call.Arguments) == 0 {
				panic(vm.NewTypeError("Failed to construct '%s': 1 argument required, but only 0 present.", string(kind)))
			}
			init, _ := call.Argument(1).(*goja.Object)
			d.initEvent(call.This, call.Argument(0).String(), init)
			for k := kind; k != ""; k = kindParents[k] {
				for _, f := range kindFields[k] {
					v := f.def(vm)
					if init != nil {
						if iv := init.Get(f.name); iv != nil && !goja.IsUndefined(iv) {
							v = iv
						}
					}
					if call.This.Get(f.name) == nil {
						_ = call.This.Set(f.name, v)
					}
				}
			}
			return nil
		}).ToObject(vm)
		proto := ctor.Get("prototype").ToObject(vm)
		if parent, ok := kindParents[kind]; ok {
			proto.SetPrototype(d.constructors[parent].Get("prototype").ToObject(vm))
			ctor.SetPrototype(d.constructors[parent])
		} else {
			d.defineEventPrototype(proto)
		}
		d.constructors[kind] = ctor
	}

	touch := vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		init, _ := call.Argument(0).(*goja.Object)
		if init == nil {
			panic(vm.NewTypeError("Failed to construct 'Touch': 1 argument required, but only 0 present."))
		}
		fields := []eventField{
			numberField("identifier"), nullField("target"),
			numberField("screenX"), numberField("screenY"),
			numberField("clientX"), numberField("clientY"),
			numberField("pageX"), numberField("pageY"),
			numberField("radiusX"), numberField("radiusY"),
			numberField("rotationAngle"), numberField("force"),
		}
		for _, f := range fields {
			v := f.def(vm)
			if iv := init.Get(f.name); iv != nil && !goja.IsUndefined(iv) {
				v = iv
			}
			_ = call.This.Set(f.name, v)
		}
		return nil
	}).ToObject(vm)
	return vm.Set("Touch", touch)
}

// initEvent attaches fresh event state to obj.
func (d *Document) initEvent(obj *goja.Object, typ string, init *goja.Object) {
	st := &eventState{
		typ:           typ,
		target:        goja.Null(),
		currentTarget: goja.Null(),
		timeStamp:     float64(time.Since(d.started).Microseconds()) / 1000,
	}
	if init != nil {
		if v := init.Get("bubbles"); v != nil {
			st.bubbles = v.ToBoolean()
		}
		if v := init.Get("cancelable"); v != nil {
			st.cancelable = v.ToBoolean()
		}
	}
	_ = obj.DefineDataPropertySymbol(d.eventSym, d.vm.ToValue(st), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
}

func (d *Document) defineEventPrototype(proto *goja.Object) {
	vm := d.vm
	getter := func(name string, get func(st *eventState) goja.Value) {
		_ = proto.DefineAccessorProperty(name, vm.ToValue(func(call goja.FunctionCall) goja.Value {
			return get(d.mustEvent(call.This))
		}), nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
	}
	getter("type", func(st *eventState) goja.Value { return vm.ToValue(st.typ) })
	getter("bubbles", func(st *eventState) goja.Value { return vm.ToValue(st.bubbles) })
	getter("cancelable", func(st *eventState) goja.Value { return vm.ToValue(st.cancelable) })
	getter("defaultPrevented", func(st *eventState) goja.Value { return vm.ToValue(st.defaultPrevented) })
	getter("eventPhase", func(st *eventState) goja.Value { return vm.ToValue(st.phase) })
	getter("target", func(st *eventState) goja.Value { return st.target })
	getter("srcElement", func(st *eventState) goja.Value { return st.target })
	getter("currentTarget", func(st *eventState) goja.Value { return st.currentTarget })
	getter("timeStamp", func(st *eventState) goja.Value { return vm.ToValue(st.timeStamp) })
	getter("isTrusted", func(*eventState) goja.Value { return vm.ToValue(false) })

	_ = proto.Set("preventDefault", func(call goja.FunctionCall) goja.Value {
		if st := d.mustEvent(call.This); st.cancelable {
			st.defaultPrevented = true
		}
		return goja.Undefined()
	})
	_ = proto.Set("stopPropagation", func(call goja.FunctionCall) goja.Value {
		d.mustEvent(call.This).stopped = true
		return goja.Undefined()
	})
	_ = proto.Set("stopImmediatePropagation", func(call goja.FunctionCall) goja.Value {
		st := d.mustEvent(call.This)
		st.stopped = true
		st.stoppedNow = true
		return goja.Undefined()
	})
	_ = proto.Set("initEvent", func(call goja.FunctionCall) goja.Value {
		st := d.mustEvent(call.This)
		if st.dispatching {
			return goja.Undefined()
		}
		st.typ = call.Argument(0).String()
		st.bubbles = call.Argument(1).ToBoolean()
		st.cancelable = call.Argument(2).ToBoolean()
		st.defaultPrevented = false
		return goja.Undefined()
	})

	for name, value := range map[string]int{
		"NONE":            PhaseNone,
		"CAPTURING_PHASE": PhaseCapturing,
		"AT_TARGET":       PhaseAtTarget,
		"BUBBLING_PHASE":  PhaseBubbling,
	} {
		_ = proto.Set(name, value)
	}
}

// createEvent implements document.createEvent for the legacy interface
// names.
func (d *Document) createEvent(name string) (*goja.Object, error) {
	kind := KindEvent
	switch name {
	case "UIEvent", "UIEvents":
		kind = KindUIEvent
	case "MouseEvent", "MouseEvents":
		kind = KindMouseEvent
	case "KeyboardEvent", "KeyEvents":
		kind = KindKeyboardEvent
	case "TouchEvent":
		kind = KindTouchEvent
	case "FocusEvent":
		kind = KindFocusEvent
	case "CustomEvent":
		kind = KindCustomEvent
	case "Event", "Events", "HTMLEvents":
	default:
		return nil, fmt.Errorf("the provided event type (%q) is invalid", name)
	}
	return d.NewEvent(kind, "", nil)
}

func isAbsent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}
