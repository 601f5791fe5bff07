package scripting

import (
	"errors"

	"github.com/dop251/goja"
)

// JSError is a JavaScript exception or rejection reason converted to Go.
type JSError struct {
	// Value is the original thrown value. It must only be used on the loop.
	Value   goja.Value
	Name    string
	Message string
	Stack   string
}

func (e *JSError) Error() string {
	return e.Message
}

// ErrorFromValue converts a thrown value or rejection reason to a *JSError.
// Error-like objects contribute their name, message and stack.
func ErrorFromValue(v goja.Value) error {
	if v == nil || goja.IsUndefined(v) {
		return &JSError{Value: v, Message: "undefined"}
	}
	if goja.IsNull(v) {
		return &JSError{Value: v, Message: "null"}
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			e := &JSError{Value: v, Message: msg.String()}
			if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
				e.Name = name.String()
			}
			if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
				e.Stack = stack.String()
			}
			return e
		}
	}
	return &JSError{Value: v, Message: v.String()}
}

// ErrorFromCall normalizes an error returned by a goja.Callable. Exceptions
// become *JSError; anything else (e.g. *goja.InterruptedError) is returned
// unchanged.
func ErrorFromCall(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ErrorFromValue(ex.Value())
	}
	return err
}

// Then attaches Go callbacks to v if it is a thenable, reporting whether it
// was. Must be called on the loop.
func Then(vm *goja.Runtime, v goja.Value, onFulfilled, onRejected func(goja.Value)) (bool, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return false, nil
	}
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		return false, nil
	}
	_, err := then(obj,
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			onFulfilled(call.Argument(0))
			return goja.Undefined()
		}),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			onRejected(call.Argument(0))
			return goja.Undefined()
		}),
	)
	if err != nil {
		return true, ErrorFromCall(err)
	}
	return true, nil
}

// Await reports the settlement of v on done: nil for plain values and
// fulfilled thenables, the converted reason for rejections. Sends never
// block. Must be called on the loop.
func Await(vm *goja.Runtime, v goja.Value, done chan<- error) error {
	send := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	isThenable, err := Then(vm, v,
		func(goja.Value) { send(nil) },
		func(reason goja.Value) { send(ErrorFromValue(reason)) },
	)
	if err != nil {
		return err
	}
	if !isThenable {
		send(nil)
	}
	return nil
}
