package sandbox

import (
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/guestbridge/internal/bridge"
)

// newFacade projects a binding into guest JS. Runs on the loop.
func (r *Runtime) newFacade(vm *goja.Runtime, b *bridge.Binding) *goja.Object {
	obj := vm.NewObject()

	_ = obj.Set("_send", func(call goja.FunctionCall) goja.Value {
		b.Transmit(envelopeArg(call.Argument(0)))
		return goja.Undefined()
	})

	_ = obj.Set("_recv", func(call goja.FunctionCall) goja.Value {
		b.Receive(envelopeArg(call.Argument(0)))
		return goja.Undefined()
	})

	_ = obj.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		b.PostMessage(export(call.Argument(0)))
		return goja.Undefined()
	})

	_ = obj.Set("ctl", func(call goja.FunctionCall) goja.Value {
		method := call.Argument(0).String()
		var sessionID string
		if v := call.Argument(2); !goja.IsUndefined(v) && !goja.IsNull(v) {
			sessionID = v.String()
		}
		return r.promise(vm, b.Ctl(method, export(call.Argument(1)), sessionID))
	})

	_ = obj.Set("send", func(call goja.FunctionCall) goja.Value {
		return r.promise(vm, b.Send(export(call.Argument(0))))
	})

	_ = obj.Set("addListener", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("addListener: listener is not a function"))
		}
		_ = b.AddListener(func(env bridge.Envelope) error {
			_, err := fn(goja.Undefined(), vm.ToValue(env.Map()))
			return err
		})
		return goja.Undefined()
	})

	var onmessage goja.Value = goja.Null()
	getter := vm.ToValue(func(goja.FunctionCall) goja.Value { return onmessage })
	setter := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		v := call.Argument(0)
		fn, ok := goja.AssertFunction(v)
		if !ok {
			panic(vm.NewTypeError("onmessage: handler is not a function"))
		}
		onmessage = v
		_ = b.SetOnMessage(func(message any) {
			if _, err := fn(goja.Undefined(), vm.ToValue(message)); err != nil {
				r.logger.Warn("onmessage handler failed", zap.Error(err))
			}
		})
		return goja.Undefined()
	})
	_ = obj.DefineAccessorProperty("onmessage", getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE)

	return obj
}

// installReadiness defines _untilBindingReady and bindingReady() on the
// guest's global object. _untilBindingReady resolves with true once the
// binding is attached and rejects with false when installation gives up.
func (r *Runtime) installReadiness(vm *goja.Runtime) error {
	ready := r.bridge.Ready()

	getter := vm.ToValue(func(goja.FunctionCall) goja.Value {
		p, resolve, reject := vm.NewPromise()
		ready.Then(func(_ *bridge.Binding, err error) {
			if err != nil {
				_ = reject(false)
				return
			}
			_ = resolve(true)
		})
		return vm.ToValue(p)
	})
	if err := vm.GlobalObject().DefineAccessorProperty("_untilBindingReady", getter, nil, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return err
	}

	return vm.Set("bindingReady", func(goja.FunctionCall) goja.Value {
		p, resolve, _ := vm.NewPromise()
		ready.Then(func(_ *bridge.Binding, err error) {
			if err != nil {
				r.logger.Debug("binding install failed", zap.Error(err))
			}
			_ = resolve(err == nil)
		})
		return vm.ToValue(p)
	})
}

// promise adapts a bridge future to a JS Promise. The future settles on the
// loop, so resolving here is safe.
func (r *Runtime) promise(vm *goja.Runtime, f *bridge.Future[any]) goja.Value {
	p, resolve, reject := vm.NewPromise()
	f.Then(func(v any, err error) {
		if err != nil {
			_ = reject(vm.NewGoError(err))
			return
		}
		_ = resolve(v)
	})
	return vm.ToValue(p)
}

// envelopeArg reads an envelope object passed from guest code
func envelopeArg(v goja.Value) bridge.Envelope {
	m, _ := export(v).(map[string]any)
	return bridge.EnvelopeFromMap(m)
}

// export converts a goja value to Go, mapping undefined and null to nil
func export(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
