package sandbox

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"

	"github.com/GriffinCanCode/guestbridge/internal/bridge"
)

// globalScope exposes the guest's global object to the installer.
// Every method must run on the loop.
type globalScope struct {
	vm     *goja.Runtime
	facade func(*bridge.Binding) *goja.Object
}

func (s *globalScope) Lookup(name string) (bridge.Primitive, bool) {
	fn, ok := goja.AssertFunction(s.vm.GlobalObject().Get(name))
	if !ok {
		return nil, false
	}
	return func(payload string) error {
		_, err := fn(goja.Undefined(), s.vm.ToValue(payload))
		return err
	}, true
}

func (s *globalScope) Remove(name string) error {
	return s.vm.GlobalObject().Delete(name)
}

// Publish installs a non-configurable getter so later assignments from
// guest code cannot replace the façade.
func (s *globalScope) Publish(name string, binding *bridge.Binding) error {
	obj := s.facade(binding)
	getter := s.vm.ToValue(func(goja.FunctionCall) goja.Value { return obj })
	if err := s.vm.GlobalObject().DefineAccessorProperty(name, getter, nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return fmt.Errorf("%w: %v", bridge.ErrAlreadyPublished, err)
	}
	return nil
}

// loopScheduler runs install attempts as loop intervals so they never race
// guest code.
type loopScheduler struct {
	loop *eventloop.EventLoop
}

func (s loopScheduler) Every(interval time.Duration, fn func()) func() {
	iv := s.loop.SetInterval(func(*goja.Runtime) { fn() }, interval)
	return func() { s.loop.ClearInterval(iv) }
}
