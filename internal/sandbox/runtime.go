package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/guestbridge/internal/bridge"
)

// strippedGlobals are removed from every guest
var strippedGlobals = []string{"require", "process", "module", "exports"}

// Runtime is one guest: a goja VM owned by an event loop goroutine, with a
// bridge installing itself against the VM's global scope.
type Runtime struct {
	config Config
	loop   *eventloop.EventLoop
	vm     *goja.Runtime // only Interrupt may be called off the loop
	bridge *bridge.Bridge
	logger *zap.Logger

	// Console output
	console   []LogEntry
	consoleMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// New starts a guest runtime. The binding installer begins polling for the
// host primitive immediately.
func New(config Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	r := &Runtime{
		config:  config,
		logger:  logger.Named("sandbox"),
		console: []LogEntry{},
		done:    make(chan struct{}),
	}

	registry := new(require.Registry)
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(&consolePrinter{r: r}))

	r.loop = eventloop.NewEventLoop(eventloop.WithRegistry(registry))
	r.loop.Start()

	// Initialize the VM synchronously on the loop
	errc := make(chan error, 1)
	r.loop.RunOnLoop(func(vm *goja.Runtime) {
		errc <- r.setup(vm)
	})
	if err := <-errc; err != nil {
		r.loop.Stop()
		return nil, fmt.Errorf("failed to initialize sandbox: %w", err)
	}

	return r, nil
}

// setup configures globals and starts installation. Runs on the loop.
func (r *Runtime) setup(vm *goja.Runtime) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()

	r.vm = vm
	if r.config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}

	global := vm.GlobalObject()
	for _, name := range strippedGlobals {
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("strip %s: %w", name, err)
		}
	}

	scope := &globalScope{
		vm:     vm,
		facade: func(b *bridge.Binding) *goja.Object { return r.newFacade(vm, b) },
	}
	r.bridge = bridge.New(r.config.Binding, scope, r.logger).
		WithScheduler(loopScheduler{loop: r.loop}).
		WithMetrics(r.config.Recorder)

	if err := r.installReadiness(vm); err != nil {
		return fmt.Errorf("define readiness accessors: %w", err)
	}

	r.bridge.Install()
	return nil
}

// Bridge returns the guest's bridge
func (r *Runtime) Bridge() *bridge.Bridge {
	return r.bridge
}

// Inject defines the host primitive in the guest's global scope. fn is
// called on the loop and must not block.
func (r *Runtime) Inject(name string, fn func(string)) error {
	return r.run(context.Background(), func(vm *goja.Runtime) error {
		return vm.Set(name, fn)
	})
}

// Deliver hands an inbound envelope to the binding. Delivery happens later
// on the loop; the call does not wait for listeners.
func (r *Runtime) Deliver(env bridge.Envelope) error {
	if r.isClosed() {
		return ErrClosed
	}
	if _, ok := r.bridge.Binding(); !ok {
		return ErrNoBinding
	}

	r.loop.RunOnLoop(func(*goja.Runtime) {
		b, ok := r.bridge.Binding()
		if !ok {
			return
		}
		b.Receive(env)
	})
	return nil
}

// Execute runs script with the configured timeout. A returned promise is
// awaited under the same deadline.
func (r *Runtime) Execute(ctx context.Context, script string) (*Result, error) {
	return r.execute(ctx, script, true)
}

// Load evaluates a bootstrap script without waiting on its completion
// value, so scripts that await the binding do not block their own host.
func (r *Runtime) Load(ctx context.Context, script string) error {
	_, err := r.execute(ctx, script, false)
	return err
}

func (r *Runtime) execute(ctx context.Context, script string, await bool) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	start := time.Now()
	settled := make(chan settlement, 1)

	err := r.run(ctx, func(vm *goja.Runtime) error {
		r.drainConsole()

		val, err := r.runInterruptible(ctx, vm, script)
		if err != nil {
			return err
		}
		if !await {
			settled <- settlement{}
			return nil
		}
		r.settle(vm, val, settled)
		return nil
	})

	result := &Result{}
	finish := func(err error) (*Result, error) {
		result.Duration = time.Since(start)
		result.Console = r.drainConsole()
		if err != nil {
			r.logger.Debug("guest execution failed", zap.Error(err), zap.Duration("duration", result.Duration))
		}
		return result, err
	}

	if err != nil {
		return finish(r.classify(ctx, err))
	}

	select {
	case s := <-settled:
		result.Value = s.value
		return finish(s.err)
	case <-ctx.Done():
		return finish(fmt.Errorf("%w: %v", ErrTimeout, ctx.Err()))
	case <-r.done:
		return finish(ErrClosed)
	}
}

// Console returns output captured since the last Execute
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry{}, r.console...)
}

// Close stops the loop. Must not be called from guest callbacks.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.vm.Interrupt(ErrClosed)
		r.loop.Stop()
	})
	return nil
}

func (r *Runtime) isClosed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// run executes fn on the loop and waits for it to return
func (r *Runtime) run(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	if r.isClosed() {
		return ErrClosed
	}

	errc := make(chan error, 1)
	r.loop.RunOnLoop(func(vm *goja.Runtime) {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("recovered from panic in event loop", zap.Any("panic", p))
				errc <- fmt.Errorf("%w: %v", ErrPanic, p)
			}
		}()
		errc <- fn(vm)
	})

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
}

// runInterruptible runs script, interrupting it when ctx ends or the
// runtime closes. Runs on the loop.
func (r *Runtime) runInterruptible(ctx context.Context, vm *goja.Runtime, script string) (goja.Value, error) {
	vm.ClearInterrupt()

	stop := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-r.done:
			vm.Interrupt(ErrClosed)
		case <-stop:
		}
	}()

	val, err := vm.RunString(script)

	close(stop)
	<-watcherDone
	vm.ClearInterrupt()
	return val, err
}

type settlement struct {
	value any
	err   error
}

// settle reports val, waiting for it first if it is a promise. Runs on the
// loop.
func (r *Runtime) settle(vm *goja.Runtime, val goja.Value, out chan<- settlement) {
	p, ok := export(val).(*goja.Promise)
	if !ok {
		out <- settlement{value: export(val)}
		return
	}

	switch p.State() {
	case goja.PromiseStateFulfilled:
		out <- settlement{value: export(p.Result())}
		return
	case goja.PromiseStateRejected:
		out <- settlement{err: rejection(p.Result())}
		return
	}

	obj := val.ToObject(vm)
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		out <- settlement{err: fmt.Errorf("%w: promise has no then", ErrException)}
		return
	}
	onFulfilled := func(call goja.FunctionCall) goja.Value {
		out <- settlement{value: export(call.Argument(0))}
		return goja.Undefined()
	}
	onRejected := func(call goja.FunctionCall) goja.Value {
		out <- settlement{err: rejection(call.Argument(0))}
		return goja.Undefined()
	}
	if _, err := then(obj, vm.ToValue(onFulfilled), vm.ToValue(onRejected)); err != nil {
		out <- settlement{err: fmt.Errorf("%w: %v", ErrException, err)}
	}
}

func rejection(reason goja.Value) error {
	if reason == nil {
		return ErrRejected
	}
	return fmt.Errorf("%w: %s", ErrRejected, reason.String())
}

// classify maps goja errors to sandbox errors
func (r *Runtime) classify(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	var exception *goja.Exception
	var syntax *goja.CompilerSyntaxError

	switch {
	case errors.As(err, &interrupted):
		if r.isClosed() {
			return ErrClosed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, ctxErr)
		}
		return fmt.Errorf("%w: %v", ErrTimeout, interrupted.Value())
	case errors.As(err, &exception):
		return fmt.Errorf("%w: %s", ErrException, exception.Error())
	case errors.As(err, &syntax):
		return fmt.Errorf("%w: %s", ErrException, syntax.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}
