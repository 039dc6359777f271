package bridge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/guestbridge/internal/shared/id"
)

// Correlation key prefixes
const (
	ControlKeyPrefix = "binding"
	BidiKeyPrefix    = "bidi"
)

// Binding is the façade published in place of the host primitive.
// It is created once per Bridge and never replaced.
type Binding struct {
	name      string
	primitive Primitive
	table     *Table
	listeners *Listeners
	keys      *id.Sequence
	logger    *zap.Logger
	metrics   Recorder
}

func newBinding(name string, primitive Primitive, table *Table, keys *id.Sequence, logger *zap.Logger, metrics Recorder) *Binding {
	b := &Binding{
		name:      name,
		primitive: primitive,
		table:     table,
		listeners: &Listeners{},
		keys:      keys,
		logger:    logger,
		metrics:   metrics,
	}
	// Cannot fail: both listeners are non-nil
	_ = b.listeners.Add(b.bidi)
	_ = b.listeners.Add(b.resolveResponse)
	return b
}

// Name returns the global name the binding is published under
func (b *Binding) Name() string {
	return b.name
}

// Transmit serializes env and hands it to the host primitive. Transport
// failures are logged and swallowed; callers never observe them.
func (b *Binding) Transmit(env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("binding send failed",
				zap.Any("panic", r),
				zap.String("kind", env.Kind()),
			)
		}
	}()

	payload, err := env.Marshal()
	if err != nil {
		b.logger.Warn("binding send failed: encode envelope",
			zap.Error(err),
			zap.String("kind", env.Kind()),
		)
		return
	}

	if err := b.primitive(payload); err != nil {
		b.logger.Warn("binding send failed",
			zap.Error(err),
			zap.String("kind", env.Kind()),
		)
		return
	}
	b.metrics.RecordEnvelope(DirectionOut, env.Kind())
}

// Receive is the inbound entry point the host invokes with envelope objects.
// Every listener sees env in registration order; one listener failing does
// not affect the others. If env.Message names an outstanding key, that entry
// is cleared afterwards regardless of which listener handled it.
func (b *Binding) Receive(env Envelope) {
	b.metrics.RecordEnvelope(DirectionIn, env.Kind())

	for i, listener := range b.listeners.Snapshot() {
		b.dispatch(i, listener, env)
	}

	if key, ok := env.Message.(string); ok && b.table.Drop(key) {
		b.logger.Debug("cleared pending entry named by message", zap.String("key", key))
	}
	b.metrics.SetPending(b.table.Pending())
}

func (b *Binding) dispatch(index int, listener Listener, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("binding listener failed",
				zap.Int("listener", index),
				zap.Any("panic", r),
			)
		}
	}()

	if err := listener(env); err != nil {
		b.logger.Warn("binding listener failed",
			zap.Int("listener", index),
			zap.Error(err),
		)
	}
}

// PostMessage sends a one-way message with no correlation
func (b *Binding) PostMessage(payload any) {
	b.Transmit(Envelope{Message: payload})
}

// SetOnMessage registers fn for the message field of every inbound envelope
// whose message is truthy.
func (b *Binding) SetOnMessage(fn func(message any)) error {
	if fn == nil {
		return ErrNotCallable
	}
	return b.AddListener(func(env Envelope) error {
		if truthy(env.Message) {
			fn(env.Message)
		}
		return nil
	})
}

// AddListener registers fn for every inbound envelope
func (b *Binding) AddListener(fn Listener) error {
	return b.listeners.Add(fn)
}

// Ctl issues a correlated control call. The future settles with the reply's
// response object, minus its key, once a matching reply arrives. It never
// times out.
func (b *Binding) Ctl(method string, params any, sessionID string) *Future[any] {
	key := b.keys.Next(ControlKeyPrefix)
	fut := NewFuture[any]()
	b.table.Register(key, func(reply any) { fut.Resolve(reply) })
	b.metrics.SetPending(b.table.Pending())

	b.Transmit(Envelope{
		Method:    method,
		Params:    params,
		SessionID: sessionID,
		Key:       key,
	})
	return fut
}

// Send issues a correlated message. If the host already sent a keyed message
// equal to payload, the stored key is used to answer it and the returned
// future is already resolved with payload.
func (b *Binding) Send(payload any) *Future[any] {
	if fp, err := Fingerprint(payload); err == nil {
		if key, ok := b.table.Recall(fp); ok {
			b.Transmit(Envelope{Message: payload, Key: key})
			return Resolved[any](payload)
		}
	}

	key := b.keys.Next(BidiKeyPrefix)
	fut := NewFuture[any]()
	b.table.Register(key, func(reply any) { fut.Resolve(reply) })
	b.metrics.SetPending(b.table.Pending())

	b.Transmit(Envelope{Message: payload, Key: key})
	return fut
}

// Pending returns the number of outstanding correlated calls
func (b *Binding) Pending() int {
	return b.table.Pending()
}

// Listeners returns the number of registered listeners, built-ins included
func (b *Binding) Listeners() int {
	return b.listeners.Len()
}

// bidi matches keyed messages in either direction. A key with a pending
// completion is an answer to an outbound Send; any other key is the host
// starting the exchange, so the association is stored for a later Send.
func (b *Binding) bidi(env Envelope) error {
	if env.Key == "" {
		return nil
	}
	if deliver, ok := b.table.Take(env.Key); ok {
		deliver(env.Message)
		return nil
	}

	fp, err := Fingerprint(env.Message)
	if err != nil {
		return fmt.Errorf("fingerprint message for key %s: %w", env.Key, err)
	}
	b.table.Remember(fp, env.Key)
	return nil
}

// resolveResponse settles Ctl calls from {response: {key, ...}} envelopes
func (b *Binding) resolveResponse(env Envelope) error {
	if env.Response == nil {
		return nil
	}

	key, _ := env.Response["key"].(string)
	if key == "" {
		b.logger.Info("no key for response", zap.Any("response", env.Response))
		return nil
	}

	reply, ok := b.table.Take(key)
	if !ok {
		b.logger.Info("no replier for response", zap.String("key", key))
		return nil
	}

	body := make(map[string]any, len(env.Response))
	for k, v := range env.Response {
		if k != "key" {
			body[k] = v
		}
	}
	reply(body)
	return nil
}
