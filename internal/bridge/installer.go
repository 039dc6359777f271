package bridge

import (
	"fmt"

	"go.uber.org/zap"
)

// Install starts the installation loop: one attempt immediately, then one per
// interval until the primitive is found or MaxAttempts lookups have failed.
// Calling Install more than once has no effect.
func (b *Bridge) Install() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	b.logger.Debug("installing binding",
		zap.String("name", b.cfg.Name),
		zap.Duration("interval", b.cfg.Interval),
		zap.Int("max_attempts", b.cfg.MaxAttempts),
	)

	b.attempt()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return
	}
	b.stop = b.scheduler.Every(b.cfg.Interval, b.attempt)
}

// attempt runs one installation tick
func (b *Bridge) attempt() {
	b.attemptMu.Lock()
	defer b.attemptMu.Unlock()

	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	binding, err := b.tryInstall()
	switch {
	case err != nil:
		attempts := b.finish()
		b.logger.Error("binding failed to install", zap.Error(err), zap.Int("tries", attempts))
		b.metrics.RecordInstall(InstallFailed, attempts)
		b.ready.Reject(err)

	case binding != nil:
		attempts := b.finish()
		binding.Transmit(Envelope{BindingAttached: true})
		b.logger.Debug("binding set up", zap.Int("tries", attempts))
		b.metrics.RecordInstall(InstallAttached, attempts)
		b.ready.Resolve(binding)

	default:
		b.mu.Lock()
		b.attempts++
		exhausted := b.attempts >= b.cfg.MaxAttempts
		attempts := b.attempts
		b.mu.Unlock()

		if exhausted {
			b.finish()
			err := fmt.Errorf("%w: %d lookups of %q", ErrInstallExhausted, attempts, b.cfg.Name)
			b.logger.Error("binding failed to install", zap.Error(err), zap.Int("tries", attempts))
			b.metrics.RecordInstall(InstallExhausted, attempts)
			b.ready.Reject(err)
		}
	}
}

// tryInstall returns a binding if the primitive was found, nil if it is not
// there yet, or an error if installation broke part way.
func (b *Bridge) tryInstall() (binding *Binding, err error) {
	defer func() {
		if r := recover(); r != nil {
			binding = nil
			err = fmt.Errorf("%w: %v", ErrInstallPanic, r)
		}
	}()

	primitive, ok := b.scope.Lookup(b.cfg.Name)
	if !ok {
		return nil, nil
	}

	if err := b.scope.Remove(b.cfg.Name); err != nil {
		return nil, fmt.Errorf("remove primitive %q: %w", b.cfg.Name, err)
	}

	binding = newBinding(b.cfg.Name, primitive, b.table, b.keys, b.logger, b.metrics)

	if err := b.scope.Publish(b.cfg.Name, binding); err != nil {
		return nil, fmt.Errorf("publish binding %q: %w", b.cfg.Name, err)
	}

	b.mu.Lock()
	b.binding = binding
	b.mu.Unlock()
	return binding, nil
}

// finish marks installation done, stops the schedule and returns the
// attempt count
func (b *Bridge) finish() int {
	b.mu.Lock()
	b.finished = true
	stop := b.stop
	b.stop = nil
	attempts := b.attempts
	b.mu.Unlock()

	if stop != nil {
		stop()
	}
	return attempts
}
