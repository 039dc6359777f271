package bridge

import "sync"

// Listener observes one inbound envelope. A returned error is logged by the
// binding and does not stop delivery to later listeners.
type Listener func(env Envelope) error

// Listeners is an ordered registry of inbound subscribers.
// There is no unsubscribe; listeners live as long as the binding.
type Listeners struct {
	mu   sync.RWMutex
	list []Listener
}

// Add appends fn. A nil listener is rejected with ErrNotCallable.
func (l *Listeners) Add(fn Listener) error {
	if fn == nil {
		return ErrNotCallable
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, fn)
	return nil
}

// Snapshot returns the listeners in registration order
func (l *Listeners) Snapshot() []Listener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Listener(nil), l.list...)
}

// Len returns the number of registered listeners
func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.list)
}
