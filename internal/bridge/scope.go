package bridge

import (
	"sync"
	"time"
)

// Primitive is the host-injected function. It takes one serialized envelope;
// its return value is not consulted beyond transport errors.
type Primitive func(payload string) error

// Scope is the guest's global namespace as seen by the installer.
type Scope interface {
	// Lookup returns the callable currently bound to name, if any
	Lookup(name string) (Primitive, bool)
	// Remove unbinds name so the raw primitive cannot be reused
	Remove(name string) error
	// Publish makes binding the permanent value of name
	Publish(name string, binding *Binding) error
}

// Scheduler runs fn every interval until the returned stop func is called.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// TickerScheduler runs ticks on a dedicated goroutine
type TickerScheduler struct{}

// Every implements Scheduler
func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

// MapScope is an in-process Scope for hosts that drive the bridge directly
// from Go rather than through a script engine.
type MapScope struct {
	mu         sync.Mutex
	primitives map[string]Primitive
	published  map[string]*Binding
	lookups    int
}

// NewMapScope creates an empty scope
func NewMapScope() *MapScope {
	return &MapScope{
		primitives: make(map[string]Primitive),
		published:  make(map[string]*Binding),
	}
}

// Set injects a primitive under name
func (s *MapScope) Set(name string, p Primitive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primitives[name] = p
}

// Lookup implements Scope. Once a binding is published under name, the
// published binding shadows any primitive set afterwards.
func (s *MapScope) Lookup(name string) (Primitive, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if _, ok := s.published[name]; ok {
		return nil, false
	}
	p, ok := s.primitives[name]
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// Remove implements Scope
func (s *MapScope) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.primitives, name)
	return nil
}

// Publish implements Scope
func (s *MapScope) Publish(name string, binding *Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.published[name]; ok {
		return ErrAlreadyPublished
	}
	s.published[name] = binding
	return nil
}

// Published returns the binding bound to name
func (s *MapScope) Published(name string) (*Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.published[name]
	return b, ok
}

// Lookups returns how many times Lookup was called
func (s *MapScope) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}
