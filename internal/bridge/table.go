package bridge

import (
	"sort"
	"sync"
)

// Completion receives the reply payload for one pending request
type Completion func(reply any)

// Table tracks pending requests by correlation key, and reverse associations
// (message fingerprint -> key) recorded when the host originates a keyed
// message before the guest asks for it.
type Table struct {
	mu        sync.Mutex
	byKey     map[string]Completion
	byMessage map[string]string
}

// NewTable creates an empty resolver table
func NewTable() *Table {
	return &Table{
		byKey:     make(map[string]Completion),
		byMessage: make(map[string]string),
	}
}

// Register records a pending completion under key, replacing any previous one
func (t *Table) Register(key string, c Completion) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byKey[key] = c
}

// Take removes and returns the completion registered under key
func (t *Table) Take(key string) (Completion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byKey[key]
	if ok {
		delete(t.byKey, key)
	}
	return c, ok
}

// Has reports whether key has a pending completion
func (t *Table) Has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byKey[key]
	return ok
}

// Drop removes the pending completion under key without running it
func (t *Table) Drop(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byKey[key]
	delete(t.byKey, key)
	return ok
}

// Remember stores a reverse association from a message fingerprint to the key
// the host used for it
func (t *Table) Remember(fingerprint, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byMessage[fingerprint] = key
}

// Recall consumes the reverse association for fingerprint
func (t *Table) Recall(fingerprint string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, ok := t.byMessage[fingerprint]
	if ok {
		delete(t.byMessage, fingerprint)
	}
	return key, ok
}

// Pending returns the number of outstanding requests
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byKey)
}

// Reverse returns the number of stored reverse associations
func (t *Table) Reverse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byMessage)
}

// Keys lists outstanding correlation keys in sorted order
func (t *Table) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.byKey))
	for k := range t.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
