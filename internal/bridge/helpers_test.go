package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// hostRecorder plays the host side of the primitive
type hostRecorder struct {
	mu       sync.Mutex
	payloads []string
	fail     error
}

func (h *hostRecorder) primitive(payload string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	h.payloads = append(h.payloads, payload)
	return nil
}

func (h *hostRecorder) envelopes(t *testing.T) []Envelope {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Envelope, 0, len(h.payloads))
	for _, p := range h.payloads {
		env, err := ParseEnvelope([]byte(p))
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (h *hostRecorder) last(t *testing.T) Envelope {
	t.Helper()
	envs := h.envelopes(t)
	require.NotEmpty(t, envs)
	return envs[len(envs)-1]
}

// manualScheduler only ticks when the test says so
type manualScheduler struct {
	mu       sync.Mutex
	fn       func()
	interval time.Duration
	stopped  bool
	stops    int
}

func (m *manualScheduler) Every(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	m.interval = interval
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.stopped = true
		m.stops++
	}
}

// tick runs one scheduled attempt; returns false once stopped
func (m *manualScheduler) tick() bool {
	m.mu.Lock()
	fn, stopped := m.fn, m.stopped
	m.mu.Unlock()
	if stopped || fn == nil {
		return false
	}
	fn()
	return true
}

func (m *manualScheduler) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// installed returns a bridge whose binding attached on the first check
func installed(t *testing.T) (*Bridge, *Binding, *hostRecorder) {
	t.Helper()

	scope := NewMapScope()
	host := &hostRecorder{}
	scope.Set("bb", host.primitive)

	b := New(DefaultConfig(), scope, zaptest.NewLogger(t)).WithScheduler(&manualScheduler{})
	b.Install()

	binding, ok := b.Binding()
	require.True(t, ok, "binding should attach on first check")
	return b, binding, host
}

var errTransport = errors.New("transport down")
