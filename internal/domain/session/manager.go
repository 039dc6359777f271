package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/guestbridge/internal/bridge"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/guestbridge/internal/sandbox"
	"github.com/GriffinCanCode/guestbridge/internal/shared/id"
)

// DefaultSubscriberBuffer is the per-subscriber outbound queue length
const DefaultSubscriberBuffer = 64

// Manager owns the live guest sessions
type Manager struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Session // Protected by mu

	config  sandbox.Config
	buffer  int
	logger  *zap.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// NewManager creates a session manager. Every guest gets a copy of config.
func NewManager(config sandbox.Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[id.SessionID]*Session),
		config:   config,
		buffer:   DefaultSubscriberBuffer,
		logger:   logger.Named("session"),
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithTracer opens a span for each create, deliver and execute
func (m *Manager) WithTracer(tracer *tracing.Tracer) *Manager {
	m.tracer = tracer
	return m
}

// WithSubscriberBuffer sets the outbound queue length for new subscribers
func (m *Manager) WithSubscriberBuffer(n int) *Manager {
	if n > 0 {
		m.buffer = n
	}
	return m
}

// Create starts a guest, loads its bootstrap scripts and, unless asked not
// to, injects the host primitive now or after opts.InjectAfter.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (info Info, err error) {
	span, ctx, done := m.track(ctx, "create")
	defer func() { done(err) }()

	sid := id.NewSessionID()
	span.SetTag("session_id", sid.String())
	logger := m.logger.With(zap.String("session_id", sid.String()))

	cfg := m.config
	var recorder *monitoring.SessionRecorder
	if m.metrics != nil {
		recorder = m.metrics.ForSession(sid.String())
		cfg.Recorder = recorder
	}

	rt, err := sandbox.New(cfg, logger)
	if err != nil {
		return Info{}, fmt.Errorf("failed to start guest: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = sid.String()
	}

	s := &Session{
		id:          sid,
		name:        name,
		createdAt:   time.Now(),
		runtime:     rt,
		recorder:    recorder,
		logger:      logger,
		buffer:      m.buffer,
		subscribers: make(map[uint64]chan string),
	}

	for i, script := range opts.Scripts {
		if err := rt.Load(ctx, script); err != nil {
			s.close()
			return Info{}, fmt.Errorf("failed to load script %d: %w", i, err)
		}
	}

	m.mu.Lock()
	m.sessions[sid] = s
	count := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncSessionsTotal()
		m.metrics.SetSessionsActive(count)
	}

	switch {
	case opts.SkipInject:
	case opts.InjectAfter > 0:
		s.mu.Lock()
		s.injectTimer = time.AfterFunc(opts.InjectAfter, func() {
			if err := s.inject(); err != nil && !errors.Is(err, ErrAlreadyInjected) && !errors.Is(err, ErrClosed) {
				logger.Warn("delayed injection failed", zap.Error(err))
			}
		})
		s.mu.Unlock()
	default:
		if err := s.inject(); err != nil {
			_ = m.Close(sid.String())
			return Info{}, fmt.Errorf("failed to inject primitive: %w", err)
		}
	}

	logger.Info("session created",
		zap.String("name", name),
		zap.Int("scripts", len(opts.Scripts)),
		zap.Duration("inject_after", opts.InjectAfter),
		zap.Bool("skip_inject", opts.SkipInject),
	)
	return s.Info(), nil
}

// Get returns a snapshot of one session
func (m *Manager) Get(sessionID string) (Info, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return Info{}, err
	}
	return s.Info(), nil
}

// Session returns the live session
func (m *Manager) Session(sessionID string) (*Session, error) {
	return m.lookup(sessionID)
}

// List returns every live session, oldest first
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	// ULIDs sort by creation time
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].id < sessions[j].id })

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Close stops a session's guest and ends its subscriptions
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[id.SessionID(sessionID)]
	if ok {
		delete(m.sessions, s.id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	s.close()
	if m.metrics != nil {
		m.metrics.SetSessionsActive(count)
	}
	s.logger.Info("session closed")
	return nil
}

// CloseAll stops every session
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[id.SessionID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	if m.metrics != nil {
		m.metrics.SetSessionsActive(0)
	}
}

// Stats aggregates the live sessions
func (m *Manager) Stats() Stats {
	var stats Stats
	for _, info := range m.List() {
		stats.Active++
		if info.Injected {
			stats.Injected++
		}
		switch info.Binding {
		case BindingAttached:
			stats.Attached++
		case BindingFailed:
			stats.Failed++
		}
		stats.EnvelopesIn += info.EnvelopesIn
		stats.EnvelopesOut += info.EnvelopesOut
		stats.Dropped += info.Dropped
	}
	return stats
}

// Deliver sends an inbound envelope to the session's binding
func (m *Manager) Deliver(ctx context.Context, sessionID string, env bridge.Envelope) (err error) {
	span, _, done := m.track(ctx, "deliver")
	defer func() { done(err) }()
	span.SetTag("session_id", sessionID)
	span.SetTag("envelope_kind", env.Kind())

	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	if err := s.runtime.Deliver(env); err != nil {
		return err
	}
	s.in.Add(1)
	return nil
}

// Execute runs a script in the session's guest
func (m *Manager) Execute(ctx context.Context, sessionID, script string) (result *sandbox.Result, err error) {
	span, ctx, done := m.track(ctx, "execute")
	defer func() { done(err) }()
	span.SetTag("session_id", sessionID)

	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.runtime.Execute(ctx, script)
}

// Inject defines the host primitive now, cancelling any pending delayed
// injection
func (m *Manager) Inject(sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return s.inject()
}

// Subscribe returns a channel of outbound payloads from the guest. The
// channel closes when cancel is called or the session closes. Payloads
// are dropped while the channel is full.
func (m *Manager) Subscribe(sessionID string) (<-chan string, func(), error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, nil, err
	}
	return s.subscribe()
}

// WaitReady blocks until the session's binding settles or ctx ends
func (m *Manager) WaitReady(ctx context.Context, sessionID string) (bool, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return false, err
	}
	return s.runtime.Bridge().BindingReady(ctx), nil
}

func (m *Manager) lookup(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id.SessionID(sessionID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return s, nil
}

// track opens a span for a manager operation and times it when metrics
// are enabled
func (m *Manager) track(ctx context.Context, op string) (*tracing.Span, context.Context, func(error)) {
	span, ctx := m.tracer.StartSpan(ctx, "session."+op)

	var timer *monitoring.Timer
	if m.metrics != nil {
		timer = monitoring.NewTimer(m.metrics, "session_manager", op)
	}

	return span, ctx, func(err error) {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
		m.tracer.Submit(span)

		if timer == nil {
			return
		}
		if err != nil {
			timer.Stop("error")
			return
		}
		timer.Stop("success")
	}
}
