package bridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/guestbridge/internal/shared/id"
)

// Config controls installation of the binding
type Config struct {
	Name        string        // Well-known global name of the host primitive
	Interval    time.Duration // Delay between install attempts
	MaxAttempts int           // Lookups before giving up
	KeySeed     uint64        // First correlation counter value
}

// DefaultConfig returns the standard installation settings: 300 attempts
// at 100ms, a 30 second ceiling.
func DefaultConfig() Config {
	return Config{
		Name:        "bb",
		Interval:    100 * time.Millisecond,
		MaxAttempts: 300,
		KeySeed:     id.CorrelationSeed,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.KeySeed == 0 {
		c.KeySeed = d.KeySeed
	}
	return c
}

// Bridge is the per-guest context: it owns the resolver table, the key
// sequence, the readiness future and, once installed, the binding.
type Bridge struct {
	cfg       Config
	scope     Scope
	scheduler Scheduler
	logger    *zap.Logger
	metrics   Recorder

	table *Table
	keys  *id.Sequence
	ready *Future[*Binding]

	// attemptMu serializes install attempts; mu guards the fields below
	attemptMu sync.Mutex
	mu        sync.Mutex
	started   bool
	finished  bool
	attempts  int
	stop      func()
	binding   *Binding
}

// New creates a bridge for one guest scope. Call Install to start looking
// for the primitive.
func New(cfg Config, scope Scope, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	return &Bridge{
		cfg:       cfg,
		scope:     scope,
		scheduler: TickerScheduler{},
		logger:    logger.Named("bridge"),
		metrics:   nopRecorder{},
		table:     NewTable(),
		keys:      id.NewSequence(cfg.KeySeed),
		ready:     NewFuture[*Binding](),
	}
}

// WithScheduler replaces the ticker used between install attempts.
// Must be called before Install.
func (b *Bridge) WithScheduler(s Scheduler) *Bridge {
	if s != nil {
		b.scheduler = s
	}
	return b
}

// WithMetrics attaches a metrics recorder. Must be called before Install.
func (b *Bridge) WithMetrics(r Recorder) *Bridge {
	if r != nil {
		b.metrics = r
	}
	return b
}

// Config returns the effective configuration
func (b *Bridge) Config() Config {
	return b.cfg
}

// Ready returns the readiness future. It resolves with the binding once
// installed, or is rejected once installation gives up.
func (b *Bridge) Ready() *Future[*Binding] {
	return b.ready
}

// BindingReady waits for installation and reports whether it succeeded.
// Failure and ctx cancellation both yield false.
func (b *Bridge) BindingReady(ctx context.Context) bool {
	b.logger.Debug("waiting for binding to be ready")
	if _, err := b.ready.Wait(ctx); err != nil {
		b.logger.Debug("binding install failed", zap.Error(err))
		return false
	}
	b.logger.Debug("binding ready")
	return true
}

// Binding returns the installed façade, if any
func (b *Bridge) Binding() (*Binding, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.binding, b.binding != nil
}

// Attempts returns the number of failed lookups so far
func (b *Bridge) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Table exposes the resolver table for inspection
func (b *Bridge) Table() *Table {
	return b.table
}
