package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestInstallOnFirstCheck(t *testing.T) {
	scope := NewMapScope()
	host := &hostRecorder{}
	scope.Set("bb", host.primitive)
	sched := &manualScheduler{}

	b := New(DefaultConfig(), scope, zaptest.NewLogger(t)).WithScheduler(sched)
	b.Install()

	assert.Nil(t, sched.fn, "no periodic check should be scheduled after immediate success")
	assert.Equal(t, 1, scope.Lookups())

	binding, ok := scope.Published("bb")
	require.True(t, ok)
	got, _ := b.Binding()
	assert.Same(t, binding, got)

	ready, err, settled := b.Ready().Result()
	require.True(t, settled)
	require.NoError(t, err)
	assert.Same(t, binding, ready)

	envs := host.envelopes(t)
	require.Len(t, envs, 1)
	assert.True(t, envs[0].BindingAttached)
	assert.True(t, b.BindingReady(context.Background()))

	// Later install calls are no-ops
	b.Install()
	assert.Equal(t, 1, scope.Lookups())
	assert.Len(t, host.envelopes(t), 1)
}

func TestInstallExhaustsAfterMaxAttempts(t *testing.T) {
	scope := NewMapScope()
	sched := &manualScheduler{}

	b := New(DefaultConfig(), scope, zaptest.NewLogger(t)).WithScheduler(sched)
	b.Install()

	assert.Equal(t, 100*time.Millisecond, sched.interval)

	ticks := 0
	for sched.tick() {
		ticks++
		require.LessOrEqual(t, ticks, 1000, "installer never stopped")
	}

	assert.Equal(t, 299, ticks)
	assert.Equal(t, 300, scope.Lookups())
	assert.Equal(t, 300, b.Attempts())
	assert.Equal(t, 1, sched.stops)

	_, err, settled := b.Ready().Result()
	require.True(t, settled)
	assert.ErrorIs(t, err, ErrInstallExhausted)
	assert.False(t, b.BindingReady(context.Background()))

	// A straggling tick after stop must not look again
	sched.fn()
	assert.Equal(t, 300, scope.Lookups())

	_, ok := b.Binding()
	assert.False(t, ok)
}

func TestInstallAfterLateInjection(t *testing.T) {
	scope := NewMapScope()
	host := &hostRecorder{}
	sched := &manualScheduler{}

	b := New(DefaultConfig(), scope, zaptest.NewLogger(t)).WithScheduler(sched)
	b.Install()

	for i := 0; i < 3; i++ {
		require.True(t, sched.tick())
	}
	assert.Equal(t, 4, b.Attempts())

	scope.Set("bb", host.primitive)
	require.True(t, sched.tick())

	assert.True(t, sched.isStopped())
	assert.True(t, b.BindingReady(context.Background()))
	assert.Len(t, host.envelopes(t), 1)

	// The raw primitive is gone from the scope and cannot be found again
	_, found := scope.Lookup("bb")
	assert.False(t, found)
}

func TestInstallPublishFailureStopsRetrying(t *testing.T) {
	scope := &failingScope{MapScope: NewMapScope(), publishErr: errors.New("read-only global")}
	scope.Set("bb", (&hostRecorder{}).primitive)
	sched := &manualScheduler{}

	b := New(DefaultConfig(), scope, zaptest.NewLogger(t)).WithScheduler(sched)
	b.Install()

	_, err, settled := b.Ready().Result()
	require.True(t, settled)
	assert.ErrorContains(t, err, "read-only global")
	assert.False(t, sched.tick(), "no periodic check after a failed install")

	_, ok := b.Binding()
	assert.False(t, ok)
}

func TestInstallRecoversPanics(t *testing.T) {
	scope := &failingScope{MapScope: NewMapScope(), lookupPanic: true}
	sched := &manualScheduler{}

	b := New(DefaultConfig(), scope, zaptest.NewLogger(t)).WithScheduler(sched)

	assert.NotPanics(t, b.Install)

	_, err, settled := b.Ready().Result()
	require.True(t, settled)
	assert.ErrorIs(t, err, ErrInstallPanic)
}

func TestInstallWithTicker(t *testing.T) {
	scope := NewMapScope()
	cfg := Config{Name: "bb", Interval: time.Millisecond, MaxAttempts: 5}

	b := New(cfg, scope, zaptest.NewLogger(t))
	b.Install()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.False(t, b.BindingReady(ctx))
	assert.Equal(t, 5, scope.Lookups())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 5, scope.Lookups(), "ticker must stop after giving up")
}

func TestInstallWithTickerFindsPrimitive(t *testing.T) {
	scope := NewMapScope()
	host := &hostRecorder{}
	cfg := Config{Name: "binding", Interval: time.Millisecond, MaxAttempts: 1000}

	b := New(cfg, scope, zaptest.NewLogger(t))
	b.Install()

	time.Sleep(5 * time.Millisecond)
	scope.Set("binding", host.primitive)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.True(t, b.BindingReady(ctx))
	binding, ok := scope.Published("binding")
	require.True(t, ok)
	assert.Equal(t, "binding", binding.Name())
}

func TestConfigDefaults(t *testing.T) {
	b := New(Config{}, NewMapScope(), nil)

	cfg := b.Config()
	assert.Equal(t, "bb", cfg.Name)
	assert.Equal(t, 100*time.Millisecond, cfg.Interval)
	assert.Equal(t, 300, cfg.MaxAttempts)
	assert.Equal(t, uint64(30_000_000), cfg.KeySeed)
}

type failingScope struct {
	*MapScope
	publishErr  error
	lookupPanic bool
}

func (s *failingScope) Lookup(name string) (Primitive, bool) {
	if s.lookupPanic {
		panic("scope torn down")
	}
	return s.MapScope.Lookup(name)
}

func (s *failingScope) Publish(name string, binding *Binding) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	return s.MapScope.Publish(name, binding)
}
