package session

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/guestbridge/internal/bridge"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/guestbridge/internal/sandbox"
)

func newManager(t *testing.T) (*Manager, *monitoring.Metrics) {
	t.Helper()
	cfg := sandbox.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.Binding.Interval = 5 * time.Millisecond

	metrics := monitoring.NewMetrics()
	m := NewManager(cfg, zaptest.NewLogger(t)).WithMetrics(metrics)
	t.Cleanup(m.CloseAll)
	return m, metrics
}

func waitReady(t *testing.T, m *Manager, sessionID string) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := m.WaitReady(ctx, sessionID)
	require.NoError(t, err)
	return ok
}

func receive(t *testing.T, ch <-chan string) bridge.Envelope {
	t.Helper()
	select {
	case p, ok := <-ch:
		require.True(t, ok, "subscription closed")
		env, err := bridge.ParseEnvelope([]byte(p))
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound envelope")
		return bridge.Envelope{}
	}
}

func TestCreateInjectsImmediately(t *testing.T) {
	m, metrics := newManager(t)

	info, err := m.Create(context.Background(), CreateOptions{Name: "checkout"})
	require.NoError(t, err)

	assert.Equal(t, "checkout", info.Name)
	assert.True(t, info.Injected)
	assert.True(t, waitReady(t, m, info.ID))

	got, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, BindingAttached, got.Binding)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Installs.WithLabelValues(bridge.InstallAttached)))
}

func TestCreateDefaultsNameToID(t *testing.T) {
	m, _ := newManager(t)

	info, err := m.Create(context.Background(), CreateOptions{SkipInject: true})
	require.NoError(t, err)
	assert.Equal(t, info.ID, info.Name)
	assert.False(t, info.Injected)
	assert.Equal(t, BindingPending, info.Binding)
}

func TestSubscribeRoundTrip(t *testing.T) {
	m, _ := newManager(t)

	info, err := m.Create(context.Background(), CreateOptions{SkipInject: true})
	require.NoError(t, err)

	out, cancel, err := m.Subscribe(info.ID)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Inject(info.ID))
	assert.True(t, receive(t, out).BindingAttached)

	go func() {
		for p := range out {
			env, err := bridge.ParseEnvelope([]byte(p))
			if err != nil || env.Key == "" {
				continue
			}
			_ = m.Deliver(context.Background(), info.ID, bridge.Envelope{Key: env.Key, Message: map[string]any{"echo": env.Message}})
			return
		}
	}()

	result, err := m.Execute(context.Background(), info.ID, `bb.send('hello')`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "hello"}, result.Value)

	got, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.EnvelopesOut)
	assert.Equal(t, int64(1), got.EnvelopesIn)
	assert.Equal(t, 0, got.Pending)
}

func TestScriptsLoadBeforeInjection(t *testing.T) {
	m, _ := newManager(t)

	info, err := m.Create(context.Background(), CreateOptions{
		Scripts: []string{
			`var log = [];`,
			`(async () => { log.push(await bindingReady()); })();`,
		},
		InjectAfter: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.False(t, info.Injected)

	require.True(t, waitReady(t, m, info.ID))

	result, err := m.Execute(context.Background(), info.ID, `log.join(',')`)
	require.NoError(t, err)
	assert.Equal(t, "true", result.Value)
}

func TestCreateFailsOnBadScript(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.Create(context.Background(), CreateOptions{Scripts: []string{"function ("}})
	assert.ErrorIs(t, err, sandbox.ErrException)
	assert.Empty(t, m.List())
}

func TestInjectTwice(t *testing.T) {
	m, _ := newManager(t)

	info, err := m.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Inject(info.ID), ErrAlreadyInjected)
}

func TestExplicitInjectCancelsDelay(t *testing.T) {
	m, _ := newManager(t)

	info, err := m.Create(context.Background(), CreateOptions{InjectAfter: time.Hour})
	require.NoError(t, err)

	require.NoError(t, m.Inject(info.ID))
	assert.True(t, waitReady(t, m, info.ID))
}

func TestSlowSubscriberDropsPayloads(t *testing.T) {
	m, _ := newManager(t)
	m.WithSubscriberBuffer(1)

	info, err := m.Create(context.Background(), CreateOptions{SkipInject: true})
	require.NoError(t, err)

	out, cancel, err := m.Subscribe(info.ID)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Inject(info.ID))
	require.True(t, waitReady(t, m, info.ID))

	_, err = m.Execute(context.Background(), info.ID, `for (let i = 0; i < 5; i++) bb.postMessage(i); 0`)
	require.NoError(t, err)

	got, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.EnvelopesOut)
	assert.Equal(t, int64(5), got.Dropped)

	// Only the attach notice fit
	assert.True(t, receive(t, out).BindingAttached)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	m, metrics := newManager(t)

	info, err := m.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	out, cancel, err := m.Subscribe(info.ID)
	require.NoError(t, err)

	require.NoError(t, m.Close(info.ID))

	for range out {
	}
	assert.NotPanics(t, cancel)

	assert.ErrorIs(t, m.Close(info.ID), ErrNotFound)
	_, err = m.Get(info.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Deliver(context.Background(), info.ID, bridge.Envelope{}), ErrNotFound)
	_, _, err = m.Subscribe(info.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.SessionsActive))
}

func TestListAndStats(t *testing.T) {
	m, _ := newManager(t)

	first, err := m.Create(context.Background(), CreateOptions{Name: "a"})
	require.NoError(t, err)
	second, err := m.Create(context.Background(), CreateOptions{Name: "b", SkipInject: true})
	require.NoError(t, err)
	require.True(t, waitReady(t, m, first.ID))

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	stats := m.Stats()
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Injected)
	assert.Equal(t, 1, stats.Attached)
	assert.Equal(t, 0, stats.Failed)
}

func TestInstallExhaustionReported(t *testing.T) {
	cfg := sandbox.DefaultConfig()
	cfg.Binding.Interval = time.Millisecond
	cfg.Binding.MaxAttempts = 2
	m := NewManager(cfg, zaptest.NewLogger(t))
	t.Cleanup(m.CloseAll)

	info, err := m.Create(context.Background(), CreateOptions{SkipInject: true})
	require.NoError(t, err)
	assert.False(t, waitReady(t, m, info.ID))

	got, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, BindingFailed, got.Binding)
	assert.NotEmpty(t, got.BindingError)
	assert.Equal(t, 2, got.InstallAttempts)

	assert.Equal(t, 1, m.Stats().Failed)
}

func TestOperationsOpenSpans(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracer := tracing.New("guestbridge", zap.New(core))

	m, _ := newManager(t)
	m.WithTracer(tracer)

	parent, ctx := tracer.StartSpan(context.Background(), "POST /sessions/:id/messages")

	info, err := m.Create(ctx, CreateOptions{Name: "traced"})
	require.NoError(t, err)
	require.True(t, waitReady(t, m, info.ID))

	require.NoError(t, m.Deliver(ctx, info.ID, bridge.Envelope{Key: "host-1", Message: "hi"}))
	_, err = m.Execute(ctx, info.ID, "1 + 1")
	require.NoError(t, err)
	assert.ErrorIs(t, m.Deliver(ctx, "sess_missing", bridge.Envelope{Message: "x"}), ErrNotFound)

	tracer.Close()

	spans := make(map[string][]map[string]any)
	for _, entry := range logs.All() {
		fields := entry.ContextMap()
		op, _ := fields["operation"].(string)
		spans[op] = append(spans[op], fields)
	}

	require.Len(t, spans["session.create"], 1)
	assert.Equal(t, info.ID, spans["session.create"][0]["session_id"])

	require.Len(t, spans["session.execute"], 1)
	assert.Equal(t, info.ID, spans["session.execute"][0]["session_id"])

	require.Len(t, spans["session.deliver"], 2)
	ok, failed := spans["session.deliver"][0], spans["session.deliver"][1]
	assert.Equal(t, info.ID, ok["session_id"])
	assert.Equal(t, bridge.KindKeyed, ok["envelope_kind"])
	assert.Equal(t, "sess_missing", failed["session_id"])
	assert.Contains(t, failed["error"], "session not found")

	for _, group := range spans {
		for _, span := range group {
			assert.Equal(t, string(parent.TraceID), span["trace_id"])
			assert.Equal(t, string(parent.SpanID), span["parent_id"])
		}
	}
}
