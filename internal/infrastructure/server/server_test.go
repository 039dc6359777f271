package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/guestbridge/internal/api/middleware"
	"github.com/GriffinCanCode/guestbridge/internal/domain/session"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/guestbridge/internal/logging"
	"github.com/GriffinCanCode/guestbridge/internal/manifest"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Binding.InstallInterval = 5 * time.Millisecond
	cfg.Sandbox.Timeout = 2 * time.Second
	cfg.Logging.Development = true
	return cfg
}

func TestSandboxConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Binding.Name = "hostBinding"
	cfg.Binding.MaxInstallTries = 7

	sc := SandboxConfig(cfg)
	assert.Equal(t, 2*time.Second, sc.Timeout)
	assert.Equal(t, "hostBinding", sc.Binding.Name)
	assert.Equal(t, 5*time.Millisecond, sc.Binding.Interval)
	assert.Equal(t, 7, sc.Binding.MaxAttempts)
	assert.Equal(t, uint64(30_000_000), sc.Binding.KeySeed)
}

func TestRoutesThroughMiddleware(t *testing.T) {
	srv := New(testConfig(), logging.NewNop())
	t.Cleanup(func() { _ = srv.Close() })

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `guestbridge_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestRateLimitFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestsPerSecond = 1
	cfg.RateLimit.Burst = 1

	srv := New(cfg, logging.NewNop())
	t.Cleanup(func() { _ = srv.Close() })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestLaunchManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "a.js"), []byte("globalThis.order = ['a']"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "b.js"), []byte("order.push('b')"), 0o644))
	path := filepath.Join(dir, "guests.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sessions:
  - name: checkout
    scripts: ["scripts/*.js"]
    inline: "order.push('inline')"
  - name: idle
    skip_inject: true
`), 0o644))

	srv := New(testConfig(), logging.NewNop())
	t.Cleanup(func() { _ = srv.Close() })
	ctx := context.Background()

	created, err := srv.LaunchManifest(ctx, path)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "checkout", created[0].Name)
	assert.True(t, created[0].Injected)
	assert.False(t, created[1].Injected)

	res, err := srv.Sessions().Execute(ctx, created[0].ID, "order.join(',')")
	require.NoError(t, err)
	assert.Equal(t, "a,b,inline", res.Value)
}

func TestLaunchManifestStopsOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guests.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[sessions]]
name = "ok"

[[sessions]]
name = "broken"
inline = "throw new Error('boot failed')"

[[sessions]]
name = "never"
`), 0o644))

	srv := New(testConfig(), logging.NewNop())
	t.Cleanup(func() { _ = srv.Close() })

	created, err := srv.LaunchManifest(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"broken"`)
	require.Len(t, created, 1)
	assert.Len(t, srv.Sessions().List(), 1)

	_, err = srv.LaunchManifest(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = srv.LaunchManifest(context.Background(), filepath.Join(dir, "guests.json"))
	assert.ErrorIs(t, err, manifest.ErrUnknownFormat)
}

func TestRunAndShutdown(t *testing.T) {
	cfg := testConfig()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())
	cfg.Server.Port = port

	srv := New(cfg, logging.NewNop())
	_, err = srv.Sessions().Create(context.Background(), session.CreateOptions{Name: "live"})
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + port + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Close())
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}
	assert.Empty(t, srv.Sessions().List())
}

func TestTracingLinksRequestToDelivery(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	srv := New(testConfig(), &logging.Logger{Logger: zap.New(core)})

	ctx := context.Background()
	info, err := srv.Sessions().Create(ctx, session.CreateOptions{Name: "traced"})
	require.NoError(t, err)
	ready, err := srv.Sessions().WaitReady(ctx, info.ID)
	require.NoError(t, err)
	require.True(t, ready)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/sessions/"+info.ID+"/messages", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set(tracing.TraceIDHeader, "trace-from-caller")
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "trace-from-caller", w.Header().Get(tracing.TraceIDHeader))
	requestSpan := w.Header().Get(tracing.SpanIDHeader)
	require.NotEmpty(t, requestSpan)

	// Close drains the span collector
	require.NoError(t, srv.Close())

	var deliver, request map[string]any
	for _, entry := range logs.FilterMessage("span completed").All() {
		fields := entry.ContextMap()
		if fields["trace_id"] != "trace-from-caller" {
			continue
		}
		switch fields["operation"] {
		case "session.deliver":
			deliver = fields
		case "/sessions/:id/messages":
			request = fields
		}
	}

	require.NotNil(t, request, "request span not logged")
	assert.Equal(t, info.ID, request["session_id"])
	assert.Equal(t, "202", request["http.status"])
	assert.NotEmpty(t, request["request_id"])

	require.NotNil(t, deliver, "deliver span not logged")
	assert.Equal(t, requestSpan, deliver["parent_id"])
	assert.Equal(t, info.ID, deliver["session_id"])
	assert.Equal(t, "message", deliver["envelope_kind"])
}

func TestTracingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Tracing.Enabled = false

	srv := New(cfg, logging.NewNop())
	t.Cleanup(func() { _ = srv.Close() })

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(tracing.TraceIDHeader), "ids still propagate without a collector")
}
