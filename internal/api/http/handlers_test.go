package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/guestbridge/internal/domain/session"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/guestbridge/internal/sandbox"
	"github.com/GriffinCanCode/guestbridge/internal/shared/id"
	"github.com/GriffinCanCode/guestbridge/internal/shared/utils"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := sandbox.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.Binding.Interval = 5 * time.Millisecond

	logger := zaptest.NewLogger(t)
	metrics := monitoring.NewMetrics()
	sessions := session.NewManager(cfg, logger).WithMetrics(metrics)
	t.Cleanup(sessions.CloseAll)

	router := gin.New()
	router.Use(monitoring.Middleware(metrics))
	NewHandlers(sessions, metrics, logger).Register(router, nil)
	return router, sessions
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func create(t *testing.T, router *gin.Engine, req CreateSessionRequest) session.Info {
	t.Helper()
	w := do(t, router, "POST", "/sessions", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[session.Info](t, w)
}

func TestRootAndHealth(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := do(t, router, "GET", "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "guestbridge", decode[map[string]any](t, w)["service"])

	create(t, router, CreateSessionRequest{Name: "a"})

	w = do(t, router, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health struct {
		Status   string                     `json:"status"`
		Sessions session.Stats              `json:"sessions"`
		Metrics  monitoring.MetricsSnapshot `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Sessions.Active)
	assert.Equal(t, int64(1), health.Metrics.ActiveSessions)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)
	do(t, router, "GET", "/health", nil)

	w := do(t, router, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `guestbridge_http_requests_total`)
	assert.Contains(t, w.Body.String(), `path="/health"`)
}

func TestSessionLifecycle(t *testing.T) {
	router, _ := setupTestRouter(t)

	info := create(t, router, CreateSessionRequest{Name: "page"})
	assert.Equal(t, "page", info.Name)
	assert.True(t, info.Injected)

	w := do(t, router, "GET", "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Sessions []session.Info `json:"sessions"`
		Stats    session.Stats  `json:"stats"`
	}](t, w)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, info.ID, list.Sessions[0].ID)

	w = do(t, router, "GET", "/sessions/"+info.ID+"/ready?timeout_ms=2000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["ready"])

	w = do(t, router, "GET", "/sessions/"+info.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, session.BindingAttached, decode[session.Info](t, w).Binding)

	w = do(t, router, "DELETE", "/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionIDValidation(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "malformed", path: "/sessions/nope", wantStatus: http.StatusBadRequest},
		{name: "wrong prefix", path: "/sessions/req_01J00000000000000000000000", wantStatus: http.StatusBadRequest},
		{name: "unknown", path: "/sessions/" + id.NewSessionID().String(), wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "GET", tt.path, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestCreateSessionRejects(t *testing.T) {
	router, sessions := setupTestRouter(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{name: "not json", body: "{", wantStatus: http.StatusBadRequest},
		{name: "negative delay", body: CreateSessionRequest{InjectAfterMs: -1}, wantStatus: http.StatusBadRequest},
		{name: "name with null byte", body: CreateSessionRequest{Name: "a\x00b"}, wantStatus: http.StatusBadRequest},
		{name: "bootstrap throws", body: CreateSessionRequest{Script: "throw new Error('bad')"}, wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", "/sessions", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, sessions.List())
}

func TestExecute(t *testing.T) {
	router, _ := setupTestRouter(t)
	info := create(t, router, CreateSessionRequest{Script: "globalThis.base = 40"})
	path := "/sessions/" + info.ID + "/execute"

	tests := []struct {
		name       string
		body       ExecuteRequest
		wantStatus int
		wantValue  any
	}{
		{name: "value", body: ExecuteRequest{Script: "base + 2"}, wantStatus: http.StatusOK, wantValue: float64(42)},
		{name: "awaited promise", body: ExecuteRequest{Script: "Promise.resolve('done')"}, wantStatus: http.StatusOK, wantValue: "done"},
		{name: "exception", body: ExecuteRequest{Script: "null.x"}, wantStatus: http.StatusUnprocessableEntity},
		{name: "timeout", body: ExecuteRequest{Script: "for(;;){}", TimeoutMs: 50}, wantStatus: http.StatusRequestTimeout},
		{name: "missing script", body: ExecuteRequest{}, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", path, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantValue, decode[map[string]any](t, w)["value"])
			}
		})
	}
}

func TestInjectAndMessages(t *testing.T) {
	router, _ := setupTestRouter(t)
	info := create(t, router, CreateSessionRequest{SkipInject: true})
	base := "/sessions/" + info.ID

	w := do(t, router, "POST", base+"/messages", map[string]any{"message": "early"})
	assert.Equal(t, http.StatusConflict, w.Code, "no binding before injection")

	w = do(t, router, "POST", base+"/inject", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[session.Info](t, w).Injected)

	w = do(t, router, "POST", base+"/inject", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, "GET", base+"/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode[map[string]any](t, w)["ready"])

	w = do(t, router, "POST", base+"/execute", ExecuteRequest{Script: "globalThis.got = []; bb.onmessage = m => got.push(m); 0"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "POST", base+"/messages", "[1,2]")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", base+"/messages", map[string]any{"message": strings.Repeat("x", utils.MaxEnvelopeSize)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = do(t, router, "POST", base+"/messages", map[string]any{"message": "hi"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "message", decode[map[string]any](t, w)["kind"])

	// Execution is queued behind the delivery on the guest loop
	w = do(t, router, "POST", base+"/execute", ExecuteRequest{Script: "got"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"hi"}, decode[map[string]any](t, w)["value"])

	w = do(t, router, "GET", base, nil)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["envelopes_in"])
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: session.ErrNotFound, want: http.StatusNotFound},
		{err: sandbox.ErrClosed, want: http.StatusNotFound},
		{err: session.ErrAlreadyInjected, want: http.StatusConflict},
		{err: sandbox.ErrNoBinding, want: http.StatusConflict},
		{err: sandbox.ErrTimeout, want: http.StatusRequestTimeout},
		{err: context.DeadlineExceeded, want: http.StatusRequestTimeout},
		{err: sandbox.ErrRejected, want: http.StatusUnprocessableEntity},
		{err: errors.New("other"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}
