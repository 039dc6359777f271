package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/guestbridge/internal/bridge"
	"github.com/GriffinCanCode/guestbridge/internal/domain/session"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/guestbridge/internal/sandbox"
	"github.com/GriffinCanCode/guestbridge/internal/shared/id"
	"github.com/GriffinCanCode/guestbridge/internal/shared/utils"
)

const (
	// Version is reported by the root and health endpoints
	Version = "0.1.0"

	maxWaitReady = time.Minute
)

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions *session.Manager
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	started  time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(sessions *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		sessions: sessions,
		metrics:  metrics,
		logger:   logger.Named("api"),
		started:  time.Now(),
	}
}

// CreateSessionRequest is the body of POST /sessions
type CreateSessionRequest struct {
	Name          string   `json:"name"`
	Script        string   `json:"script"`
	Scripts       []string `json:"scripts"`
	InjectAfterMs int64    `json:"inject_after_ms"`
	SkipInject    bool     `json:"skip_inject"`
}

// ExecuteRequest is the body of POST /sessions/:id/execute
type ExecuteRequest struct {
	Script    string `json:"script" binding:"required"`
	TimeoutMs int64  `json:"timeout_ms"`
}

// Root handles the liveness probe
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "guestbridge",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":         "healthy",
		"version":        Version,
		"uptime_seconds": time.Since(h.started).Seconds(),
		"sessions":       h.sessions.Stats(),
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// Metrics serves the Prometheus exposition
func (h *Handlers) Metrics(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics disabled"})
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// CreateSession starts a new guest
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if req.InjectAfterMs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "inject_after_ms must not be negative"})
		return
	}

	scripts := req.Scripts
	if req.Script != "" {
		scripts = append(scripts, req.Script)
	}
	if err := utils.ValidateName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateScripts(scripts...); err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}

	info, err := h.sessions.Create(c.Request.Context(), session.CreateOptions{
		Name:        req.Name,
		Scripts:     scripts,
		InjectAfter: time.Duration(req.InjectAfterMs) * time.Millisecond,
		SkipInject:  req.SkipInject,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, info)
}

// ListSessions lists all live sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.sessions.List(),
		"stats":    h.sessions.Stats(),
	})
}

// GetSession returns one session
func (h *Handlers) GetSession(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	info, err := h.sessions.Get(sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// CloseSession stops a session and its guest
func (h *Handlers) CloseSession(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.sessions.Close(sessionID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": sessionID})
}

// Inject defines the host primitive in the guest now
func (h *Handlers) Inject(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.sessions.Inject(sessionID); err != nil {
		h.fail(c, err)
		return
	}

	info, err := h.sessions.Get(sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Ready waits for the binding to settle, bounded by ?timeout_ms
func (h *Handlers) Ready(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	wait := maxWaitReady
	if raw := c.Query("timeout_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout_ms"})
			return
		}
		if d := time.Duration(ms) * time.Millisecond; d < wait {
			wait = d
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()

	ready, err := h.sessions.WaitReady(ctx, sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": sessionID, "ready": ready})
}

// PostMessage delivers one inbound envelope object to the guest
func (h *Handlers) PostMessage(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := utils.ValidateEnvelope(data); err != nil {
		status := http.StatusBadRequest
		var sizeErr *utils.SizeError
		if errors.As(err, &sizeErr) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": "invalid envelope: " + err.Error()})
		return
	}
	env, err := bridge.ParseEnvelope(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid envelope: " + err.Error()})
		return
	}

	if err := h.sessions.Deliver(c.Request.Context(), sessionID, env); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "kind": env.Kind()})
}

// Execute runs a script in the guest and returns its settled value
func (h *Handlers) Execute(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := utils.ValidateScripts(req.Script); err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	result, err := h.sessions.Execute(ctx, sessionID, req.Script)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// sessionID validates the :id path parameter
func (h *Handlers) sessionID(c *gin.Context) (string, bool) {
	raw := c.Param("id")
	if _, err := id.ParseSessionID(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return raw, true
}

// fail maps domain errors onto status codes
func (h *Handlers) fail(c *gin.Context, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", string(tracing.GetTraceID(c.Request.Context()))),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusOf returns the HTTP status for an error from the session layer
func StatusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrClosed), errors.Is(err, sandbox.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyInjected), errors.Is(err, sandbox.ErrNoBinding):
		return http.StatusConflict
	case errors.Is(err, sandbox.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.Is(err, sandbox.ErrException), errors.Is(err, sandbox.ErrRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
