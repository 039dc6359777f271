package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/guestbridge/internal/domain/session"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/guestbridge/internal/sandbox"
)

// CreateRequest mirrors the body of POST /sessions
type CreateRequest struct {
	Name          string   `json:"name,omitempty"`
	Script        string   `json:"script,omitempty"`
	Scripts       []string `json:"scripts,omitempty"`
	InjectAfterMs int64    `json:"inject_after_ms,omitempty"`
	SkipInject    bool     `json:"skip_inject,omitempty"`
}

// Health is the body of GET /health
type Health struct {
	Status        string                      `json:"status"`
	Version       string                      `json:"version"`
	UptimeSeconds float64                     `json:"uptime_seconds"`
	Sessions      session.Stats               `json:"sessions"`
	Metrics       *monitoring.MetricsSnapshot `json:"metrics,omitempty"`
}

// SessionList is the body of GET /sessions
type SessionList struct {
	Sessions []session.Info `json:"sessions"`
	Stats    session.Stats  `json:"stats"`
}

// Health fetches controller health
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSession starts a guest
func (c *Client) CreateSession(ctx context.Context, req CreateRequest) (*session.Info, error) {
	var out session.Info
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions lists live guests
func (c *Client) ListSessions(ctx context.Context) (*SessionList, error) {
	var out SessionList
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches one guest
func (c *Client) GetSession(ctx context.Context, sessionID string) (*session.Info, error) {
	var out session.Info
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseSession stops a guest
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sessionID, ""), nil, nil)
}

// Inject defines the host primitive in a guest created with SkipInject
func (c *Client) Inject(ctx context.Context, sessionID string) (*session.Info, error) {
	var out session.Info
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/inject"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitReady blocks server-side until the guest's binding settles or
// timeout passes, and reports whether it attached
func (c *Client) WaitReady(ctx context.Context, sessionID string, timeout time.Duration) (bool, error) {
	var out struct {
		Ready bool `json:"ready"`
	}
	path := sessionPath(sessionID, "/ready") + "?timeout_ms=" + strconv.FormatInt(timeout.Milliseconds(), 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, err
	}
	return out.Ready, nil
}

// Send delivers one inbound envelope object to the guest
func (c *Client) Send(ctx context.Context, sessionID string, envelope map[string]any) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "/messages"), envelope, nil)
}

// Execute runs a script in the guest and returns its settled value
func (c *Client) Execute(ctx context.Context, sessionID, script string, timeout time.Duration) (*sandbox.Result, error) {
	body := map[string]any{"script": script}
	if timeout > 0 {
		body["timeout_ms"] = timeout.Milliseconds()
	}

	var out sandbox.Result
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/execute"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream opens the WebSocket stream of a guest. The caller owns the
// connection: text frames read are outbound envelopes, frames written are
// delivered inbound.
func (c *Client) Stream(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + sessionPath(sessionID, "/stream"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, err
	}
	return conn, nil
}

func sessionPath(sessionID, suffix string) string {
	return "/sessions/" + url.PathEscape(strings.TrimSpace(sessionID)) + suffix
}
