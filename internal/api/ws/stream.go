package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/guestbridge/internal/bridge"
	"github.com/GriffinCanCode/guestbridge/internal/domain/session"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/guestbridge/internal/shared/id"
	"github.com/GriffinCanCode/guestbridge/internal/shared/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = utils.MaxEnvelopeSize
)

// Handler streams a session's binding traffic over WebSocket
type Handler struct {
	sessions *session.Manager
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. Origins are checked by the
// CORS layer in front of the router.
func NewHandler(sessions *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		metrics:  metrics,
		logger:   logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleStream upgrades GET /sessions/:id/stream. Every outbound payload
// the guest hands its host primitive is written as a text frame; every
// text frame read is parsed as an envelope object and delivered inbound.
func (h *Handler) HandleStream(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := id.ParseSessionID(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Subscribe before upgrading so unknown sessions get a plain 404
	outbound, cancel, err := h.sessions.Subscribe(sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrClosed) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("session", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	logger := h.logger.With(zap.String("session", sessionID))
	logger.Debug("stream opened")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readLoop(c.Request.Context(), conn, sessionID, logger)
	}()

	h.writeLoop(conn, outbound, readDone, logger)
	logger.Debug("stream closed")
}

// readLoop delivers client frames until the connection breaks or the
// session goes away
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, logger *zap.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("websocket read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.record("in", "envelope")

		if err := utils.ValidateEnvelope(data); err != nil {
			logger.Info("dropping malformed envelope", zap.Error(err))
			continue
		}
		env, err := bridge.ParseEnvelope(data)
		if err != nil {
			logger.Info("dropping malformed envelope", zap.Error(err))
			continue
		}

		if err := h.sessions.Deliver(ctx, sessionID, env); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return
			}
			logger.Info("delivery failed", zap.String("kind", env.Kind()), zap.Error(err))
		}
	}
}

// writeLoop forwards outbound payloads and keeps the connection alive
func (h *Handler) writeLoop(conn *websocket.Conn, outbound <-chan string, readDone <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				logger.Info("websocket write error", zap.Error(err))
				return
			}
			h.record("out", "envelope")

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-readDone:
			return
		}
	}
}

func (h *Handler) record(direction, msgType string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage(direction, msgType)
	}
}
