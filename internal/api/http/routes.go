package http

import "github.com/gin-gonic/gin"

// Register mounts the REST routes on the router. stream serves the
// WebSocket endpoint and may be nil.
func (h *Handlers) Register(router gin.IRouter, stream gin.HandlerFunc) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/metrics", h.Metrics)

	sessions := router.Group("/sessions")
	sessions.POST("", h.CreateSession)
	sessions.GET("", h.ListSessions)
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.CloseSession)
	sessions.POST("/:id/inject", h.Inject)
	sessions.GET("/:id/ready", h.Ready)
	sessions.POST("/:id/messages", h.PostMessage)
	sessions.POST("/:id/execute", h.Execute)
	if stream != nil {
		sessions.GET("/:id/stream", stream)
	}
}
