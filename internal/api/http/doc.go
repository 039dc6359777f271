// Package http provides the REST API of the guestbridge controller.
//
// Endpoints:
//   - Health: /, /health and /metrics
//   - Sessions: POST /sessions, GET /sessions, GET/DELETE /sessions/:id
//   - Binding: POST /sessions/:id/inject, GET /sessions/:id/ready
//   - Traffic: POST /sessions/:id/messages, POST /sessions/:id/execute
//
// Domain errors map onto status codes through StatusOf: unknown sessions
// are 404, a second injection or a message before installation is 409,
// guest timeouts are 408 and guest exceptions are 422.
//
// Example Usage:
//
//	handlers := http.NewHandlers(sessions, metrics, logger)
//	handlers.Register(router, stream.HandleStream)
package http
