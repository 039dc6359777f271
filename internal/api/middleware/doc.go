// Package middleware provides HTTP middleware for the guestbridge controller.
//
// Middleware stack includes:
//   - RequestID: X-Request-ID tagging with UUIDs
//   - Logger: Request logging through zap
//   - Recovery: Panic recovery with graceful error responses
//   - CORS: Cross-origin resource sharing with configurable origins
//   - RateLimit: Per-IP token bucket rate limiting
//
// Rate Limiting:
//   - Per-IP tracking with idle client cleanup
//   - Token bucket algorithm
//   - Configurable RPS and burst capacity
//   - Global rate limiting option
//
// Example Usage:
//
//	router.Use(middleware.RequestID(), middleware.Recovery(logger), middleware.Logger(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
