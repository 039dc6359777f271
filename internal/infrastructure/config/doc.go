// Package config provides 12-factor configuration management for the
// guestbridge controller.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Binding: binding name and installation retry schedule
//   - Sandbox: guest script execution timeout
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Manifest: optional session manifest loaded at startup
//   - Tracing: request and session spans
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s\n", cfg.Address())
//
// Environment Variables:
//   - PORT, HOST
//   - BINDING_NAME, BINDING_INSTALL_INTERVAL, BINDING_MAX_INSTALL_TRIES
//   - SANDBOX_TIMEOUT, MANIFEST_PATH
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - TRACING_ENABLED, TRACING_SERVICE
package config
