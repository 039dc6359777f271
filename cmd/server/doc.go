// Package main is the entry point for the guestbridge controller.
//
// The controller hosts guest script runtimes, injects the host primitive
// each guest's binding installs against, and exposes the binding traffic
// over REST and WebSocket.
//
// Architecture:
//
//	bridgectl / HTTP clients → Controller (gin) → Session manager
//	                                            → Guest runtimes (goja) → bb binding
//
// The server provides:
//   - REST API for session lifecycle, messages and script execution
//   - WebSocket streaming of outbound envelopes
//   - Startup manifests (YAML or TOML)
//   - Prometheus metrics and rate limiting
//
// Configuration:
//   - Environment variables (12-factor), see internal/infrastructure/config
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -manifest guests.yaml
//
//	# Development mode (colored logs, debug level)
//	LOG_DEV=true ./server
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
