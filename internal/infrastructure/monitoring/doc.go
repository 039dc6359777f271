/*
Package monitoring provides Prometheus metrics for the guestbridge controller.

# Overview

Metrics live in a dedicated registry owned by each Metrics value, tracking
HTTP requests, guest sessions, envelopes crossing each binding and binding
installation outcomes.

# Features

- HTTP request metrics (latency, throughput, size), labelled by route
- Session lifecycle metrics
- Envelope counters by direction and kind
- Install outcome counters and attempt histogram
- Pending request gauge per session
- WebSocket connection metrics
- Go runtime, process and uptime metrics

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Per-guest bridge recorder
	b := bridge.New(cfg, scope, logger).WithMetrics(metrics.ForSession(id))

	// Time operations
	timer := monitoring.NewTimer(metrics, "session_manager", "create")
	// ... perform operation ...
	timer.Stop("success")
*/
package monitoring
