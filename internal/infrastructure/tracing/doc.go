/*
Package tracing follows a request from the controller API into the guest
sessions it touches.

# Overview

Spans are opened by the HTTP middleware for every request and by the
session manager for create, deliver and execute. A span started from a
request context becomes a child of the request span, so one trace id ties
an inbound envelope on the WebSocket stream or REST API to the delivery
into the guest.

# Features

- Trace context propagation via X-Trace-ID and X-Span-ID headers
- Span creation with parent-child relationships
- gin middleware for automatic instrumentation
- Client-side injection of the caller's trace context
- Buffered span collection logged through zap

# Usage

	tracer := tracing.New("guestbridge", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "session.deliver")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
	span.SetTag("session_id", sessionID)

A nil *Tracer is valid: spans are still created so callers can tag them,
and Submit discards them.
*/
package tracing
