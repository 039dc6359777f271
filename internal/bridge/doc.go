/*
Package bridge turns a single host-injected, fire-and-forget string primitive
into a bidirectional message channel for guest code.

# Overview

The host places a callable under a well-known name (default "bb") in the
guest's global scope. The callable accepts one serialized envelope and returns
nothing useful. Inbound traffic arrives later, out of band, as envelope
objects handed to Binding.Receive.

On top of that primitive the package provides:

  - An installation loop that polls for the primitive, swaps it for a Binding
    and settles a readiness future
  - A listener registry that fans every inbound envelope out in order
  - Correlated calls (Ctl, Send) matched to replies by key, in either
    arrival order

# Components

  - Bridge: the per-guest context object owning every table below
  - Installer: Bridge.Install, polling through a Scheduler
  - Binding: the façade published in place of the primitive
  - Table: pending completions by key plus reverse message associations
  - Listeners: ordered subscriber list
  - Future: single-settle completion used for readiness and every call

# Usage Example

	scope := bridge.NewMapScope()
	b := bridge.New(bridge.DefaultConfig(), scope, logger)
	b.Install()

	scope.Set("bb", func(payload string) error {
		return conn.WriteMessage(websocket.TextMessage, []byte(payload))
	})

	if !b.BindingReady(ctx) {
		return errors.New("binding unavailable")
	}
	binding, _ := b.Binding()
	reply, err := binding.Ctl("Page.reload", nil, sessionID).Wait(ctx)

# Lifetime

Pending requests are never expired. A request whose reply never arrives stays
in the table for the life of the Bridge.
*/
package bridge
