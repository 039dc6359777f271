// Package session manages guest sessions for the controller.
//
// A session is one sandboxed guest runtime together with the host side of
// its binding: the host primitive injected into the guest, the set of
// subscribers receiving outbound envelopes, and counters for traffic in
// both directions.
//
// Components:
//   - Manager: creates, lists and closes sessions
//   - Session: one guest, its injection state and its subscribers
//
// Lifecycle:
//  1. Start a guest runtime (the binding installer begins polling)
//  2. Load bootstrap scripts in order
//  3. Inject the host primitive now, after a delay, or on request
//  4. Relay outbound payloads to subscribers, deliver inbound envelopes
//  5. Close the runtime and end every subscription
//
// Outbound payloads are produced on the guest's event loop, so a subscriber
// that falls behind loses payloads rather than stalling the guest.
//
// Example Usage:
//
//	manager := session.NewManager(sandbox.DefaultConfig(), logger).WithMetrics(metrics)
//	info, err := manager.Create(ctx, session.CreateOptions{Name: "checkout", Scripts: scripts})
//	out, cancel, err := manager.Subscribe(info.ID)
//	defer cancel()
//	err = manager.Deliver(ctx, info.ID, bridge.Envelope{Key: key, Message: reply})
package session
