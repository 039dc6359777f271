/*
Package sandbox runs guest JavaScript and hosts the binding inside it.

# Overview

Each Runtime is a goja VM owned by a goja_nodejs event loop. All guest code,
timer callbacks, binding installation ticks and inbound deliveries run on
that loop goroutine, so the VM is never touched concurrently.

# Guest surface

  - require, process, module and exports are removed
  - console output is routed to zap and captured per execution
  - setTimeout/setInterval come from the event loop
  - the binding façade is published under the configured name once the
    host primitive appears (default "bb")
  - _untilBindingReady is a getter returning a Promise that resolves to
    true once the binding is attached and rejects with false if it never is
  - bindingReady() resolves to true or false

The façade offers _send, _recv, postMessage, onmessage, ctl, send and
addListener. ctl and send return Promises that settle when the host replies.

# Usage Example

	rt, err := sandbox.New(sandbox.DefaultConfig(), logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	// The primitive runs on the loop and must not block
	rt.Inject("bb", func(payload string) {
		select {
		case outbound <- payload:
		default:
		}
	})
	result, err := rt.Execute(ctx, "bindingReady()")

Inbound envelopes are handed over with Deliver, which queues them on the loop.
*/
package sandbox
