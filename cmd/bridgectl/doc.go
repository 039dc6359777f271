// Command bridgectl drives a guestbridge controller from the shell.
//
// Usage:
//
//	bridgectl create -name checkout -script boot.js -inject-after 250ms
//	bridgectl list
//	bridgectl send sess_01J... '{"key":"bidi30000000","message":"pong"}'
//	bridgectl exec sess_01J... 'bindingReady()'
//	bridgectl watch sess_01J...
//	bridgectl close sess_01J...
//
// The controller address comes from -addr or BRIDGECTL_ADDR and defaults
// to http://localhost:8000.
package main
