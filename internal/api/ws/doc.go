// Package ws streams guest binding traffic over WebSocket.
//
// A client connects to GET /sessions/:id/stream and becomes a subscriber
// of the session. Frames keep the binding's asymmetry: the server writes
// each outbound envelope exactly as the guest serialized it for the host
// primitive, and the client writes envelope objects that are delivered
// to the guest's _recv.
//
// Message Types (Client → Server):
//   - {"message": ..., "key": ...}: Reply to bb.send or host-initiated message
//   - {"response": {"key": ..., ...}}: Reply to bb.ctl
//   - {"message": ...}: Plain message for onmessage and listeners
//
// Message Types (Server → Client):
//   - {"bindingAttached": true}: Binding installed
//   - {"method": ..., "params": ..., "sessionId": ..., "key": ...}: Control call
//   - {"message": ..., "key": ...}: Guest send or postMessage
//
// Malformed client frames are logged and dropped. Payloads are dropped
// when the client reads slower than the guest writes.
//
// Example Usage:
//
//	handler := ws.NewHandler(sessions, metrics, logger)
//	router.GET("/sessions/:id/stream", handler.HandleStream)
package ws
