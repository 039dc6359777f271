// Package server wires the guestbridge controller: logging, metrics, the
// session manager, middleware and routes.
//
// Middleware order: request id, recovery, request logging, metrics, CORS
// and optional per-IP rate limiting.
//
// Example Usage:
//
//	srv, err := server.NewServer(cfg)
//	if cfg.Manifest.Path != "" {
//		srv.LaunchManifest(ctx, cfg.Manifest.Path)
//	}
//	go srv.Run()
//	defer srv.Close()
package server
