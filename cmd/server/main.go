package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/server"
)

func main() {
	// Flags override the environment
	port := flag.String("port", "", "Server port (overrides PORT)")
	manifestPath := flag.String("manifest", "", "Session manifest to launch at startup (overrides MANIFEST_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *manifestPath != "" {
		cfg.Manifest.Path = *manifestPath
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if cfg.Manifest.Path != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		_, err := srv.LaunchManifest(ctx, cfg.Manifest.Path)
		cancel()
		if err != nil {
			_ = srv.Close()
			log.Fatalf("Failed to launch manifest: %v", err)
		}
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		_ = srv.Close()
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}
}
