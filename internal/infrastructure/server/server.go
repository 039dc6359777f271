package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/guestbridge/internal/api/http"
	"github.com/GriffinCanCode/guestbridge/internal/api/middleware"
	"github.com/GriffinCanCode/guestbridge/internal/api/ws"
	"github.com/GriffinCanCode/guestbridge/internal/bridge"
	"github.com/GriffinCanCode/guestbridge/internal/domain/session"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/guestbridge/internal/logging"
	"github.com/GriffinCanCode/guestbridge/internal/manifest"
	"github.com/GriffinCanCode/guestbridge/internal/sandbox"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	sessions *session.Manager
	logger   *logging.Logger
	log      *zap.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
}

// NewServer creates a new server instance with a logger built from cfg
func NewServer(cfg *config.Config) (*Server, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}

	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return New(cfg, logger), nil
}

// New wires the controller around an existing logger
func New(cfg *config.Config, logger *logging.Logger) *Server {
	log := logger.Component("server")
	log.Info("Initializing guestbridge controller",
		zap.String("addr", cfg.Address()),
		zap.String("binding", cfg.Binding.Name),
		zap.Duration("install_interval", cfg.Binding.InstallInterval),
		zap.Int("max_install_tries", cfg.Binding.MaxInstallTries),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()

	// A nil tracer keeps span bookkeeping but logs nothing
	var tracer *tracing.Tracer
	if cfg.Tracing.Enabled {
		tracer = tracing.New(cfg.Tracing.Service, logger.Component("tracing"))
	}

	sessions := session.NewManager(SandboxConfig(cfg), logger.Logger).
		WithMetrics(metrics).
		WithTracer(tracer)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(middleware.RequestID())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(middleware.Recovery(logger.Logger))
	router.Use(middleware.Logger(logger.Logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		log.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
	}

	// Register routes
	handlers := apihttp.NewHandlers(sessions, metrics, logger.Logger)
	wsHandler := ws.NewHandler(sessions, metrics, logger.Logger)
	handlers.Register(router, wsHandler.HandleStream)

	log.Info("Server initialized successfully")

	return &Server{
		router:   router,
		sessions: sessions,
		logger:   logger,
		log:      log,
		config:   cfg,
		metrics:  metrics,
		tracer:   tracer,
		http: &http.Server{
			Addr:              cfg.Address(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// SandboxConfig maps controller configuration onto guest runtimes
func SandboxConfig(cfg *config.Config) sandbox.Config {
	sc := sandbox.DefaultConfig()
	sc.Timeout = cfg.Sandbox.Timeout
	sc.Binding = bridge.Config{
		Name:        cfg.Binding.Name,
		Interval:    cfg.Binding.InstallInterval,
		MaxAttempts: cfg.Binding.MaxInstallTries,
		KeySeed:     bridge.DefaultConfig().KeySeed,
	}
	return sc
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session manager
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// LaunchManifest creates one session per manifest entry, in order. A
// failing entry stops the launch; sessions already created stay up.
func (s *Server) LaunchManifest(ctx context.Context, path string) ([]session.Info, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	launches, err := m.Resolve()
	if err != nil {
		return nil, err
	}

	created := make([]session.Info, 0, len(launches))
	for _, launch := range launches {
		info, err := s.sessions.Create(ctx, launch.Options())
		if err != nil {
			return created, fmt.Errorf("manifest session %q: %w", launch.Name, err)
		}
		s.log.Info("Launched manifest session",
			zap.String("session_id", info.ID),
			zap.String("name", info.Name),
			zap.Int("scripts", len(launch.Sources)),
		)
		created = append(created, info)
	}
	return created, nil
}

// Run starts the HTTP server and blocks until it stops. A clean shutdown
// returns nil.
func (s *Server) Run() error {
	s.log.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every session and flushes logs
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server...")

	err := s.http.Shutdown(ctx)
	if err != nil {
		s.log.Error("HTTP shutdown incomplete", zap.Error(err))
	}

	s.sessions.CloseAll()
	s.log.Info("Closed all sessions")

	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()

	return err
}

// Close shuts down with the default grace period
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}
