package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/agentshell/internal/api/http"
	"github.com/GriffinCanCode/agentshell/internal/api/middleware"
	"github.com/GriffinCanCode/agentshell/internal/api/ws"
	"github.com/GriffinCanCode/agentshell/internal/appserver"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/agentshell/internal/jsonrpc"
	"github.com/GriffinCanCode/agentshell/internal/preferences"
	"github.com/GriffinCanCode/agentshell/internal/shell"
	"github.com/GriffinCanCode/agentshell/internal/supervisor"
	"github.com/GriffinCanCode/agentshell/internal/tray"
)

// Options carries dependencies that callers, mostly tests, may replace.
type Options struct {
	// Registry receives the shell's metrics. Nil means a fresh registry.
	Registry *prometheus.Registry
	// SupervisorOptions are appended after the defaults.
	SupervisorOptions []supervisor.Option
}

// Server wraps the HTTP server and the shell core behind it
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	prefs      *preferences.Store
	supervisor *supervisor.Supervisor
	shell      *shell.Shell
	tray       *tray.Tray
	ws         *ws.Handler

	router  *gin.Engine
	handler http.Handler
	http    *http.Server
}

// NewServer creates a new server instance. Nothing is started.
func NewServer(cfg *config.Config, logger *logging.Logger, opts Options) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger.Info("Initializing agentshell",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("app_server", cfg.AppServer.Name),
		zap.String("preferences", cfg.Preferences.Path),
	)

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := monitoring.NewMetrics(reg)
	tracer := tracing.New("agentshell", logger.Component("trace"))

	prefs, err := preferences.Open(cfg.Preferences.Path, logger.Component("preferences"))
	if err != nil {
		metrics.Close()
		tracer.Close()
		return nil, fmt.Errorf("open preferences: %w", err)
	}

	dispatcher := jsonrpc.NewDispatcher(appserver.Events, logger.Component("rpc")).WithMetrics(metrics)
	supOpts := append([]supervisor.Option{
		supervisor.WithLogger(logger.Component("supervisor")),
		supervisor.WithMetrics(metrics),
		supervisor.WithBinaryOverride(prefs.BinaryPath),
	}, opts.SupervisorOptions...)
	sup := supervisor.New(cfg.AppServer, dispatcher, supOpts...)

	sh := shell.New(dispatcher, sup,
		shell.WithLogger(logger.Component("shell")),
		shell.WithMetrics(metrics),
		shell.WithTracer(tracer),
	)
	tr := tray.New(sh, prefs, logger.Component("tray"))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer, "/health", "/metrics"))
	router.Use(monitoring.Middleware(metrics, "/metrics"))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(sh, tr, prefs, logger.Component("api")).WithLogLevel(logger)
	handlers.Register(router)

	wsHandler := ws.NewHandler(sh, ws.DefaultConfig(), logger.Component("ws"), metrics)
	router.GET("/stream", wsHandler.HandleConnection)

	router.GET("/metrics", monitoring.Handler(reg))

	var handler http.Handler = router
	if cfg.Server.Compress {
		handler = compressed(router)
	}

	logger.Info("Server initialized")

	return &Server{
		config:     cfg,
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		prefs:      prefs,
		supervisor: sup,
		shell:      sh,
		tray:       tr,
		ws:         wsHandler,
		router:     router,
		handler:    handler,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Shell returns the shell core.
func (s *Server) Shell() *shell.Shell { return s.shell }

// AutoStart launches the app-server in the background when both the
// config and the user's preference allow it.
func (s *Server) AutoStart() bool {
	if !s.config.AppServer.AutoStart || !s.prefs.Bool(preferences.KeyAutoStart) {
		s.logger.Info("App-server autostart disabled")
		return false
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.AppServer.HandshakeTimeout+time.Second)
		defer cancel()
		if err := s.shell.Start(ctx); err != nil {
			s.logger.Warn("App-server autostart failed", zap.Error(err))
		}
	}()
	return true
}

// Run serves HTTP on the configured address until Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves HTTP on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, disconnects surfaces, stops the
// app-server and releases everything else.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	s.ws.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.supervisor.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop app-server: %w", err))
	}
	s.tray.Close()
	s.shell.Close()
	s.tracer.Close()
	s.metrics.Close()

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Shutdown finished with errors", zap.Error(err))
	} else {
		s.logger.Info("Shutdown complete")
	}
	_ = s.logger.Sync()
	return err
}
