package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskstream/internal/app/session"
	serverHTTP "taskstream/internal/delivery/server/http"
	"taskstream/internal/infra/observability"
	"taskstream/internal/shared/logging"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Version is stamped at build time.
var Version = "dev"

// Server is a built but not yet listening service.
type Server struct {
	HTTP      *http.Server
	Container *Container
	Runner    *session.Runner
	Canceller *session.Canceller

	cfg    Config
	logger logging.Logger
}

// NewServer assembles the container, session runner and router.
func NewServer(ctx context.Context, cfg Config, obs *observability.Observability) (*Server, error) {
	logger := logging.NewComponentLogger("Server")
	if obs == nil {
		obs = observability.New(observability.DefaultConfig(), os.Stderr)
	}

	container, err := BuildContainer(ctx, cfg, obs, logger)
	if err != nil {
		return nil, err
	}

	runner := session.NewRunner(container.Registry, container.Engine,
		session.WithStepBudget(cfg.Stream.StepBudget),
		session.WithDefaultThreadID(cfg.Stream.DefaultThreadID),
		session.WithAppTag(cfg.Stream.AppTag),
		session.WithMessages(cfg.Stream.SessionMessages()),
		session.WithRecorder(observability.NewInstrumentedRecorder(container.RecorderName, container.Recorder, obs)),
		session.WithRecordTimeout(cfg.Recorder.Timeout),
		session.WithSessionTimeout(cfg.Stream.SessionTimeout),
		session.WithLogger(logging.NewComponentLogger("Session")),
		session.WithMetrics(obs.Metrics),
		session.WithTracer(obs.Tracer.Tracer()),
	)
	canceller := session.NewCanceller(container.Registry, logging.NewComponentLogger("Canceller"), obs.Metrics)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := serverHTTP.NewRouter(serverHTTP.RouterDeps{
		Runner:    runner,
		Canceller: canceller,
		Auth:      container.Auth,
		Obs:       obs,
		Degraded:  container.Degraded.Map,
	}, serverHTTP.RouterConfig{
		Environment:    cfg.Server.Environment,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit: serverHTTP.RateLimitConfig{
			RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
			Burst:             cfg.Server.RateLimit.Burst,
		},
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		DisableWebSocket: cfg.Server.DisableWebSocket,
	})

	return &Server{
		HTTP: &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Container: container,
		Runner:    runner,
		Canceller: canceller,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Serve listens on ln until ctx ends, then stops in-flight sessions and
// shuts down within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.logger.Info("Server listening on %s (engine=%s recorder=%s)", ln.Addr(), s.cfg.Engine.Kind, s.Container.RecorderName)
		if err := s.HTTP.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		s.logger.Info("Shutting down server...")
		stopped := s.stopActiveSessions()
		if stopped > 0 {
			s.logger.Info("Stopped %d active sessions", stopped)
		}

		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.HTTP.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err := group.Wait()
	if closeErr := s.Container.Close(); closeErr != nil {
		s.logger.Warn("Failed to close recorder: %v", closeErr)
	}
	if s.Container.Obs != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Container.Obs.Shutdown(shutdownCtx)
	}
	if err == nil {
		s.logger.Info("Server stopped")
	}
	return err
}

// stopActiveSessions signals every registered token so open streams finish
// with the stop notice before the listener closes.
func (s *Server) stopActiveSessions() int {
	stopped := 0
	for _, key := range s.Container.Registry.ListActive() {
		if s.Container.Registry.Cancel(key) {
			stopped++
		}
	}
	return stopped
}

// RunServer builds the service and serves until SIGINT or SIGTERM.
func RunServer(cfg Config, observabilityConfigPath string) error {
	obsConfig, err := observability.LoadConfig(observabilityConfigPath)
	if err != nil {
		return err
	}
	obs := observability.New(obsConfig, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := NewServer(ctx, cfg, obs)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", srv.HTTP.Addr)
	if err != nil {
		_ = srv.Container.Close()
		return fmt.Errorf("listen %s: %w", srv.HTTP.Addr, err)
	}
	return srv.Serve(ctx, ln)
}
