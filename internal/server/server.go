// Package server assembles the hub's server-side components (credential
// store, session registry, router, heartbeat supervisor, audit sink) into
// one listening HTTP/WebSocket process, per spec.md §4 and SPEC_FULL.md
// §4.9–§4.10.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relayhub/relay/internal/audit"
	"github.com/relayhub/relay/internal/credential"
	"github.com/relayhub/relay/internal/heartbeat"
	"github.com/relayhub/relay/internal/logger"
	"github.com/relayhub/relay/internal/router"
	"github.com/relayhub/relay/internal/session"
)

// Server is the assembled hub process.
type Server struct {
	cfg         Config
	credentials credential.Store
	registry    *session.Registry
	router      *router.Router
	heartbeat   *heartbeat.Supervisor
	audit       *audit.Sink
	reporter    *cron.Cron
	httpServer  *http.Server
	lifecycle   *lifecycle

	shuttingDown atomic.Bool
}

// New assembles a Server from cfg and a credential store. The store is
// constructed by the caller (cmd/relayd) since its backend is a runtime
// choice, not something the server itself should hardcode.
func New(cfg Config, credentials credential.Store) *Server {
	registry := session.NewRegistry()
	r := router.New(registry)

	s := &Server{
		cfg:         cfg,
		credentials: credentials,
		registry:    registry,
		router:      r,
		heartbeat: heartbeat.New(registry, r.EventBus(), heartbeat.Config{
			Interval: cfg.HeartbeatInterval,
			Timeout:  cfg.HeartbeatTimeout,
		}),
		lifecycle: newLifecycle(),
	}

	if cfg.NATSURL != "" {
		sink, err := audit.New(audit.Config{URL: cfg.NATSURL})
		if err != nil {
			logger.GetLogger().Warn().Err(err).Msg("audit sink construction failed, continuing without it")
		} else {
			s.audit = sink
			r.SetAuditSink(sink)
		}
	}

	return s
}

// Router exposes the router so callers (cmd/relayd) can register
// application-level server handlers before Start.
func (s *Server) Router() *router.Router {
	return s.router
}

// Registry exposes the session registry for introspection/testing.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Start begins listening. It blocks until the listener stops (either from
// an error or from Shutdown completing); http.ErrServerClosed is treated
// as a clean stop, not an error.
func (s *Server) Start() error {
	go s.heartbeat.Start()
	s.reporter = startReporter(s.registry)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.engine(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	logger.GetLogger().Info().Int("port", s.cfg.Port).Msg("relay server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown runs the graceful shutdown sequence (spec.md §4.8). It is safe
// to call concurrently or more than once; all callers observe the same
// completion.
func (s *Server) Shutdown(ctx context.Context, reason string) {
	s.gracefulShutdown(ctx, reason)
}
