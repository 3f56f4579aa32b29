package server

import (
	"context"
	"sync"
	"time"

	"github.com/relayhub/relay/internal/logger"
	"github.com/relayhub/relay/internal/session"
	"github.com/relayhub/relay/internal/wire"
)

// gracefulShutdown implements spec.md §4.8: idempotent, concurrent callers
// share one pending completion via sync.Once. It marks the server as
// shutting down (new WebSocket connections are closed with 1013 and
// /healthz reports 503), broadcasts a `shutdown`
// frame, waits the grace period, then hard-closes everything still open.
type lifecycle struct {
	once sync.Once
	done chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{done: make(chan struct{})}
}

func (s *Server) gracefulShutdown(ctx context.Context, reason string) {
	s.lifecycle.once.Do(func() {
		defer close(s.lifecycle.done)
		s.runShutdown(ctx, reason)
	})
	<-s.lifecycle.done
}

func (s *Server) runShutdown(ctx context.Context, reason string) {
	log := logger.GetLogger()
	log.Info().Str("reason", reason).Msg("starting graceful shutdown")

	s.shuttingDown.Store(true)
	s.heartbeat.Stop()

	gracePeriod := s.cfg.GracefulShutdownTimeout
	shutdownFrame := wire.NewShutdown(reason, gracePeriod.Milliseconds())

	sessions := s.registry.Snapshot()
	for _, sess := range sessions {
		if !sess.Authenticated() {
			continue
		}
		if err := sess.Send(shutdownFrame); err != nil {
			log.Warn().Err(err).Str("name", sess.Name()).Msg("failed to deliver shutdown notice")
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(gracePeriod):
	}

	for _, sess := range sessions {
		_ = sess.Close(session.CloseGoingAway, reason)
	}

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server did not shut down cleanly")
		}
	}

	if s.reporter != nil {
		s.reporter.Stop()
	}
	if s.audit != nil {
		s.audit.Close()
	}

	log.Info().Msg("graceful shutdown complete")
}
