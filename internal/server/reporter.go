package server

import (
	"github.com/robfig/cron/v3"

	"github.com/relayhub/relay/internal/logger"
	"github.com/relayhub/relay/internal/session"
)

// startReporter schedules a periodic registry-snapshot log line via
// robfig/cron, the teacher's own scheduling library for coarse periodic
// jobs (the heartbeat supervisor uses a raw time.Ticker instead, since its
// period is on the order of a second — see DESIGN.md). Runs every minute,
// counted from when the reporter starts rather than aligned to the clock.
func startReporter(registry *session.Registry) *cron.Cron {
	c := cron.New()
	log := logger.GetLogger()

	_, err := c.AddFunc("@every 1m", func() {
		authenticated := 0
		snap := registry.Snapshot()
		for _, sess := range snap {
			if sess.Authenticated() {
				authenticated++
			}
		}

		log.Info().
			Int("connected", len(snap)).
			Int("authenticated", authenticated).
			Str("uptime", registry.Uptime().String()).
			Msg("registry snapshot")
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to schedule registry snapshot reporter")
		return nil
	}

	c.Start()
	return c
}
