// Package audit implements the external telemetry sink from
// SPEC_FULL.md §4.9: a fire-and-forget NATS publisher that mirrors routed
// event fan-out and completed RPC outcomes to two subjects for downstream
// analytics. It never influences routing and never blocks the router's
// hot path — a down or unconfigured NATS server degrades it to a no-op,
// never a startup failure.
package audit

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/relayhub/relay/internal/logger"
)

// Subjects published to. Mirrors the teacher's "streamspace.<domain>.<action>"
// naming convention, adapted to this hub's two outcome kinds.
const (
	SubjectEvents = "relay.events"
	SubjectRPC    = "relay.rpc"
)

// Config configures a Sink.
type Config struct {
	URL      string
	User     string
	Password string
}

// Sink publishes routed outcomes to NATS. The zero Sink (returned when URL
// is empty or the connection attempt fails) is enabled=false and every
// method becomes a no-op.
type Sink struct {
	conn    *nats.Conn
	enabled bool
}

type eventRecord struct {
	EventName  string          `json:"eventName"`
	Data       json.RawMessage `json:"data"`
	FromClient string          `json:"fromClient"`
	Timestamp  time.Time       `json:"timestamp"`
}

type rpcRecord struct {
	ID           string    `json:"id"`
	FunctionName string    `json:"functionName"`
	Success      bool      `json:"success"`
	Timestamp    time.Time `json:"timestamp"`
}

// New connects to NATS and returns a Sink. If cfg.URL is empty, or the
// connection attempt fails, it returns a disabled Sink and a nil error —
// the router must keep routing whether or not telemetry is available,
// mirroring the teacher's NewSubscriber "NATS_URL not configured" /
// "failed to connect" degrade path.
func New(cfg Config) (*Sink, error) {
	log := logger.Audit()

	if cfg.URL == "" {
		log.Warn().Msg("NATS URL not configured, audit sink disabled")
		return &Sink{enabled: false}, nil
	}

	opts := []nats.Option{
		nats.Name("relay-audit-sink"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("audit sink disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("audit sink reconnected to NATS")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect audit sink to NATS, disabling")
		return &Sink{enabled: false}, nil
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("audit sink connected to NATS")
	return &Sink{conn: conn, enabled: true}, nil
}

// Close drains and closes the NATS connection, if any.
func (s *Sink) Close() {
	if s.enabled && s.conn != nil {
		s.conn.Close()
	}
}

// RecordEvent publishes a routed `event` fan-out to SubjectEvents.
// Failures are logged at debug level and swallowed.
func (s *Sink) RecordEvent(name string, data json.RawMessage, fromClient string) {
	if !s.enabled {
		return
	}

	payload, err := json.Marshal(eventRecord{
		EventName:  name,
		Data:       data,
		FromClient: fromClient,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return
	}
	if err := s.conn.Publish(SubjectEvents, payload); err != nil {
		logger.Audit().Debug().Err(err).Msg("dropped event audit record")
	}
}

// RecordRPC publishes a completed RPC outcome to SubjectRPC. The router
// calls it for server `request` outcomes only; peer `client_request`
// outcomes are not recorded. Failures are logged at debug level and
// swallowed.
func (s *Sink) RecordRPC(id, functionName string, success bool) {
	if !s.enabled {
		return
	}

	payload, err := json.Marshal(rpcRecord{
		ID:           id,
		FunctionName: functionName,
		Success:      success,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return
	}
	if err := s.conn.Publish(SubjectRPC, payload); err != nil {
		logger.Audit().Debug().Err(err).Msg("dropped rpc audit record")
	}
}
