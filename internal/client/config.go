package client

import "time"

// Config configures a Client (spec.md §4.7 "Client Configuration").
type Config struct {
	URL   string
	Token string
	Name  string

	MaxReconnectAttempts      int
	HeartbeatInterval         time.Duration
	RequestTimeout            time.Duration
	ReconnectBackoffMultiplier float64

	LogLevel string
}

// DefaultConfig mirrors the defaults the teacher's agent client ships
// (connectTimeout/heartbeat/backoff constants in cmd config), adapted to
// this spec's named fields.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts:      5,
		HeartbeatInterval:         1000 * time.Millisecond,
		RequestTimeout:            10000 * time.Millisecond,
		ReconnectBackoffMultiplier: 1.5,
		LogLevel:                  "info",
	}
}
