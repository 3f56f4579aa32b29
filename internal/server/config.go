package server

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relayhub/relay/internal/logger"
)

// Config holds every server-configurable option from spec.md §6, read from
// environment variables with the teacher's getEnv/getEnvInt default
// pattern, optionally overlaid by a YAML file (SPEC_FULL.md §1.1) for
// operators who prefer a config file to an environment block.
type Config struct {
	Port                    int           `yaml:"port"`
	HeartbeatInterval       time.Duration `yaml:"heartbeatInterval"`
	HeartbeatTimeout        time.Duration `yaml:"heartbeatTimeout"`
	MaxConnections          int           `yaml:"maxConnections"`
	GracefulShutdownTimeout time.Duration `yaml:"gracefulShutdownTimeout"`
	LogLevel                string        `yaml:"logLevel"`

	// Credential backend selection; "memory" unless overridden.
	CredentialBackend string `yaml:"credentialBackend"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisHashKey  string `yaml:"redisHashKey"`
	PostgresDSN   string `yaml:"postgresDSN"`
	JWTSigningKey string `yaml:"jwtSigningKey"`

	NATSURL string `yaml:"natsURL"`
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		Port:                    8080,
		HeartbeatInterval:       time.Second,
		HeartbeatTimeout:        3 * time.Second,
		MaxConnections:          1000,
		GracefulShutdownTimeout: 5 * time.Second,
		LogLevel:                "info",
		CredentialBackend:       "memory",
		RedisHashKey:            "relay:credentials",
	}
}

// LoadConfig builds a Config from environment variables layered onto
// DefaultConfig, then optionally overlays a YAML file if yamlPath is
// non-empty. Environment variables win where both set the same field
// when yamlPath is empty; when yamlPath is given, the YAML file's values
// take precedence over the environment, matching a config-file-as-source-
// of-truth operating style.
func LoadConfig(yamlPath string) (Config, error) {
	cfg := DefaultConfig()

	cfg.Port = getEnvInt("RELAY_PORT", cfg.Port)
	cfg.HeartbeatInterval = getEnvDuration("RELAY_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.HeartbeatTimeout = getEnvDuration("RELAY_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.MaxConnections = getEnvInt("RELAY_MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.GracefulShutdownTimeout = getEnvDuration("RELAY_SHUTDOWN_TIMEOUT", cfg.GracefulShutdownTimeout)
	cfg.LogLevel = getEnv("RELAY_LOG_LEVEL", cfg.LogLevel)
	cfg.CredentialBackend = getEnv("RELAY_CREDENTIAL_BACKEND", cfg.CredentialBackend)
	cfg.RedisAddr = getEnv("RELAY_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisHashKey = getEnv("RELAY_REDIS_HASH_KEY", cfg.RedisHashKey)
	cfg.PostgresDSN = getEnv("RELAY_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.JWTSigningKey = getEnv("RELAY_JWT_SIGNING_KEY", cfg.JWTSigningKey)
	cfg.NATSURL = getEnv("RELAY_NATS_URL", cfg.NATSURL)

	if yamlPath == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(yamlPath)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	logger.GetLogger().Info().Str("path", yamlPath).Msg("applied YAML config overlay")
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
