// Command relayd is the relay hub server process. Configuration is read
// from environment variables (see internal/server.LoadConfig), optionally
// overlaid by a YAML file named by RELAY_CONFIG_FILE.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relayhub/relay/internal/credential"
	"github.com/relayhub/relay/internal/logger"
	"github.com/relayhub/relay/internal/server"
)

func main() {
	cfg, err := server.LoadConfig(os.Getenv("RELAY_CONFIG_FILE"))
	if err != nil {
		panic(err)
	}

	logger.Initialize(cfg.LogLevel, os.Getenv("RELAY_LOG_PRETTY") == "true")
	log := logger.GetLogger()

	creds, err := buildCredentialStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential backend")
	}

	s := server.New(cfg, creds)

	go func() {
		if err := s.Start(); err != nil {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal, starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout+2*time.Second)
	defer cancel()

	s.Shutdown(ctx, "server shutting down")
	log.Info().Msg("relay server stopped")
}

// buildCredentialStore selects the credential backend named by
// cfg.CredentialBackend. "memory" (the default) needs no external
// service and is what local development and tests use.
func buildCredentialStore(cfg server.Config) (credential.Store, error) {
	switch cfg.CredentialBackend {
	case "redis":
		return credential.NewRedisStore(context.Background(), credential.RedisConfig{
			Addr:         cfg.RedisAddr,
			HashKey:      cfg.RedisHashKey,
			PollInterval: 30 * time.Second,
		})
	case "postgres":
		return credential.NewPostgresStore(cfg.PostgresDSN)
	case "jwt":
		return credential.NewJWTStore([]byte(cfg.JWTSigningKey)), nil
	default:
		return credential.NewMemoryStore(true), nil
	}
}
