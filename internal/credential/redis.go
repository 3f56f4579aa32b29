package credential

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relayhub/relay/internal/logger"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	HashKey      string        // Redis hash holding token -> name pairs
	PollInterval time.Duration // 0 disables periodic refresh
}

// RedisStore reads credentials from a Redis hash (HGETALL) into an
// in-memory snapshot, refreshed on a poll interval. If Redis is
// unreachable at construction time, NewRedisStore returns a disabled
// store rather than an error — Lookup on a disabled store always reports
// not-found, matching the teacher's NewSubscriber "unavailable at
// startup" graceful-degrade pattern rather than failing server startup
// outright.
type RedisStore struct {
	client  *redis.Client
	hashKey string
	enabled bool

	mu       sync.RWMutex
	snapshot map[string]string // token -> name

	stop chan struct{}
}

// NewRedisStore connects to Redis and loads an initial snapshot. A
// connection failure yields a disabled store and a nil error so the
// server can start without Redis available.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	log := logger.Credential()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable at startup, credential store disabled")
		return &RedisStore{enabled: false}, nil
	}

	s := &RedisStore{
		client:   client,
		hashKey:  cfg.HashKey,
		enabled:  true,
		snapshot: make(map[string]string),
		stop:     make(chan struct{}),
	}

	if err := s.refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial redis credential load failed, starting empty")
	}

	if cfg.PollInterval > 0 {
		go s.pollLoop(cfg.PollInterval)
	}

	return s, nil
}

func (s *RedisStore) pollLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logger.Credential()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.refresh(context.Background()); err != nil {
				log.Warn().Err(err).Msg("periodic redis credential refresh failed")
			}
		}
	}
}

func (s *RedisStore) refresh(ctx context.Context) error {
	result, err := s.client.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return err
	}

	next := make(map[string]string, len(result))
	for token, name := range result {
		next[token] = name
	}

	s.mu.Lock()
	s.snapshot = next
	s.mu.Unlock()
	return nil
}

// Close stops the background poll loop, if running.
func (s *RedisStore) Close() {
	if s.enabled && s.stop != nil {
		close(s.stop)
	}
}

func (s *RedisStore) Add(ctx context.Context, rec Record) error {
	if !s.enabled {
		return nil
	}
	if err := s.Remove(ctx, rec.Name); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.hashKey, rec.Secret, rec.Name).Err(); err != nil {
		return err
	}
	return s.refresh(ctx)
}

func (s *RedisStore) Lookup(ctx context.Context, token string) (string, bool, error) {
	if !s.enabled {
		return "", false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.snapshot[token]
	return name, ok, nil
}

func (s *RedisStore) Remove(ctx context.Context, name string) error {
	if !s.enabled {
		return nil
	}

	s.mu.RLock()
	var tokens []string
	for token, n := range s.snapshot {
		if n == name {
			tokens = append(tokens, token)
		}
	}
	s.mu.RUnlock()

	if len(tokens) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, s.hashKey, tokens...).Err(); err != nil {
		return err
	}
	return s.refresh(ctx)
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	if !s.enabled {
		return 0, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshot), nil
}
