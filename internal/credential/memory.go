package credential

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MemoryStore is a mutex-guarded map of token to name, usable standalone or
// as the in-process cache fronting RedisStore/PostgresStore. When
// constructed with HashSecrets true, the token value is never retained in
// cleartext: a caller's Add stores a bcrypt hash, and Lookup scans,
// comparing each candidate with bcrypt.CompareHashAndPassword. Hashing
// trades O(1) lookup for O(n) per Lookup, matching the teacher's own
// trade-off note for bcrypt-backed API tokens ("not suitable for
// high-frequency validation") — callers with large credential sets should
// prefer an unhashed MemoryStore as a read cache in front of a hashed
// durable store.
type MemoryStore struct {
	mu          sync.RWMutex
	byToken     map[string]string // token -> name, used when HashSecrets is false
	hashed      []hashedRecord    // used when HashSecrets is true
	hashSecrets bool
}

type hashedRecord struct {
	name string
	hash []byte
}

// NewMemoryStore creates an empty MemoryStore. When hashSecrets is true,
// tokens passed to Add are bcrypt-hashed before being retained.
func NewMemoryStore(hashSecrets bool) *MemoryStore {
	return &MemoryStore{
		byToken:     make(map[string]string),
		hashSecrets: hashSecrets,
	}
}

func (s *MemoryStore) Add(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hashSecrets {
		for token, n := range s.byToken {
			if n == rec.Name {
				delete(s.byToken, token)
			}
		}
		s.byToken[rec.Secret] = rec.Name
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rec.Secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	for i, hr := range s.hashed {
		if hr.name == rec.Name {
			s.hashed[i].hash = hash
			return nil
		}
	}
	s.hashed = append(s.hashed, hashedRecord{name: rec.Name, hash: hash})
	return nil
}

func (s *MemoryStore) Lookup(ctx context.Context, token string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hashSecrets {
		name, ok := s.byToken[token]
		return name, ok, nil
	}

	for _, hr := range s.hashed {
		if bcrypt.CompareHashAndPassword(hr.hash, []byte(token)) == nil {
			return hr.name, true, nil
		}
	}
	return "", false, nil
}

func (s *MemoryStore) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hashSecrets {
		for token, n := range s.byToken {
			if n == name {
				delete(s.byToken, token)
			}
		}
		return nil
	}

	out := s.hashed[:0:0]
	for _, hr := range s.hashed {
		if hr.name != name {
			out = append(out, hr)
		}
	}
	s.hashed = out
	return nil
}

func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hashSecrets {
		return len(s.byToken), nil
	}
	return len(s.hashed), nil
}
