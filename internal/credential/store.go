// Package credential implements the name/secret mapping that gates
// connection authentication (spec.md §3 "Credential Record", §4.2
// "Credential Store and Authentication").
//
// A Store answers one question: given a token, what is the canonical
// name, if any, that the token authenticates as? Comparing that name with
// a name the client claimed is left to the caller. Four implementations are provided, all satisfying the same
// interface: an in-memory map (MemoryStore), a Redis-hash-backed store
// refreshed on a poll interval (RedisStore), a Postgres-table-backed store
// (PostgresStore), and a store with no table at all that verifies signed
// JWTs (JWTStore).
package credential

import "context"

// Record is an immutable (name, secret) pair. Adding a record with a name
// that already exists in a Store replaces the prior record for that name.
type Record struct {
	Name   string
	Secret string
}

// Store maps tokens to the canonical client name they authenticate as.
type Store interface {
	// Add inserts or replaces the record for name.
	Add(ctx context.Context, rec Record) error

	// Lookup resolves a presented token to its canonical name. ok is false
	// when the token is not recognized. Implementations never return an
	// error for "not found" — only for a failure in the backing store
	// itself (a database error, an unreachable Redis, etc.).
	Lookup(ctx context.Context, token string) (name string, ok bool, err error)

	// Remove deletes the record for name, if any. Removing a name that
	// does not exist is not an error.
	Remove(ctx context.Context, name string) error

	// Len reports the number of records currently held. JWTStore, which
	// holds no table, always reports 0.
	Len(ctx context.Context) (int, error)
}
