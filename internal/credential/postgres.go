package credential

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// PostgresStore reads credentials from a `credentials` table
// (name TEXT PRIMARY KEY, secret_hash TEXT) using bcrypt comparison.
// Since a token lookup has no name to key on directly, Lookup runs a
// single query over all rows and compares each hash in turn. This mirrors the teacher's tokenhash.go trade-off note: bcrypt
// comparison is intentionally slow, so PostgresStore is meant for small,
// relatively static credential sets (service accounts, fleet tokens), not
// high-churn end-user sessions.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and verifies
// connectivity with a ping.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres credential store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres credential store: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Add(ctx context.Context, rec Record) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(rec.Secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (name, secret_hash) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET secret_hash = EXCLUDED.secret_hash
	`, rec.Name, string(hash))
	return err
}

func (s *PostgresStore) Lookup(ctx context.Context, token string) (string, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, secret_hash FROM credentials`)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			return "", false, err
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			return name, true, nil
		}
	}
	return "", false, rows.Err()
}

func (s *PostgresStore) Remove(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE name = $1`, name)
	return err
}

func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM credentials`).Scan(&n)
	return n, err
}
