package credential

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setupPostgresTest(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	store := &PostgresStore{db: mockDB}
	cleanup := func() { mockDB.Close() }
	return store, mock, cleanup
}

func TestPostgresAddUpsertsHashedSecret(t *testing.T) {
	store, mock, cleanup := setupPostgresTest(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO credentials`).
		WithArgs("alice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Add(context.Background(), Record{Name: "alice", Secret: "s3cr3t"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLookupComparesBcryptHash(t *testing.T) {
	store, mock, cleanup := setupPostgresTest(t)
	defer cleanup()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cr3t"), bcrypt.DefaultCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"name", "secret_hash"}).
		AddRow("bob", string(hash))
	mock.ExpectQuery(`SELECT name, secret_hash FROM credentials`).WillReturnRows(rows)

	name, ok, err := store.Lookup(context.Background(), "s3cr3t")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bob", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLookupMissReturnsNotFound(t *testing.T) {
	store, mock, cleanup := setupPostgresTest(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"name", "secret_hash"})
	mock.ExpectQuery(`SELECT name, secret_hash FROM credentials`).WillReturnRows(rows)

	name, ok, err := store.Lookup(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, name)
}

func TestPostgresRemoveDeletesByName(t *testing.T) {
	store, mock, cleanup := setupPostgresTest(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM credentials WHERE name = \$1`).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Remove(context.Background(), "alice")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLenCountsRows(t *testing.T) {
	store, mock, cleanup := setupPostgresTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT count\(\*\) FROM credentials`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
