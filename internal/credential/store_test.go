package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAddLookupRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(false)

	require.NoError(t, s.Add(ctx, Record{Name: "alice", Secret: "tok-a"}))

	name, ok, err := s.Lookup(ctx, "tok-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", name)

	_, ok, _ = s.Lookup(ctx, "unknown")
	assert.False(t, ok)

	n, _ := s.Len(ctx)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Remove(ctx, "alice"))
	_, ok, _ = s.Lookup(ctx, "tok-a")
	assert.False(t, ok)
}

func TestMemoryStoreAddReplacesExistingName(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(false)

	require.NoError(t, s.Add(ctx, Record{Name: "alice", Secret: "tok-1"}))
	require.NoError(t, s.Add(ctx, Record{Name: "alice", Secret: "tok-2"}))

	_, ok, _ := s.Lookup(ctx, "tok-1")
	assert.False(t, ok, "old token for the same name must no longer resolve")

	name, ok, _ := s.Lookup(ctx, "tok-2")
	assert.True(t, ok)
	assert.Equal(t, "alice", name)
}

func TestMemoryStoreHashedSecretsNeverLeakCleartext(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(true)

	require.NoError(t, s.Add(ctx, Record{Name: "bob", Secret: "s3cr3t"}))

	name, ok, err := s.Lookup(ctx, "s3cr3t")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bob", name)

	_, ok, _ = s.Lookup(ctx, "wrong")
	assert.False(t, ok)

	for _, hr := range s.hashed {
		assert.NotEqual(t, "s3cr3t", string(hr.hash))
	}
}

func TestJWTStoreVerifiesSignatureAndExpiry(t *testing.T) {
	key := []byte("test-signing-key")
	s := NewJWTStore(key)

	valid, err := IssueToken(key, "carol", time.Now().Add(time.Hour).Unix())
	require.NoError(t, err)

	name, ok, err := s.Lookup(context.Background(), valid)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "carol", name)

	expired, err := IssueToken(key, "carol", time.Now().Add(-time.Hour).Unix())
	require.NoError(t, err)

	_, ok, err = s.Lookup(context.Background(), expired)
	require.NoError(t, err)
	assert.False(t, ok, "expired token must not authenticate")

	otherKey := []byte("wrong-key")
	mis, err := IssueToken(otherKey, "carol", time.Now().Add(time.Hour).Unix())
	require.NoError(t, err)

	_, ok, err = s.Lookup(context.Background(), mis)
	require.NoError(t, err)
	assert.False(t, ok, "wrong signing key must not authenticate")
}

func TestJWTStoreAddIsUnsupported(t *testing.T) {
	s := NewJWTStore([]byte("k"))
	err := s.Add(context.Background(), Record{Name: "x", Secret: "y"})
	assert.Error(t, err)
}
