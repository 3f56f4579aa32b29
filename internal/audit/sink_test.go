package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithEmptyURLReturnsDisabledSink(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, s.enabled)
}

func TestNewWithUnreachableURLDegradesInsteadOfErroring(t *testing.T) {
	s, err := New(Config{URL: "nats://127.0.0.1:1"})
	require.NoError(t, err, "an unreachable NATS server must never fail sink construction")
	assert.False(t, s.enabled)
}

func TestDisabledSinkRecordMethodsAreNoOps(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		s.RecordEvent("ping", json.RawMessage(`{}`), "alice")
		s.RecordRPC("1", "add", true)
		s.Close()
	})
}
