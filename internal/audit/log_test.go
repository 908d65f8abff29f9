package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusvote.org/internal/identity"
	"campusvote.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Out
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = identity.ContextWithIdentity(ctx, identity.Admin{UserID: "admin-42"})

	require.NoError(t, LogEvent(ctx, "election.close", map[string]any{"election_id": "e-1"}))

	line := buf.Bytes()
	require.NotEmpty(t, line)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(line, &entry))
	assert.Equal(t, "audit", entry["type"])
	assert.Equal(t, "election.close", entry["event"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "admin-42", entry["user_id"])
	assert.Equal(t, "admin", entry["role"])
	fields, ok := entry["fields"].(map[string]any)
	require.True(t, ok, "fields: %v", entry["fields"])
	assert.Equal(t, "e-1", fields["election_id"])
}

func TestLogEventRequiresName(t *testing.T) {
	assert.Error(t, LogEvent(context.Background(), "  ", nil))
}
