package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/opencomputer/termproxy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "termproxy.sessions.session.closed",
		Subject(DefaultSubjectPrefix, types.EventSessionClosed))
}

func TestEncode(t *testing.T) {
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	data, err := Encode(types.SessionEvent{
		Type:      types.EventSessionClosed,
		SessionID: "abc123",
		Program:   "/bin/login",
		Cols:      80,
		Rows:      20,
		Reason:    "watchdog",
		Timestamp: ts,
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "session.closed", decoded["type"])
	assert.Equal(t, "abc123", decoded["sessionID"])
	assert.Equal(t, "watchdog", decoded["reason"])
	assert.NotContains(t, decoded, "bytesIn")
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	p.Publish(types.SessionEvent{Type: types.EventSessionStarted})
}
