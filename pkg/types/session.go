package types

import "time"

// Session event types.
const (
	EventSessionStarted = "session.started"
	EventSessionClosed  = "session.closed"
)

// SessionEvent describes a relay session lifecycle change.
type SessionEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionID"`
	Program   string    `json:"program"`
	Cols      uint16    `json:"cols"`
	Rows      uint16    `json:"rows"`
	Reason    string    `json:"reason,omitempty"` // closed only
	BytesIn   int64     `json:"bytesIn,omitempty"`
	BytesOut  int64     `json:"bytesOut,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
