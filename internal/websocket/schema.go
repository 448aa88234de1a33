package websocket

import "time"

// ─── Monitor events (Server → Admin client) ─────────────────────────

type Event string

const (
	EventSessionStarted   Event = "session_started"
	EventSessionPaused    Event = "session_paused"
	EventSessionResumed   Event = "session_resumed"
	EventSessionCompleted Event = "session_completed"
	EventSessionExpired   Event = "session_expired"
	EventTimeSynced       Event = "time_synced"
	EventKeepAlive        Event = "keepalive"
)

// MonitorEvent is published on a quiz's Redis channel whenever a session
// changes state, and relayed verbatim to connected admin sockets.
type MonitorEvent struct {
	Event            Event     `json:"event"`
	SessionToken     string    `json:"session_token"`
	ParticipantEmail string    `json:"participant_email,omitempty"`
	TimeSpentSeconds int       `json:"time_spent_seconds,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}
