package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates quiz session states.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusPaused    SessionStatus = "PAUSED"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusExpired   SessionStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusExpired
}

// QuizSession represents one participant's attempt at a quiz. The Token is
// the opaque handle clients use for all follow-up operations.
type QuizSession struct {
	ID               uuid.UUID     `json:"id"`
	QuizID           uuid.UUID     `json:"quiz_id"`
	ParticipantEmail string        `json:"participant_email"`
	Token            uuid.UUID     `json:"token"`
	Status           SessionStatus `json:"status"`
	TimeSpentSeconds int           `json:"time_spent_seconds"`
	StartedAt        time.Time     `json:"started_at"`
	PausedAt         *time.Time    `json:"paused_at,omitempty"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	FinalScore       *float64      `json:"final_score,omitempty"`
}

// SessionSnapshot is the canonical status payload returned by the authority.
// RemainingTimeSeconds is nil when the quiz has no time limit.
type SessionSnapshot struct {
	Token                uuid.UUID     `json:"token"`
	Status               SessionStatus `json:"status"`
	TimeSpentSeconds     int           `json:"time_spent_seconds"`
	RemainingTimeSeconds *int          `json:"remaining_time_seconds,omitempty"`
	IsExpired            bool          `json:"is_expired"`
	Quiz                 QuizRef       `json:"quiz"`
}

// StartSessionRequest is the payload for starting a new session.
type StartSessionRequest struct {
	QuizID           uuid.UUID `json:"quiz_id" binding:"required"`
	ParticipantEmail string    `json:"participant_email" binding:"required,email"`
}

// StartSessionResponse is returned on a successful start. Full state is
// fetched separately through the status endpoint.
type StartSessionResponse struct {
	Token     uuid.UUID     `json:"token"`
	Status    SessionStatus `json:"status"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// UpdateTimeRequest pushes the client's accumulated elapsed time.
type UpdateTimeRequest struct {
	TimeSpentSeconds int `json:"time_spent_seconds" binding:"min=0"`
}

// SaveAnswersRequest autosaves a batch of in-progress answers.
type SaveAnswersRequest struct {
	Answers map[string]string `json:"answers" binding:"required,min=1"`
}

// CompleteSessionResponse is returned when a session is submitted.
type CompleteSessionResponse struct {
	Token       uuid.UUID  `json:"token"`
	FinalScore  *float64   `json:"final_score,omitempty"`
	Passed      *bool      `json:"passed,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
