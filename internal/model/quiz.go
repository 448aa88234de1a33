package model

import (
	"time"

	"github.com/google/uuid"
)

// QuizStatus enumerates the possible states of a quiz.
type QuizStatus string

const (
	QuizStatusDraft     QuizStatus = "DRAFT"
	QuizStatusPublished QuizStatus = "PUBLISHED"
	QuizStatusArchived  QuizStatus = "ARCHIVED"
)

// Quiz represents a quiz entity. DurationMinutes is nil for untimed quizzes.
type Quiz struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	PassingScore    *float64   `json:"passing_score,omitempty"`
	Status          QuizStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// QuizRef is the compact quiz identity embedded in session snapshots.
type QuizRef struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
}

// CreateQuizRequest is the payload for creating a new quiz.
type CreateQuizRequest struct {
	Title           string   `json:"title" binding:"required,min=3,max=255"`
	Description     string   `json:"description" binding:"omitempty,max=2000"`
	DurationMinutes *int     `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	PassingScore    *float64 `json:"passing_score" binding:"omitempty,min=0,max=100"`
}

// UpdateQuizRequest is the payload for updating an existing quiz.
type UpdateQuizRequest struct {
	Title           string   `json:"title" binding:"omitempty,min=3,max=255"`
	Description     *string  `json:"description" binding:"omitempty,max=2000"`
	DurationMinutes *int     `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	PassingScore    *float64 `json:"passing_score" binding:"omitempty,min=0,max=100"`
}
