package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizdesk/quizdesk-backend/internal/model"
)

// SessionResult combines participant identity with session outcome, as
// listed on the admin results screen.
type SessionResult struct {
	ParticipantEmail string              `json:"participant_email"`
	Status           model.SessionStatus `json:"status"`
	TimeSpentSeconds int                 `json:"time_spent_seconds"`
	FinalScore       *float64            `json:"final_score,omitempty"`
	StartedAt        time.Time           `json:"started_at"`
	FinishedAt       *time.Time          `json:"finished_at,omitempty"`
}

// SessionRepository handles quiz session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, quiz_id, participant_email, token, status, time_spent_seconds, started_at, paused_at, finished_at, final_score`

func scanSession(row interface{ Scan(...any) error }) (*model.QuizSession, error) {
	s := &model.QuizSession{}
	err := row.Scan(&s.ID, &s.QuizID, &s.ParticipantEmail, &s.Token, &s.Status,
		&s.TimeSpentSeconds, &s.StartedAt, &s.PausedAt, &s.FinishedAt, &s.FinalScore)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByToken retrieves a session by its opaque token.
func (r *SessionRepository) GetByToken(ctx context.Context, token uuid.UUID) (*model.QuizSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM quiz_sessions WHERE token = $1`, token))
}

// GetOpenByQuizAndParticipant retrieves the participant's ACTIVE or PAUSED
// session for a quiz, if any.
func (r *SessionRepository) GetOpenByQuizAndParticipant(ctx context.Context, quizID uuid.UUID, email string) (*model.QuizSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM quiz_sessions
		 WHERE quiz_id = $1 AND participant_email = $2 AND status IN ('ACTIVE', 'PAUSED')`,
		quizID, email))
}

// Create inserts a new session. The partial unique index on open sessions
// makes a concurrent duplicate start surface as pgx.ErrNoRows here, which
// the caller resolves by refetching the winner.
func (r *SessionRepository) Create(ctx context.Context, s *model.QuizSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO quiz_sessions (quiz_id, participant_email, token, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (quiz_id, participant_email) WHERE status IN ('ACTIVE', 'PAUSED') DO NOTHING
		 RETURNING id, started_at`,
		s.QuizID, s.ParticipantEmail, s.Token, model.SessionStatusActive,
	).Scan(&s.ID, &s.StartedAt)
}

// SetStatus transitions a session between ACTIVE and PAUSED, recording the
// pause timestamp. Terminal sessions are never touched.
func (r *SessionRepository) SetStatus(ctx context.Context, token uuid.UUID, status model.SessionStatus) error {
	var pausedAt *time.Time
	if status == model.SessionStatusPaused {
		now := time.Now()
		pausedAt = &now
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE quiz_sessions SET status = $1, paused_at = $2
		 WHERE token = $3 AND status NOT IN ('COMPLETED', 'EXPIRED')`,
		status, pausedAt, token)
	return err
}

// SetTimeSpent records a client time push. GREATEST keeps the stored value
// monotone even when a stale push arrives out of order.
func (r *SessionRepository) SetTimeSpent(ctx context.Context, token uuid.UUID, seconds int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE quiz_sessions
		 SET time_spent_seconds = GREATEST(time_spent_seconds, $1)
		 WHERE token = $2 AND status NOT IN ('COMPLETED', 'EXPIRED')`,
		seconds, token)
	return err
}

// Complete marks a session as completed with an optional final score.
func (r *SessionRepository) Complete(ctx context.Context, token uuid.UUID, score *float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE quiz_sessions
		 SET status = $1, final_score = $2, finished_at = NOW()
		 WHERE token = $3 AND status NOT IN ('COMPLETED', 'EXPIRED')`,
		model.SessionStatusCompleted, score, token)
	return err
}

// Expire marks a single session as expired.
func (r *SessionRepository) Expire(ctx context.Context, token uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE quiz_sessions SET status = $1, finished_at = NOW()
		 WHERE token = $2 AND status = 'ACTIVE'`,
		model.SessionStatusExpired, token)
	return err
}

// ExpiredSession identifies a session flipped by the expiry sweep.
type ExpiredSession struct {
	Token            uuid.UUID
	QuizID           uuid.UUID
	ParticipantEmail string
}

// ExpireOverdue flips every ACTIVE session whose confirmed time spent has
// consumed the quiz's budget. Returns the affected sessions so the caller
// can publish monitor events.
func (r *SessionRepository) ExpireOverdue(ctx context.Context) ([]ExpiredSession, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE quiz_sessions qs
		 SET status = $1, finished_at = NOW()
		 FROM quizzes q
		 WHERE qs.quiz_id = q.id
		   AND qs.status = 'ACTIVE'
		   AND q.duration_minutes IS NOT NULL
		   AND qs.time_spent_seconds >= q.duration_minutes * 60
		 RETURNING qs.token, qs.quiz_id, qs.participant_email`,
		model.SessionStatusExpired)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []ExpiredSession
	for rows.Next() {
		var e ExpiredSession
		if err := rows.Scan(&e.Token, &e.QuizID, &e.ParticipantEmail); err != nil {
			return nil, err
		}
		expired = append(expired, e)
	}
	return expired, rows.Err()
}

// ListByQuiz retrieves paginated participant results for a quiz.
func (r *SessionRepository) ListByQuiz(ctx context.Context, quizID uuid.UUID, page, perPage int) ([]SessionResult, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM quiz_sessions WHERE quiz_id = $1`, quizID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	rows, err := r.pool.Query(ctx,
		`SELECT participant_email, status, time_spent_seconds, final_score, started_at, finished_at
		 FROM quiz_sessions
		 WHERE quiz_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2 OFFSET $3`,
		quizID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []SessionResult
	for rows.Next() {
		var res SessionResult
		if err := rows.Scan(&res.ParticipantEmail, &res.Status, &res.TimeSpentSeconds,
			&res.FinalScore, &res.StartedAt, &res.FinishedAt); err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}
