// Package session implements the client side of a timed quiz attempt: an
// optimistic per-second countdown reconciled against the remote authority
// that owns canonical session state. The Store holds the state machine,
// the Runner supervises its timers, and the Bridge keeps enough local
// state for a restarted client to resume the same attempt.
package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/quizdesk/quizdesk-backend/internal/model"
)

// Typed errors an Authority implementation must surface so the Store can
// tell invalidation apart from transient failure.
var (
	// ErrSessionConflict means an ACTIVE or PAUSED attempt already exists
	// for this participant and quiz.
	ErrSessionConflict = errors.New("an open session already exists")
	// ErrQuizNotFound means the quiz does not exist or is not available.
	ErrQuizNotFound = errors.New("quiz not found or not available")
	// ErrSessionNotFound means the authority no longer recognizes the
	// token. Unlike a transient network error, this is unrecoverable: the
	// local attempt must be cleared.
	ErrSessionNotFound = errors.New("session not found on the authority")
	// ErrSessionFinished means the session is COMPLETED or EXPIRED and the
	// requested transition is not allowed.
	ErrSessionFinished = errors.New("session already finished")
	// ErrNoSession is returned by Store operations that need a session
	// when none is loaded.
	ErrNoSession = errors.New("no session in progress")
	// ErrNotPaused is returned by Resume when the session is not paused.
	ErrNotPaused = errors.New("session is not paused")
)

// Authority is the remote service that owns canonical session state. All
// calls are network operations and may fail; snapshots are absolute state,
// never deltas, so a late response can safely be applied last-write-wins.
type Authority interface {
	Start(ctx context.Context, quizID uuid.UUID, participantEmail string) (*model.StartSessionResponse, error)
	GetStatus(ctx context.Context, token uuid.UUID) (*model.SessionSnapshot, error)
	Pause(ctx context.Context, token uuid.UUID) error
	Resume(ctx context.Context, token uuid.UUID) error
	Complete(ctx context.Context, token uuid.UUID) (*model.CompleteSessionResponse, error)
	UpdateTime(ctx context.Context, token uuid.UUID, timeSpentSeconds int) error
	SaveAnswers(ctx context.Context, token uuid.UUID, answers map[string]string) error
}
