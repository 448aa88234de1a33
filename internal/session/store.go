package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/quizdesk/quizdesk-backend/internal/model"
	"github.com/rs/zerolog"
)

const (
	// defaultPushEveryTicks is how many local ticks pass between
	// best-effort time pushes to the authority.
	defaultPushEveryTicks = 30
	pushTimeout           = 5 * time.Second
)

// Callbacks are invoked by the Store outside its lock, so they may call
// back into the Store. All fields are optional.
type Callbacks struct {
	// OnWarning fires once per remaining-minutes threshold.
	OnWarning func(minutesLeft int)
	// OnTimeUp fires exactly once when the effective remaining time
	// reaches zero while the session is active. The typical reaction is
	// auto-submission via Complete.
	OnTimeUp func()
	// OnInvalidated fires when the authority no longer recognizes the
	// session token and local state has been cleared.
	OnInvalidated func(err error)
}

// Config assembles a Store's collaborators.
type Config struct {
	Authority Authority
	// Bridge is optional. Without it the session does not survive a
	// client restart.
	Bridge *Bridge
	// Clock defaults to the real clock.
	Clock clockwork.Clock
	Log   zerolog.Logger
	// WarningThresholds defaults to 10, 5 and 1 minutes.
	WarningThresholds []int
	// PushEveryTicks defaults to 30.
	PushEveryTicks int
	Callbacks      Callbacks
}

// Store is the client-side session state machine. It keeps two explicit
// time sources — the last server-confirmed snapshot and the count of
// seconds ticked locally since that snapshot — and derives everything
// else from them, so optimistic ticking and reconciliation never write
// into the same counter.
//
// All exported methods are safe for concurrent use. Local state is only
// mutated after the corresponding authority call succeeds; the lock is
// never held across network calls, and a reconciliation response is
// applied last-write-wins.
type Store struct {
	authority Authority
	bridge    *Bridge
	clock     clockwork.Clock
	log       zerolog.Logger
	callbacks Callbacks
	pushEvery int

	mu                sync.Mutex
	token             uuid.UUID
	status            model.SessionStatus
	snapshot          *model.SessionSnapshot
	localElapsedDelta int
	ticksSincePush    int
	lastSyncAt        time.Time
	lastErr           error
	policy            *ExpiryPolicy
	pending           []func()
}

// NewStore creates a Store. cfg.Authority is required.
func NewStore(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PushEveryTicks <= 0 {
		cfg.PushEveryTicks = defaultPushEveryTicks
	}
	if len(cfg.WarningThresholds) == 0 {
		cfg.WarningThresholds = []int{10, 5, 1}
	}

	s := &Store{
		authority: cfg.Authority,
		bridge:    cfg.Bridge,
		clock:     cfg.Clock,
		log:       cfg.Log.With().Str("component", "session_store").Logger(),
		callbacks: cfg.Callbacks,
		pushEvery: cfg.PushEveryTicks,
	}
	// Policy callbacks queue onto pending; they run after the lock is
	// released so user callbacks can safely call back into the Store.
	s.policy = NewExpiryPolicy(cfg.WarningThresholds,
		func(minutes int) {
			if cb := s.callbacks.OnWarning; cb != nil {
				s.pending = append(s.pending, func() { cb(minutes) })
			}
		},
		func() {
			if cb := s.callbacks.OnTimeUp; cb != nil {
				s.pending = append(s.pending, cb)
			}
		},
	)
	return s
}

// Start begins a new attempt at a quiz. Exactly one ACTIVE or PAUSED
// attempt may exist per participant and quiz; a second start fails with
// ErrSessionConflict. The token is persisted before the first status
// fetch so even an immediately crashing client can resume.
func (s *Store) Start(ctx context.Context, quizID uuid.UUID, participantEmail string) (*model.SessionSnapshot, error) {
	s.mu.Lock()
	if s.token != uuid.Nil && !s.status.Terminal() {
		s.mu.Unlock()
		return nil, ErrSessionConflict
	}
	s.mu.Unlock()

	started, err := s.authority.Start(ctx, quizID, participantEmail)
	if err != nil {
		return nil, err
	}
	if s.bridge != nil {
		s.bridge.SaveToken(started.Token.String())
	}

	snap, err := s.authority.GetStatus(ctx, started.Token)
	if err != nil {
		// The session exists remotely and the token is persisted;
		// Rehydrate can pick it up once connectivity recovers.
		return nil, fmt.Errorf("fetch initial status: %w", err)
	}

	s.mu.Lock()
	s.install(snap)
	s.mu.Unlock()
	s.flushPending()
	return snap, nil
}

// Rehydrate restores a persisted attempt after a client restart. Returns
// true when a live session was loaded. A token the authority no longer
// recognizes is cleared; a transient failure keeps the token so a later
// Rehydrate can retry.
func (s *Store) Rehydrate(ctx context.Context) (bool, error) {
	if s.bridge == nil {
		return false, nil
	}
	raw, ok := s.bridge.LoadToken()
	if !ok {
		return false, nil
	}
	token, err := uuid.Parse(raw)
	if err != nil {
		s.bridge.ClearToken()
		return false, nil
	}

	snap, err := s.authority.GetStatus(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		s.bridge.ClearToken()
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.install(snap)
	if snap.Status.Terminal() || snap.IsExpired {
		// The attempt ended while the client was away. Surface the final
		// state but drop the persisted token.
		s.clearPersistedLocked()
	}
	s.mu.Unlock()
	s.flushPending()
	return true, nil
}

// install replaces all session state from a snapshot. Caller holds mu.
func (s *Store) install(snap *model.SessionSnapshot) {
	s.token = snap.Token
	s.snapshot = snap
	s.status = snap.Status
	if snap.IsExpired {
		s.status = model.SessionStatusExpired
	}
	s.localElapsedDelta = 0
	s.ticksSincePush = 0
	s.lastSyncAt = s.clock.Now()
	s.lastErr = nil
	s.policy.Reset(snap.Quiz.DurationMinutes)
}

// Tick advances the optimistic countdown by one second. It is driven by
// the Ticker and must never block on the network: the periodic time push
// runs on its own goroutine and swallows failures. The return value tells
// the caller whether ticking should continue.
func (s *Store) Tick(ctx context.Context) bool {
	s.mu.Lock()
	if s.token == uuid.Nil || s.status.Terminal() {
		s.mu.Unlock()
		return false
	}
	if s.status != model.SessionStatusActive {
		s.mu.Unlock()
		return true
	}

	remaining := EffectiveRemaining(s.snapshot, s.localElapsedDelta)
	if remaining != nil && *remaining == 0 {
		// Budget already exhausted: no further accrual, but keep
		// evaluating so a missed time-up still fires.
		s.policy.Observe(remaining, true)
		s.mu.Unlock()
		s.flushPending()
		return true
	}

	s.localElapsedDelta++
	s.ticksSincePush++
	remaining = EffectiveRemaining(s.snapshot, s.localElapsedDelta)
	s.policy.Observe(remaining, true)

	if s.ticksSincePush >= s.pushEvery {
		s.ticksSincePush = 0
		total := EffectiveTimeSpent(s.snapshot, s.localElapsedDelta)
		token := s.token
		go s.pushTime(token, total)
	}
	s.mu.Unlock()
	s.flushPending()
	return true
}

// pushTime is the best-effort periodic time push. Failures are logged and
// dropped; the next push carries a larger absolute value anyway.
func (s *Store) pushTime(token uuid.UUID, totalSeconds int) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := s.authority.UpdateTime(ctx, token, totalSeconds); err != nil {
		s.log.Debug().Err(err).Int("time_spent", totalSeconds).Msg("Time push failed")
	}
}

// Refresh fetches the canonical snapshot and replaces local state with
// it, resetting the local tick delta. A not-found response means the
// authority invalidated the session: local state and the persisted token
// are cleared and ErrSessionNotFound is returned.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == uuid.Nil {
		return ErrNoSession
	}

	snap, err := s.authority.GetStatus(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		s.invalidate(err)
		return err
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.token != token {
		// Session changed while the request was in flight; drop the
		// stale response.
		s.mu.Unlock()
		return nil
	}
	wasActive := s.status == model.SessionStatusActive
	s.snapshot = snap
	s.localElapsedDelta = 0
	s.lastSyncAt = s.clock.Now()
	s.status = snap.Status
	if snap.IsExpired {
		s.status = model.SessionStatusExpired
	}
	s.policy.Observe(EffectiveRemaining(snap, 0), wasActive)
	if s.status.Terminal() {
		s.clearPersistedLocked()
	}
	s.mu.Unlock()
	s.flushPending()
	return nil
}

// BackgroundRefresh is the reconciliation-loop variant of Refresh:
// transient failures are logged and swallowed so the persisted token and
// local countdown survive flaky connectivity. Only invalidation is
// surfaced, via the OnInvalidated callback.
func (s *Store) BackgroundRefresh(ctx context.Context) {
	err := s.Refresh(ctx)
	switch {
	case err == nil, errors.Is(err, ErrNoSession):
	case errors.Is(err, ErrSessionNotFound):
		// invalidate already ran inside Refresh.
	default:
		s.log.Debug().Err(err).Msg("Background refresh failed")
	}
}

// invalidate clears all local and persisted state after the authority
// stopped recognizing the token. Several in-flight calls can observe the
// same not-found response; only the first one clears state and fires
// OnInvalidated, the rest are no-ops.
func (s *Store) invalidate(cause error) {
	s.mu.Lock()
	if s.token == uuid.Nil {
		s.mu.Unlock()
		return
	}
	s.token = uuid.Nil
	s.status = ""
	s.snapshot = nil
	s.localElapsedDelta = 0
	s.ticksSincePush = 0
	s.lastErr = cause
	s.clearPersistedLocked()
	s.mu.Unlock()

	s.log.Warn().Err(cause).Msg("Session invalidated by authority")
	if cb := s.callbacks.OnInvalidated; cb != nil {
		cb(cause)
	}
}

func (s *Store) clearPersistedLocked() {
	if s.bridge != nil {
		s.bridge.ClearToken()
	}
}

// Clear resets the store to the no-session state and drops the persisted
// token, for explicit logout or abandonment. Locally saved answers are
// kept: they are scoped per quiz, not per session. The remote record is
// untouched.
func (s *Store) Clear() {
	s.mu.Lock()
	s.token = uuid.Nil
	s.status = ""
	s.snapshot = nil
	s.localElapsedDelta = 0
	s.ticksSincePush = 0
	s.lastErr = nil
	s.clearPersistedLocked()
	s.mu.Unlock()
}

// Pause suspends the countdown. Pausing an already paused session is a
// no-op; a finished session cannot be paused.
func (s *Store) Pause(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.token == uuid.Nil:
		s.mu.Unlock()
		return ErrNoSession
	case s.status.Terminal():
		s.mu.Unlock()
		return ErrSessionFinished
	case s.status == model.SessionStatusPaused:
		s.mu.Unlock()
		return nil
	}
	token := s.token
	total := EffectiveTimeSpent(s.snapshot, s.localElapsedDelta)
	s.mu.Unlock()

	// Push the running total before pausing: the post-resume refresh is
	// pull-only and would drop seconds ticked since the last periodic
	// push. On failure the gap resolves in the participant's favor.
	if err := s.authority.UpdateTime(ctx, token, total); err != nil {
		s.log.Debug().Err(err).Int("time_spent", total).Msg("Pre-pause time push failed")
	}

	if err := s.authority.Pause(ctx, token); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.invalidate(err)
		}
		return err
	}

	s.mu.Lock()
	if s.token == token {
		s.status = model.SessionStatusPaused
		if s.snapshot != nil {
			s.snapshot.Status = model.SessionStatusPaused
		}
	}
	s.mu.Unlock()
	return nil
}

// Resume reactivates a paused session and immediately reconciles, so the
// countdown restarts from the authority's value rather than a stale local
// one. Wall-clock time spent paused never counts against the budget.
func (s *Store) Resume(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.token == uuid.Nil:
		s.mu.Unlock()
		return ErrNoSession
	case s.status.Terminal():
		s.mu.Unlock()
		return ErrSessionFinished
	case s.status != model.SessionStatusPaused:
		s.mu.Unlock()
		return ErrNotPaused
	}
	token := s.token
	s.mu.Unlock()

	if err := s.authority.Resume(ctx, token); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.invalidate(err)
		}
		return err
	}

	s.mu.Lock()
	if s.token == token {
		s.status = model.SessionStatusActive
		if s.snapshot != nil {
			s.snapshot.Status = model.SessionStatusActive
		}
	}
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrSessionNotFound) {
		// The resume itself succeeded; reconciliation catches up on the
		// next cycle.
		s.log.Debug().Err(err).Msg("Post-resume refresh failed")
	}
	return nil
}

// Complete submits the attempt. The authority treats completion
// idempotently, so retrying after a timeout is safe. On success the
// persisted token and local answers are cleared.
func (s *Store) Complete(ctx context.Context) (*model.CompleteSessionResponse, error) {
	s.mu.Lock()
	if s.token == uuid.Nil {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	token := s.token
	var quizID uuid.UUID
	if s.snapshot != nil {
		quizID = s.snapshot.Quiz.ID
	}
	s.mu.Unlock()

	result, err := s.authority.Complete(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.invalidate(err)
		}
		return nil, err
	}

	s.mu.Lock()
	if s.token == token {
		s.status = model.SessionStatusCompleted
		if s.snapshot != nil {
			s.snapshot.Status = model.SessionStatusCompleted
		}
		s.clearPersistedLocked()
	}
	s.mu.Unlock()

	if s.bridge != nil && quizID != uuid.Nil {
		s.bridge.ClearAnswers(quizID.String())
	}
	return result, nil
}

// PushTime synchronously pushes the current optimistic total to the
// authority. Used at teardown so a closing client does not lose up to a
// push interval of elapsed time.
func (s *Store) PushTime(ctx context.Context) error {
	s.mu.Lock()
	if s.token == uuid.Nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	if s.status != model.SessionStatusActive {
		s.mu.Unlock()
		return nil
	}
	token := s.token
	total := EffectiveTimeSpent(s.snapshot, s.localElapsedDelta)
	s.mu.Unlock()
	return s.authority.UpdateTime(ctx, token, total)
}

// SaveAnswers persists in-progress answers locally and pushes them to the
// authority's autosave endpoint. The local write always happens; the
// remote push is best-effort.
func (s *Store) SaveAnswers(ctx context.Context, state *AnswerState) error {
	s.mu.Lock()
	token := s.token
	var quizID uuid.UUID
	if s.snapshot != nil {
		quizID = s.snapshot.Quiz.ID
	}
	s.mu.Unlock()

	if s.bridge != nil && quizID != uuid.Nil {
		s.bridge.SaveAnswers(quizID.String(), state)
	}
	if token == uuid.Nil {
		return ErrNoSession
	}
	if len(state.SelectedAnswers) == 0 {
		return nil
	}
	if err := s.authority.SaveAnswers(ctx, token, state.SelectedAnswers); err != nil {
		s.log.Debug().Err(err).Msg("Remote answer autosave failed")
		return err
	}
	return nil
}

// flushPending runs callbacks queued by the policy while the lock was
// held. Must be called without mu.
func (s *Store) flushPending() {
	s.mu.Lock()
	fires := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, f := range fires {
		f()
	}
}

// Token returns the current session token, or uuid.Nil when no session is
// loaded.
func (s *Store) Token() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Status returns the current local session status, or "" when no session
// is loaded.
func (s *Store) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RemainingSeconds returns the effective remaining time, nil for untimed
// quizzes or when no session is loaded.
func (s *Store) RemainingSeconds() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EffectiveRemaining(s.snapshot, s.localElapsedDelta)
}

// TimeSpent returns the optimistic elapsed total in seconds.
func (s *Store) TimeSpent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EffectiveTimeSpent(s.snapshot, s.localElapsedDelta)
}

// Quiz returns the quiz identity from the last snapshot, or nil.
func (s *Store) Quiz() *model.QuizRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	q := s.snapshot.Quiz
	return &q
}

// IsExpired reports whether the session has run out of time, locally or
// per the authority.
func (s *Store) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == model.SessionStatusExpired {
		return true
	}
	remaining := EffectiveRemaining(s.snapshot, s.localElapsedDelta)
	return s.status == model.SessionStatusActive && remaining != nil && *remaining == 0
}

// LastSyncAt returns the time of the last successful reconciliation.
func (s *Store) LastSyncAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncAt
}

// LastError returns the error that invalidated the session, if any.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
