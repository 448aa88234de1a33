package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quizdesk/quizdesk-backend/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthority mimics the server's session semantics in memory: monotone
// time pushes, remaining derived from confirmed time spent, terminal
// states immutable and idempotent completion.
type fakeAuthority struct {
	mu              sync.Mutex
	durationMinutes *int
	quizID          uuid.UUID

	token     uuid.UUID
	status    model.SessionStatus
	timeSpent int

	notFound  bool
	statusErr error

	startCalls  int
	statusCalls int
	updateCalls int
	lastPushed  int
	answers     map[string]string
}

func newFakeAuthority(durationMinutes *int) *fakeAuthority {
	return &fakeAuthority{
		durationMinutes: durationMinutes,
		quizID:          uuid.New(),
		answers:         make(map[string]string),
	}
}

func (f *fakeAuthority) Start(_ context.Context, _ uuid.UUID, _ string) (*model.StartSessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.token != uuid.Nil && !f.status.Terminal() {
		return nil, ErrSessionConflict
	}
	f.token = uuid.New()
	f.status = model.SessionStatusActive
	f.timeSpent = 0
	return &model.StartSessionResponse{Token: f.token, Status: f.status}, nil
}

func (f *fakeAuthority) snapshotLocked() *model.SessionSnapshot {
	snap := &model.SessionSnapshot{
		Token:            f.token,
		Status:           f.status,
		TimeSpentSeconds: f.timeSpent,
		Quiz:             model.QuizRef{ID: f.quizID, Title: "Networking Basics", DurationMinutes: f.durationMinutes},
	}
	if f.durationMinutes != nil {
		remaining := *f.durationMinutes*60 - f.timeSpent
		if remaining < 0 {
			remaining = 0
		}
		if remaining == 0 && f.status == model.SessionStatusActive {
			f.status = model.SessionStatusExpired
		}
		snap.Status = f.status
		snap.RemainingTimeSeconds = &remaining
		snap.IsExpired = f.status == model.SessionStatusExpired
	}
	return snap
}

func (f *fakeAuthority) GetStatus(_ context.Context, token uuid.UUID) (*model.SessionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.notFound || token != f.token {
		return nil, ErrSessionNotFound
	}
	return f.snapshotLocked(), nil
}

func (f *fakeAuthority) Pause(_ context.Context, token uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound || token != f.token {
		return ErrSessionNotFound
	}
	if f.status.Terminal() {
		return ErrSessionFinished
	}
	f.status = model.SessionStatusPaused
	return nil
}

func (f *fakeAuthority) Resume(_ context.Context, token uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound || token != f.token {
		return ErrSessionNotFound
	}
	if f.status != model.SessionStatusPaused {
		return ErrNotPaused
	}
	f.status = model.SessionStatusActive
	return nil
}

func (f *fakeAuthority) Complete(_ context.Context, token uuid.UUID) (*model.CompleteSessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound || token != f.token {
		return nil, ErrSessionNotFound
	}
	f.status = model.SessionStatusCompleted
	return &model.CompleteSessionResponse{Token: f.token}, nil
}

func (f *fakeAuthority) UpdateTime(_ context.Context, token uuid.UUID, seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound || token != f.token {
		return ErrSessionNotFound
	}
	f.updateCalls++
	f.lastPushed = seconds
	if seconds > f.timeSpent {
		f.timeSpent = seconds
	}
	return nil
}

func (f *fakeAuthority) SaveAnswers(_ context.Context, token uuid.UUID, answers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound || token != f.token {
		return ErrSessionNotFound
	}
	for k, v := range answers {
		f.answers[k] = v
	}
	return nil
}

func (f *fakeAuthority) setTimeSpent(seconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeSpent = seconds
}

func (f *fakeAuthority) confirmedTime() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeSpent
}

func minutes(n int) *int { return &n }

func newTestStore(auth Authority, cfg Config) *Store {
	cfg.Authority = auth
	cfg.Log = zerolog.Nop()
	return NewStore(cfg)
}

// ticks drives the store's countdown directly, without a real or fake
// clock, which keeps long scenarios deterministic.
func ticks(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		s.Tick(context.Background())
	}
}

func TestStartFetchesInitialSnapshot(t *testing.T) {
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{})

	snap, err := store.Start(context.Background(), auth.quizID, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, snap.RemainingTimeSeconds)
	assert.Equal(t, 600, *snap.RemainingTimeSeconds)
	assert.Equal(t, model.SessionStatusActive, store.Status())
	assert.Equal(t, 0, store.TimeSpent())
}

func TestSecondStartConflicts(t *testing.T) {
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{})

	_, err := store.Start(context.Background(), auth.quizID, "alice@example.com")
	require.NoError(t, err)

	_, err = store.Start(context.Background(), auth.quizID, "alice@example.com")
	assert.ErrorIs(t, err, ErrSessionConflict)
	assert.Equal(t, 1, auth.startCalls)
}

func TestCountdownDecrementsAndClampsAtZero(t *testing.T) {
	auth := newFakeAuthority(minutes(1))
	store := newTestStore(auth, Config{})

	_, err := store.Start(context.Background(), auth.quizID, "alice@example.com")
	require.NoError(t, err)

	previous := 61
	for i := 0; i < 70; i++ {
		store.Tick(context.Background())
		remaining := store.RemainingSeconds()
		require.NotNil(t, remaining)
		assert.LessOrEqual(t, *remaining, previous, "remaining must never increase between ticks")
		assert.GreaterOrEqual(t, *remaining, 0, "remaining must never go negative")
		previous = *remaining
	}
	assert.Equal(t, 0, *store.RemainingSeconds())
}

func TestPeriodicPushSendsAccumulatedTotal(t *testing.T) {
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{PushEveryTicks: 30})

	_, err := store.Start(context.Background(), auth.quizID, "alice@example.com")
	require.NoError(t, err)

	ticks(t, store, 29)
	assert.Equal(t, 0, auth.confirmedTime())

	ticks(t, store, 1)
	require.Eventually(t, func() bool {
		return auth.confirmedTime() == 30
	}, time.Second, 5*time.Millisecond, "30th tick should push the running total")

	ticks(t, store, 30)
	require.Eventually(t, func() bool {
		return auth.confirmedTime() == 60
	}, time.Second, 5*time.Millisecond)
}

func TestPushFailureDoesNotHaltTicking(t *testing.T) {
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{PushEveryTicks: 5})

	_, err := store.Start(context.Background(), auth.quizID, "alice@example.com")
	require.NoError(t, err)

	auth.mu.Lock()
	auth.notFound = true // every push now fails
	auth.mu.Unlock()

	ticks(t, store, 20)
	assert.Equal(t, 20, store.TimeSpent())
	assert.Equal(t, model.SessionStatusActive, store.Status())
}

func TestWarningFiresOnceAcrossReconciliationJump(t *testing.T) {
	var warnings []int
	auth := newFakeAuthority(minutes(30))
	store := newTestStore(auth, Config{
		Callbacks: Callbacks{OnWarning: func(m int) { warnings = append(warnings, m) }},
	})

	_, err := store.Start(context.Background(), auth.quizID, "alice@example.com")
	require.NoError(t, err)

	// Confirmed remaining 11 minutes: no threshold crossed yet.
	auth.setTimeSpent(19 * 60)
	require.NoError(t, store.Refresh(context.Background()))
	assert.Empty(t, warnings)

	// Jump straight past the 10-minute mark to 9 minutes remaining.
	auth.setTimeSpent(21 * 60)
	require.NoError(t, store.Refresh(context.Background()))
	assert.Equal(t, []int{10}, warnings)

	// Further refreshes in the same band never repeat the warning.
	auth.setTimeSpent(21*60 + 30)
	require.NoError(t, store.Refresh(context.Background()))
	assert.Equal(t, []int{10}, warnings)
}

func TestTimeUpFiresExactlyOnce(t *testing.T) {
	timeUps := 0
	auth := newFakeAuthority(minutes(1))
	store := newTestStore(auth, Config{
		Callbacks: Callbacks{OnTimeUp: func() { timeUps++ }},
	})

	_, err := store.Start(context.Background(), auth.quizID, "alice@example.com")
	require.NoError(t, err)

	ticks(t, store, 60)
	assert.Equal(t, 1, timeUps)

	// Ticks past zero neither accrue time nor re-fire.
	ticks(t, store, 10)
	assert.Equal(t, 1, timeUps)
	assert.Equal(t, 60, store.TimeSpent())
}

func TestPauseStopsAccrualAndResumeReconciles(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{PushEveryTicks: 1000})

	_, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)

	ticks(t, store, 300)
	require.NoError(t, store.PushTime(ctx))
	require.NoError(t, store.Pause(ctx))
	assert.Equal(t, model.SessionStatusPaused, store.Status())

	// Paused ticks are no-ops; however long the pause lasts, no budget is
	// consumed.
	ticks(t, store, 500)
	assert.Equal(t, 300, store.TimeSpent())

	require.NoError(t, store.Resume(ctx))
	assert.Equal(t, model.SessionStatusActive, store.Status())
	require.NotNil(t, store.RemainingSeconds())
	assert.Equal(t, 300, *store.RemainingSeconds())
}

func TestPausePushesUnpushedSeconds(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{PushEveryTicks: 1000})

	_, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)

	// 29 seconds, below the push cadence: the server has seen none of it.
	ticks(t, store, 29)
	require.Equal(t, 0, auth.confirmedTime())

	require.NoError(t, store.Pause(ctx))
	assert.Equal(t, 29, auth.confirmedTime(), "pausing flushes the running total")

	// The pull-only refresh after resume must not hand the seconds back.
	require.NoError(t, store.Resume(ctx))
	require.NotNil(t, store.RemainingSeconds())
	assert.Equal(t, 571, *store.RemainingSeconds())
}

func TestPauseWhenPausedIsNoOp(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{})

	_, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, store.Pause(ctx))
	require.NoError(t, store.Pause(ctx))
	assert.Equal(t, model.SessionStatusPaused, store.Status())
}

func TestResumeRequiresPaused(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{})

	_, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)
	assert.ErrorIs(t, store.Resume(ctx), ErrNotPaused)
}

func TestFinishedSessionRejectsTransitions(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{})

	_, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)
	_, err = store.Complete(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, store.Pause(ctx), ErrSessionFinished)
	assert.ErrorIs(t, store.Resume(ctx), ErrSessionFinished)
	assert.False(t, store.Tick(ctx), "ticking must stop after completion")
}

func TestCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{})

	_, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)

	first, err := store.Complete(ctx)
	require.NoError(t, err)
	second, err := store.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, model.SessionStatusCompleted, store.Status())
}

func TestRefreshNotFoundInvalidatesSession(t *testing.T) {
	ctx := context.Background()
	var invalidated error
	auth := newFakeAuthority(minutes(10))
	bridge := NewBridge(NewMemoryKV(), zerolog.Nop())
	store := newTestStore(auth, Config{
		Bridge:    bridge,
		Callbacks: Callbacks{OnInvalidated: func(err error) { invalidated = err }},
	})

	_, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)
	_, ok := bridge.LoadToken()
	require.True(t, ok)

	auth.mu.Lock()
	auth.notFound = true
	auth.mu.Unlock()

	assert.ErrorIs(t, store.Refresh(ctx), ErrSessionNotFound)
	assert.Equal(t, uuid.Nil, store.Token())
	assert.ErrorIs(t, invalidated, ErrSessionNotFound)
	_, ok = bridge.LoadToken()
	assert.False(t, ok, "persisted token must be cleared on invalidation")
}

// TestInvalidationDuringAutoSubmitSignalsOnce covers an authority that
// drops the session between time-up and the auto-submission it triggers:
// Complete surfaces not-found, invalidation fires exactly once, and
// consumer wiring that signals shutdown from both callbacks stays safe.
func TestInvalidationDuringAutoSubmitSignalsOnce(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(minutes(1))

	var (
		store         *Store
		invalidations int
		completeErr   error
		done          = make(chan struct{})
		doneOnce      sync.Once
	)
	finish := func() { doneOnce.Do(func() { close(done) }) }

	store = newTestStore(auth, Config{
		Callbacks: Callbacks{
			OnTimeUp: func() {
				_, completeErr = store.Complete(ctx)
				finish()
			},
			OnInvalidated: func(error) {
				invalidations++
				finish()
			},
		},
	})

	_, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)

	auth.mu.Lock()
	auth.notFound = true
	auth.mu.Unlock()

	ticks(t, store, 60)

	select {
	case <-done:
	default:
		t.Fatal("time-up never signalled shutdown")
	}
	assert.ErrorIs(t, completeErr, ErrSessionNotFound)
	assert.Equal(t, 1, invalidations)
	assert.Equal(t, uuid.Nil, store.Token())

	// Stragglers observing the same not-found response are no-ops.
	store.BackgroundRefresh(ctx)
	assert.ErrorIs(t, store.Refresh(ctx), ErrNoSession)
	assert.Equal(t, 1, invalidations)
}

func TestTransientRefreshFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(minutes(10))
	bridge := NewBridge(NewMemoryKV(), zerolog.Nop())
	store := newTestStore(auth, Config{Bridge: bridge})

	_, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)
	ticks(t, store, 42)

	auth.mu.Lock()
	auth.statusErr = errors.New("connection refused")
	auth.mu.Unlock()

	store.BackgroundRefresh(ctx)
	assert.Equal(t, 42, store.TimeSpent(), "local countdown survives a flaky refresh")
	assert.Equal(t, model.SessionStatusActive, store.Status())
	_, ok := bridge.LoadToken()
	assert.True(t, ok, "persisted token survives a transient failure")
}

func TestRehydrateResumesWithoutStart(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(minutes(10))
	kv := NewMemoryKV()

	first := newTestStore(auth, Config{Bridge: NewBridge(kv, zerolog.Nop())})
	_, err := first.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)
	auth.setTimeSpent(42)
	startCallsBefore := auth.startCalls

	// Fresh store over the same persisted state, as after a page reload.
	second := newTestStore(auth, Config{Bridge: NewBridge(kv, zerolog.Nop())})
	loaded, err := second.Rehydrate(ctx)
	require.NoError(t, err)
	require.True(t, loaded)
	assert.Equal(t, startCallsBefore, auth.startCalls, "rehydration must not start a new session")
	assert.Equal(t, 42, second.TimeSpent())
	assert.Equal(t, model.SessionStatusActive, second.Status())
}

func TestRehydrateClearsUnknownToken(t *testing.T) {
	auth := newFakeAuthority(minutes(10))
	kv := NewMemoryKV()
	bridge := NewBridge(kv, zerolog.Nop())
	bridge.SaveToken(uuid.New().String())

	store := newTestStore(auth, Config{Bridge: bridge})
	loaded, err := store.Rehydrate(context.Background())
	require.NoError(t, err)
	assert.False(t, loaded)
	_, ok := bridge.LoadToken()
	assert.False(t, ok)
}

func TestUntimedQuizAccruesWithoutCountdown(t *testing.T) {
	warned := false
	auth := newFakeAuthority(nil)
	store := newTestStore(auth, Config{
		Callbacks: Callbacks{
			OnWarning: func(int) { warned = true },
			OnTimeUp:  func() { warned = true },
		},
	})

	_, err := store.Start(context.Background(), auth.quizID, "alice@example.com")
	require.NoError(t, err)

	ticks(t, store, 120)
	assert.Nil(t, store.RemainingSeconds())
	assert.Equal(t, 120, store.TimeSpent())
	assert.False(t, warned, "untimed quizzes never warn or expire")
}

// TestFullAttemptLifecycle walks a ten-minute attempt from start to
// auto-submission: warnings at the five- and one-minute marks, a single
// time-up at zero, then completion.
func TestFullAttemptLifecycle(t *testing.T) {
	ctx := context.Background()
	var warnings []int
	timeUps := 0

	auth := newFakeAuthority(minutes(10))
	bridge := NewBridge(NewMemoryKV(), zerolog.Nop())
	store := newTestStore(auth, Config{
		Bridge: bridge,
		Callbacks: Callbacks{
			OnWarning: func(m int) { warnings = append(warnings, m) },
			OnTimeUp:  func() { timeUps++ },
		},
	})

	snap, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, 600, *snap.RemainingTimeSeconds)

	ticks(t, store, 598)
	require.Equal(t, 2, *store.RemainingSeconds())
	// The 10-minute threshold covers the whole quiz and is suppressed;
	// the 5- and 1-minute marks each fired exactly once on the way down.
	assert.Equal(t, []int{5, 1}, warnings)
	assert.Equal(t, 0, timeUps)

	ticks(t, store, 2)
	assert.Equal(t, 0, *store.RemainingSeconds())
	assert.Equal(t, 1, timeUps)

	result, err := store.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Token(), result.Token)
	assert.Equal(t, model.SessionStatusCompleted, store.Status())
	_, ok := bridge.LoadToken()
	assert.False(t, ok, "completion clears the persisted token")

	ticks(t, store, 5)
	assert.Equal(t, 1, timeUps)
	assert.Equal(t, []int{5, 1}, warnings)
}

func TestClearResetsStateButKeepsAnswers(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(minutes(10))
	bridge := NewBridge(NewMemoryKV(), zerolog.Nop())
	store := newTestStore(auth, Config{Bridge: bridge})

	_, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, store.SaveAnswers(ctx, &AnswerState{
		SelectedAnswers: map[string]string{"q1": "a"},
	}))
	ticks(t, store, 10)

	store.Clear()
	assert.Equal(t, uuid.Nil, store.Token())
	assert.False(t, store.Tick(ctx))
	_, ok := bridge.LoadToken()
	assert.False(t, ok)
	assert.NotNil(t, bridge.LoadAnswers(auth.quizID.String()), "answers outlive the attempt")

	// A fresh attempt can start once the old one is cleared remotely too.
	auth.mu.Lock()
	auth.status = model.SessionStatusCompleted
	auth.mu.Unlock()
	_, err = store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)
}

func TestIsExpiredReflectsLocalZero(t *testing.T) {
	auth := newFakeAuthority(minutes(1))
	store := newTestStore(auth, Config{})

	_, err := store.Start(context.Background(), auth.quizID, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, store.IsExpired())

	ticks(t, store, 60)
	assert.True(t, store.IsExpired())
}

func TestSaveAnswersPersistsLocallyAndRemotely(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(minutes(10))
	bridge := NewBridge(NewMemoryKV(), zerolog.Nop())
	store := newTestStore(auth, Config{Bridge: bridge})

	_, err := store.Start(ctx, auth.quizID, "alice@example.com")
	require.NoError(t, err)

	state := &AnswerState{
		SelectedAnswers: map[string]string{"q1": "b", "q2": "d"},
		CurrentPage:     2,
		Timestamp:       time.Now(),
	}
	require.NoError(t, store.SaveAnswers(ctx, state))

	restored := bridge.LoadAnswers(auth.quizID.String())
	require.NotNil(t, restored)
	assert.Equal(t, state.SelectedAnswers, restored.SelectedAnswers)
	assert.Equal(t, 2, restored.CurrentPage)
	assert.Equal(t, "b", auth.answers["q1"])
}
