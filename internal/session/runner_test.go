package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerTicksOnVirtualClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{Clock: clock, PushEveryTicks: 1000})

	_, err := store.Start(context.Background(), auth.quizID, "alice@example.com")
	require.NoError(t, err)

	runner := NewRunner(store, clock, time.Second, 30*time.Second, store.log)
	runner.Start()
	defer runner.Stop()
	clock.BlockUntil(2) // both loops are waiting on their tickers

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		target := i + 1
		require.Eventually(t, func() bool {
			return store.TimeSpent() >= target
		}, time.Second, time.Millisecond)
	}
	assert.GreaterOrEqual(t, store.TimeSpent(), 5)
}

func TestRunnerSyncLoopReconciles(t *testing.T) {
	clock := clockwork.NewFakeClock()
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{Clock: clock, PushEveryTicks: 1000})

	_, err := store.Start(context.Background(), auth.quizID, "alice@example.com")
	require.NoError(t, err)
	statusCallsBefore := auth.statusCalls

	runner := NewRunner(store, clock, time.Hour, 30*time.Second, store.log)
	runner.Start()
	defer runner.Stop()
	clock.BlockUntil(2)

	auth.setTimeSpent(120)
	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		auth.mu.Lock()
		defer auth.mu.Unlock()
		return auth.statusCalls > statusCallsBefore
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return store.TimeSpent() == 120
	}, time.Second, time.Millisecond, "reconciliation must adopt the authority's value")
}

func TestRunnerStopIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	auth := newFakeAuthority(minutes(10))
	store := newTestStore(auth, Config{Clock: clock})

	runner := NewRunner(store, clock, time.Second, 30*time.Second, store.log)
	runner.Start()
	runner.Start()
	runner.Stop()
	runner.Stop()
}
