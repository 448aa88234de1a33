package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/quizdesk/quizdesk-backend/internal/model"
	"github.com/rs/zerolog"
)

// Runner supervises the background goroutines of one session: the
// per-second ticker and the periodic reconciliation loop. Both are tied
// to the Runner's lifetime, so stopping it is the single point that
// guarantees no timer survives the session.
type Runner struct {
	store        *Store
	clock        clockwork.Clock
	tickInterval time.Duration
	syncInterval time.Duration
	log          zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a stopped Runner.
func NewRunner(store *Store, clock clockwork.Clock, tickInterval, syncInterval time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		store:        store,
		clock:        clock,
		tickInterval: tickInterval,
		syncInterval: syncInterval,
		log:          log.With().Str("component", "session_runner").Logger(),
	}
}

// Start launches the ticker and reconciliation goroutines. Starting an
// already running Runner is a no-op. When the ticker ends on its own
// (terminal status), the reconciliation loop is torn down with it.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	ticker := NewTicker(r.store, r.clock, r.tickInterval, r.log)
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		ticker.Run(ctx)
		cancel()
	}()
	go func() {
		defer r.wg.Done()
		r.syncLoop(ctx)
	}()
}

// Stop cancels both loops and waits for them to exit. Safe to call more
// than once.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}

// syncLoop reconciles against the authority every syncInterval while the
// session is active. Paused sessions skip the refresh: their state cannot
// drift, and resume performs an immediate reconciliation anyway.
func (r *Runner) syncLoop(ctx context.Context) {
	ticker := r.clock.NewTicker(r.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if r.store.Status() == model.SessionStatusActive {
				r.store.BackgroundRefresh(ctx)
			}
		}
	}
}
