package session

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Ticker drives the Store's per-second countdown. It owns no state of its
// own: each tick delegates to Store.Tick, which decides whether time
// accrues, whether a push is due and whether ticking should stop. Built
// on an injectable clock so tests can step virtual time.
type Ticker struct {
	store    *Store
	clock    clockwork.Clock
	interval time.Duration
	log      zerolog.Logger
}

// NewTicker creates a Ticker for the store. interval is normally one
// second.
func NewTicker(store *Store, clock clockwork.Clock, interval time.Duration, log zerolog.Logger) *Ticker {
	return &Ticker{
		store:    store,
		clock:    clock,
		interval: interval,
		log:      log.With().Str("component", "session_ticker").Logger(),
	}
}

// Run blocks until the context is cancelled or the store reports that
// ticking is over (no session, or a terminal status). The underlying
// timer is always released on return; a session may outlive many UI
// screens but never leaks a timer past its own lifetime.
func (t *Ticker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !t.store.Tick(ctx) {
				t.log.Debug().Msg("Ticking stopped")
				return
			}
		}
	}
}
