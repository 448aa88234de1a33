package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/quizdesk/quizdesk-backend/internal/config"
	"github.com/quizdesk/quizdesk-backend/internal/repository"
	ws "github.com/quizdesk/quizdesk-backend/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ExpiryWorker periodically expires ACTIVE sessions whose time budget has
// run out, so the authority reports expiry even when the client vanished
// without a final status poll.
type ExpiryWorker struct {
	sessionRepo *repository.SessionRepository
	rdb         *redis.Client
	clock       clockwork.Clock
	interval    time.Duration
	log         zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(
	sessionRepo *repository.SessionRepository,
	rdb *redis.Client,
	clock clockwork.Clock,
	interval time.Duration,
	log zerolog.Logger,
) *ExpiryWorker {
	return &ExpiryWorker{
		sessionRepo: sessionRepo,
		rdb:         rdb,
		clock:       clock,
		interval:    interval,
		log:         log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.Chan():
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	expired, err := w.sessionRepo.ExpireOverdue(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Expiry sweep failed")
		return
	}
	if len(expired) == 0 {
		return
	}

	w.log.Info().Int("count", len(expired)).Msg("Expired overdue sessions")

	for _, e := range expired {
		event, err := json.Marshal(ws.MonitorEvent{
			Event:            ws.EventSessionExpired,
			SessionToken:     e.Token.String(),
			ParticipantEmail: e.ParticipantEmail,
			Timestamp:        w.clock.Now(),
		})
		if err != nil {
			continue
		}
		channel := config.CacheKey.QuizMonitorChannel(e.QuizID.String())
		if err := w.rdb.Publish(ctx, channel, event).Err(); err != nil {
			w.log.Debug().Err(err).Str("channel", channel).Msg("Monitor publish failed")
		}
	}
}
