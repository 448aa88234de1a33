package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/quizdesk/quizdesk-backend/internal/config"
	"github.com/quizdesk/quizdesk-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TimeSyncWorker consumes persist_time_queue and flushes confirmed
// time-spent values to PostgreSQL. Redis stays the hot path; this keeps the
// durable row close behind it.
type TimeSyncWorker struct {
	sessionRepo *repository.SessionRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewTimeSyncWorker creates a new TimeSyncWorker.
func NewTimeSyncWorker(sessionRepo *repository.SessionRepository, rdb *redis.Client, log zerolog.Logger) *TimeSyncWorker {
	return &TimeSyncWorker{
		sessionRepo: sessionRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "timesync_worker").Logger(),
	}
}

type timePayload struct {
	Token            string `json:"token"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *TimeSyncWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *TimeSyncWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistTimeQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var payload timePayload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
		return
	}

	if err := w.persistTime(ctx, &payload); err != nil {
		w.log.Error().Err(err).
			Str("token", payload.Token).
			Msg("Persist error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.PersistTimeQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *TimeSyncWorker) persistTime(ctx context.Context, p *timePayload) error {
	token, err := uuid.Parse(p.Token)
	if err != nil {
		// Malformed token cannot be retried; drop it.
		w.log.Error().Str("token", p.Token).Msg("Dropping job with invalid token")
		return nil
	}

	// SetTimeSpent is monotone, so jobs landing out of order are safe.
	return w.sessionRepo.SetTimeSpent(ctx, token, p.TimeSpentSeconds)
}

// drain processes all remaining items in the queue before shutdown.
func (w *TimeSyncWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistTimeQueue).Result()
		if err != nil {
			break
		}

		var payload timePayload
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persistTime(ctx, &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistTimeQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
