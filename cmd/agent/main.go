// Command agent is a headless quiz participant: it starts (or resumes) a
// session against a quizdesk server, runs the local countdown with
// periodic reconciliation, and auto-submits when time runs out. It is
// the reference consumer of the session package.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/quizdesk/quizdesk-backend/internal/apiclient"
	"github.com/quizdesk/quizdesk-backend/internal/config"
	"github.com/quizdesk/quizdesk-backend/internal/logger"
	"github.com/quizdesk/quizdesk-backend/internal/session"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "quizdesk server base URL")
		quizID    = flag.String("quiz", "", "quiz ID to attempt (required unless resuming)")
		email     = flag.String("email", "", "participant email (required unless resuming)")
	)
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	kv, err := session.NewFileKV(cfg.AgentStateDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state directory")
	}

	client := apiclient.New(*serverURL, log)
	clock := clockwork.NewRealClock()

	// Both terminal callbacks can fire for one session: an auto-submit
	// that races an invalidation reaches OnInvalidated from inside
	// Complete and OnTimeUp right after. finish makes the signal safe to
	// send twice.
	done := make(chan struct{})
	var doneOnce sync.Once
	finish := func() { doneOnce.Do(func() { close(done) }) }

	var store *session.Store
	store = session.NewStore(session.Config{
		Authority:         client,
		Bridge:            session.NewBridge(kv, log),
		Clock:             clock,
		Log:               log,
		WarningThresholds: cfg.WarningThresholds,
		Callbacks: session.Callbacks{
			OnWarning: func(minutesLeft int) {
				log.Warn().Int("minutes_left", minutesLeft).Msg("Time warning")
			},
			OnTimeUp: func() {
				log.Warn().Msg("Time is up, submitting")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if _, err := store.Complete(ctx); err != nil {
					log.Error().Err(err).Msg("Auto-submit failed")
				}
				finish()
			},
			OnInvalidated: func(err error) {
				log.Error().Err(err).Msg("Session invalidated by server")
				finish()
			},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	resumed, err := store.Rehydrate(ctx)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to check for a resumable session")
	}
	if resumed {
		log.Info().
			Str("token", store.Token().String()).
			Str("status", string(store.Status())).
			Int("time_spent", store.TimeSpent()).
			Msg("Resumed existing session")
	} else {
		if *quizID == "" || *email == "" {
			cancel()
			log.Fatal().Msg("No session to resume: -quiz and -email are required")
		}
		qid, err := uuid.Parse(*quizID)
		if err != nil {
			cancel()
			log.Fatal().Err(err).Msg("Invalid quiz ID")
		}
		snap, err := store.Start(ctx, qid, *email)
		if err != nil {
			cancel()
			log.Fatal().Err(err).Msg("Failed to start session")
		}
		log.Info().
			Str("token", snap.Token.String()).
			Str("quiz", snap.Quiz.Title).
			Msg("Session started")
	}
	cancel()

	if store.Status().Terminal() {
		log.Info().Str("status", string(store.Status())).Msg("Session already finished")
		return
	}

	runner := session.NewRunner(store, clock, cfg.TickInterval, cfg.SyncInterval, log)
	runner.Start()
	defer runner.Stop()

	status := time.NewTicker(15 * time.Second)
	defer status.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-status.C:
			evt := log.Info().
				Str("status", string(store.Status())).
				Int("time_spent", store.TimeSpent())
			if remaining := store.RemainingSeconds(); remaining != nil {
				evt = evt.Int("remaining", *remaining)
			}
			evt.Msg("Session progress")
		case <-done:
			log.Info().Str("status", string(store.Status())).Msg("Session finished")
			return
		case <-quit:
			// Push the current total so up to a sync interval of elapsed
			// time is not lost; the attempt itself stays open for resume.
			pushCtx, pushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := store.PushTime(pushCtx); err != nil {
				log.Warn().Err(err).Msg("Final time push failed")
			}
			pushCancel()
			log.Info().Msg("Detached; session can be resumed later")
			return
		}
	}
}
