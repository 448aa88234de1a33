package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/quizdesk/quizdesk-backend/internal/config"
	"github.com/quizdesk/quizdesk-backend/internal/database"
	"github.com/quizdesk/quizdesk-backend/internal/handler"
	"github.com/quizdesk/quizdesk-backend/internal/logger"
	"github.com/quizdesk/quizdesk-backend/internal/repository"
	"github.com/quizdesk/quizdesk-backend/internal/router"
	"github.com/quizdesk/quizdesk-backend/internal/service"
	"github.com/quizdesk/quizdesk-backend/internal/validator"
	"github.com/quizdesk/quizdesk-backend/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	validator.Setup()

	// Repositories.
	adminRepo := repository.NewAdminRepository(pool)
	quizRepo := repository.NewQuizRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)

	// Services.
	authService := service.NewAuthService(cfg)
	quizService := service.NewQuizService(quizRepo, rdb, log)
	sessionService := service.NewSessionService(sessionRepo, quizRepo, rdb, log)

	// Warm quiz duration caches so the first status requests after boot
	// don't all fall through to PostgreSQL.
	if err := quizService.PrewarmCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, adminRepo),
		Session: handler.NewSessionHandler(sessionService),
		Quiz:    handler.NewQuizHandler(quizService, sessionService),
		Monitor: handler.NewMonitorHandler(rdb, log, cfg.AllowedOrigins),
	}

	// Background workers share a cancel context separate from the HTTP
	// server so they can drain after the listener stops accepting.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go worker.NewTimeSyncWorker(sessionRepo, rdb, log).Start(workerCtx)
	go worker.NewAutosaveWorker(pool, rdb, log).Start(workerCtx)
	go worker.NewExpiryWorker(sessionRepo, rdb, clockwork.NewRealClock(), cfg.ExpirySweepInterval, log).Start(workerCtx)

	engine := router.SetupRouter(authService, handlers, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: engine,
	}

	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Stop workers last: they drain their queues on cancellation.
	workerCancel()
	time.Sleep(2 * time.Second)
	log.Info().Msg("Bye")
}
