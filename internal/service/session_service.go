package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/quizdesk/quizdesk-backend/internal/config"
	"github.com/quizdesk/quizdesk-backend/internal/model"
	"github.com/quizdesk/quizdesk-backend/internal/repository"
	ws "github.com/quizdesk/quizdesk-backend/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Typed session errors, mapped to wire codes by the handler layer.
var (
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrQuizNotAvailable = errors.New("quiz is not available")
	ErrSessionConflict  = errors.New("an open session already exists for this participant and quiz")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionTerminal  = errors.New("session has already finished")
	ErrSessionNotPaused = errors.New("session is not paused")
)

// SessionService owns the canonical session state machine on the server
// side. Clients consume it through the handler layer and reconcile their
// optimistic local countdowns against its answers.
type SessionService struct {
	sessionRepo *repository.SessionRepository
	quizRepo    *repository.QuizRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessionRepo *repository.SessionRepository,
	quizRepo *repository.QuizRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		quizRepo:    quizRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "session_service").Logger(),
	}
}

// Start creates a session for the participant. A second start while an
// ACTIVE or PAUSED attempt exists is rejected with ErrSessionConflict.
func (s *SessionService) Start(ctx context.Context, quizID uuid.UUID, email string) (*model.StartSessionResponse, error) {
	quiz, err := s.quizRepo.GetByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("get quiz: %w", err)
	}

	if quiz.Status != model.QuizStatusPublished {
		return nil, ErrQuizNotAvailable
	}

	existing, err := s.sessionRepo.GetOpenByQuizAndParticipant(ctx, quizID, email)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing session: %w", err)
	}
	if existing != nil {
		return nil, ErrSessionConflict
	}

	session := &model.QuizSession{
		QuizID:           quizID,
		ParticipantEmail: email,
		Token:            uuid.New(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start won the partial unique index race.
			return nil, ErrSessionConflict
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	// Seed the hot-path counters so status reads avoid Postgres.
	token := session.Token.String()
	if err := s.rdb.Set(ctx, config.CacheKey.SessionTimeSpentKey(token), 0, 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("token", token).Msg("Failed to cache time spent")
	}
	if quiz.DurationMinutes != nil {
		durKey := config.CacheKey.QuizDurationKey(quizID.String())
		if err := s.rdb.Set(ctx, durKey, *quiz.DurationMinutes, 0).Err(); err != nil {
			s.log.Warn().Err(err).Str("quiz_id", quizID.String()).Msg("Failed to cache duration")
		}
	}

	s.publishMonitor(ctx, quizID, ws.MonitorEvent{
		Event:            ws.EventSessionStarted,
		SessionToken:     token,
		ParticipantEmail: email,
		Timestamp:        time.Now(),
	})

	resp := &model.StartSessionResponse{
		Token:  session.Token,
		Status: model.SessionStatusActive,
	}
	if quiz.DurationMinutes != nil {
		expiresAt := session.StartedAt.Add(time.Duration(*quiz.DurationMinutes) * time.Minute)
		resp.ExpiresAt = &expiresAt
	}
	return resp, nil
}

// GetStatus returns the canonical snapshot for a session. When an ACTIVE
// session's budget has run out it is expired here, so a status poll is
// enough for clients to learn about expiry.
func (s *SessionService) GetStatus(ctx context.Context, token uuid.UUID) (*model.SessionSnapshot, error) {
	session, err := s.getSession(ctx, token)
	if err != nil {
		return nil, err
	}

	quiz, err := s.quizRepo.GetByID(ctx, session.QuizID)
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}

	timeSpent, err := s.confirmedTimeSpent(ctx, session)
	if err != nil {
		return nil, err
	}

	snapshot := &model.SessionSnapshot{
		Token:            session.Token,
		Status:           session.Status,
		TimeSpentSeconds: timeSpent,
		IsExpired:        session.Status == model.SessionStatusExpired,
		Quiz: model.QuizRef{
			ID:              quiz.ID,
			Title:           quiz.Title,
			DurationMinutes: quiz.DurationMinutes,
		},
	}

	if quiz.DurationMinutes != nil {
		remaining := *quiz.DurationMinutes*60 - timeSpent
		if remaining < 0 {
			remaining = 0
		}
		snapshot.RemainingTimeSeconds = &remaining

		if remaining == 0 && session.Status == model.SessionStatusActive {
			if err := s.sessionRepo.Expire(ctx, token); err != nil {
				return nil, fmt.Errorf("expire session: %w", err)
			}
			snapshot.Status = model.SessionStatusExpired
			snapshot.IsExpired = true
			s.publishMonitor(ctx, session.QuizID, ws.MonitorEvent{
				Event:            ws.EventSessionExpired,
				SessionToken:     token.String(),
				ParticipantEmail: session.ParticipantEmail,
				TimeSpentSeconds: timeSpent,
				Timestamp:        time.Now(),
			})
		}
	}

	return snapshot, nil
}

// Pause transitions ACTIVE → PAUSED. Pausing an already paused session is a
// no-op; terminal sessions reject the call.
func (s *SessionService) Pause(ctx context.Context, token uuid.UUID) error {
	session, err := s.getSession(ctx, token)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return ErrSessionTerminal
	}
	if session.Status == model.SessionStatusPaused {
		return nil
	}

	if err := s.sessionRepo.SetStatus(ctx, token, model.SessionStatusPaused); err != nil {
		return fmt.Errorf("pause session: %w", err)
	}

	s.publishMonitor(ctx, session.QuizID, ws.MonitorEvent{
		Event:            ws.EventSessionPaused,
		SessionToken:     token.String(),
		ParticipantEmail: session.ParticipantEmail,
		Timestamp:        time.Now(),
	})
	return nil
}

// Resume transitions PAUSED → ACTIVE. Wall-clock time spent paused never
// counts against the budget because remaining time derives from confirmed
// time spent only.
func (s *SessionService) Resume(ctx context.Context, token uuid.UUID) error {
	session, err := s.getSession(ctx, token)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return ErrSessionTerminal
	}
	if session.Status != model.SessionStatusPaused {
		return ErrSessionNotPaused
	}

	if err := s.sessionRepo.SetStatus(ctx, token, model.SessionStatusActive); err != nil {
		return fmt.Errorf("resume session: %w", err)
	}

	s.publishMonitor(ctx, session.QuizID, ws.MonitorEvent{
		Event:            ws.EventSessionResumed,
		SessionToken:     token.String(),
		ParticipantEmail: session.ParticipantEmail,
		Timestamp:        time.Now(),
	})
	return nil
}

// Complete marks the session COMPLETED. Idempotent: completing a session
// that already finished returns the recorded outcome with no error.
func (s *SessionService) Complete(ctx context.Context, token uuid.UUID) (*model.CompleteSessionResponse, error) {
	session, err := s.getSession(ctx, token)
	if err != nil {
		return nil, err
	}

	if session.Status.Terminal() {
		return s.completionResponse(ctx, session)
	}

	if err := s.sessionRepo.Complete(ctx, token, session.FinalScore); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}

	s.publishMonitor(ctx, session.QuizID, ws.MonitorEvent{
		Event:            ws.EventSessionCompleted,
		SessionToken:     token.String(),
		ParticipantEmail: session.ParticipantEmail,
		TimeSpentSeconds: session.TimeSpentSeconds,
		Timestamp:        time.Now(),
	})

	session, err = s.getSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.completionResponse(ctx, session)
}

// UpdateTime records a client's accumulated elapsed seconds. Stale pushes
// (lower than the confirmed value) are acknowledged but ignored, keeping the
// confirmed counter monotone. The durable write happens asynchronously
// through the time-sync worker queue.
func (s *SessionService) UpdateTime(ctx context.Context, token uuid.UUID, seconds int) error {
	session, err := s.getSession(ctx, token)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return ErrSessionTerminal
	}

	key := config.CacheKey.SessionTimeSpentKey(token.String())
	current, err := s.rdb.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get cached time spent: %w", err)
	}
	if seconds <= current {
		return nil
	}

	if err := s.rdb.Set(ctx, key, seconds, 0).Err(); err != nil {
		return fmt.Errorf("cache time spent: %w", err)
	}

	job, _ := json.Marshal(timeSyncJob{Token: token.String(), TimeSpentSeconds: seconds})
	if err := s.rdb.LPush(ctx, config.WorkerKey.PersistTimeQueue, job).Err(); err != nil {
		// The cache already holds the value; the sweeper and the next push
		// will converge, so a queue hiccup is not fatal.
		s.log.Warn().Err(err).Str("token", token.String()).Msg("Failed to enqueue time persist job")
	}

	s.publishMonitor(ctx, session.QuizID, ws.MonitorEvent{
		Event:            ws.EventTimeSynced,
		SessionToken:     token.String(),
		ParticipantEmail: session.ParticipantEmail,
		TimeSpentSeconds: seconds,
		Timestamp:        time.Now(),
	})
	return nil
}

// SaveAnswers enqueues a batch of in-progress answers for durable autosave
// and mirrors them in Redis for fast state rehydration.
func (s *SessionService) SaveAnswers(ctx context.Context, token uuid.UUID, answers map[string]string) error {
	session, err := s.getSession(ctx, token)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return ErrSessionTerminal
	}

	answersKey := config.CacheKey.SessionAnswersKey(token.String())
	fields := make(map[string]interface{}, len(answers))
	for k, v := range answers {
		fields[k] = v
	}
	if err := s.rdb.HSet(ctx, answersKey, fields).Err(); err != nil {
		return fmt.Errorf("cache answers: %w", err)
	}

	pipe := s.rdb.Pipeline()
	for k, v := range answers {
		job, _ := json.Marshal(answerJob{SessionID: session.ID.String(), QuestionKey: k, Answer: v})
		pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, job)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("token", token.String()).Msg("Failed to enqueue answer persist jobs")
	}
	return nil
}

// GetResults retrieves paginated participant results for a quiz.
func (s *SessionService) GetResults(ctx context.Context, quizID uuid.UUID, page, perPage int) ([]repository.SessionResult, int64, error) {
	return s.sessionRepo.ListByQuiz(ctx, quizID, page, perPage)
}

// timeSyncJob is the persist-queue payload consumed by the time-sync worker.
type timeSyncJob struct {
	Token            string `json:"token"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}

// answerJob is the persist-queue payload consumed by the autosave worker.
type answerJob struct {
	SessionID   string `json:"session_id"`
	QuestionKey string `json:"question_key"`
	Answer      string `json:"answer"`
}

func (s *SessionService) getSession(ctx context.Context, token uuid.UUID) (*model.QuizSession, error) {
	session, err := s.sessionRepo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// confirmedTimeSpent reads the hot Redis counter with a Postgres fallback.
// A cache miss self-heals so the next poll is fast again.
func (s *SessionService) confirmedTimeSpent(ctx context.Context, session *model.QuizSession) (int, error) {
	key := config.CacheKey.SessionTimeSpentKey(session.Token.String())

	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		_ = s.rdb.Set(ctx, key, session.TimeSpentSeconds, 0)
		return session.TimeSpentSeconds, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis error getting time spent: %w", err)
	}

	cached, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid time spent format in cache: %w", err)
	}
	// The row can be ahead of the cache after a worker flush on a fresh
	// Redis; take the larger of the two.
	if session.TimeSpentSeconds > cached {
		return session.TimeSpentSeconds, nil
	}
	return cached, nil
}

func (s *SessionService) completionResponse(ctx context.Context, session *model.QuizSession) (*model.CompleteSessionResponse, error) {
	resp := &model.CompleteSessionResponse{
		Token:       session.Token,
		FinalScore:  session.FinalScore,
		CompletedAt: session.FinishedAt,
	}
	if session.FinalScore != nil {
		quiz, err := s.quizRepo.GetByID(ctx, session.QuizID)
		if err == nil && quiz.PassingScore != nil {
			passed := *session.FinalScore >= *quiz.PassingScore
			resp.Passed = &passed
		}
	}
	return resp, nil
}

func (s *SessionService) publishMonitor(ctx context.Context, quizID uuid.UUID, event ws.MonitorEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	channel := config.CacheKey.QuizMonitorChannel(quizID.String())
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		s.log.Debug().Err(err).Str("channel", channel).Msg("Monitor publish failed")
	}
}
