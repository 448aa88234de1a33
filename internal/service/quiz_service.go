package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/quizdesk/quizdesk-backend/internal/config"
	"github.com/quizdesk/quizdesk-backend/internal/model"
	"github.com/quizdesk/quizdesk-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrQuizNotDraft is returned when publishing a quiz that is not in DRAFT.
var ErrQuizNotDraft = errors.New("quiz is not in draft status")

// QuizService handles quiz administration.
type QuizService struct {
	quizRepo *repository.QuizRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewQuizService creates a new QuizService.
func NewQuizService(quizRepo *repository.QuizRepository, rdb *redis.Client, log zerolog.Logger) *QuizService {
	return &QuizService{
		quizRepo: quizRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "quiz_service").Logger(),
	}
}

// Get retrieves a quiz by ID.
func (s *QuizService) Get(ctx context.Context, id uuid.UUID) (*model.Quiz, error) {
	quiz, err := s.quizRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("get quiz: %w", err)
	}
	return quiz, nil
}

// List retrieves paginated quizzes.
func (s *QuizService) List(ctx context.Context, page, perPage int) ([]model.Quiz, int64, error) {
	return s.quizRepo.List(ctx, page, perPage)
}

// Create inserts a new DRAFT quiz.
func (s *QuizService) Create(ctx context.Context, req *model.CreateQuizRequest) (*model.Quiz, error) {
	quiz := &model.Quiz{
		Title:           req.Title,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		PassingScore:    req.PassingScore,
		Status:          model.QuizStatusDraft,
	}
	if err := s.quizRepo.Create(ctx, quiz); err != nil {
		return nil, fmt.Errorf("create quiz: %w", err)
	}
	return quiz, nil
}

// Update applies partial changes to a quiz.
func (s *QuizService) Update(ctx context.Context, id uuid.UUID, req *model.UpdateQuizRequest) (*model.Quiz, error) {
	quiz, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != "" {
		quiz.Title = req.Title
	}
	if req.Description != nil {
		quiz.Description = *req.Description
	}
	if req.DurationMinutes != nil {
		quiz.DurationMinutes = req.DurationMinutes
	}
	if req.PassingScore != nil {
		quiz.PassingScore = req.PassingScore
	}

	if err := s.quizRepo.Update(ctx, quiz); err != nil {
		return nil, fmt.Errorf("update quiz: %w", err)
	}

	// Keep the cached duration in sync for already-running sessions.
	if quiz.Status == model.QuizStatusPublished && quiz.DurationMinutes != nil {
		s.cacheDuration(ctx, quiz)
	}
	return quiz, nil
}

// Delete removes a quiz and its sessions.
func (s *QuizService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.quizRepo.Delete(ctx, id)
}

// Publish transitions DRAFT → PUBLISHED and prewarms the duration cache.
func (s *QuizService) Publish(ctx context.Context, id uuid.UUID) (*model.Quiz, error) {
	quiz, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if quiz.Status != model.QuizStatusDraft {
		return nil, ErrQuizNotDraft
	}

	if err := s.quizRepo.SetStatus(ctx, id, model.QuizStatusPublished); err != nil {
		return nil, fmt.Errorf("publish quiz: %w", err)
	}
	quiz.Status = model.QuizStatusPublished

	s.cacheDuration(ctx, quiz)
	return quiz, nil
}

// Archive transitions a quiz to ARCHIVED so no new sessions can start.
func (s *QuizService) Archive(ctx context.Context, id uuid.UUID) (*model.Quiz, error) {
	quiz, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.quizRepo.SetStatus(ctx, id, model.QuizStatusArchived); err != nil {
		return nil, fmt.Errorf("archive quiz: %w", err)
	}
	quiz.Status = model.QuizStatusArchived
	return quiz, nil
}

// PrewarmCaches loads every published quiz's duration into Redis before the
// server accepts traffic, avoiding lazy-load races under a thundering herd.
func (s *QuizService) PrewarmCaches(ctx context.Context) error {
	quizzes, _, err := s.quizRepo.List(ctx, 1, 1000)
	if err != nil {
		return fmt.Errorf("list quizzes: %w", err)
	}
	warmed := 0
	for i := range quizzes {
		q := &quizzes[i]
		if q.Status != model.QuizStatusPublished || q.DurationMinutes == nil {
			continue
		}
		s.cacheDuration(ctx, q)
		warmed++
	}
	s.log.Info().Int("count", warmed).Msg("Prewarmed quiz duration cache")
	return nil
}

func (s *QuizService) cacheDuration(ctx context.Context, quiz *model.Quiz) {
	if quiz.DurationMinutes == nil {
		return
	}
	key := config.CacheKey.QuizDurationKey(quiz.ID.String())
	if err := s.rdb.Set(ctx, key, *quiz.DurationMinutes, 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("quiz_id", quiz.ID.String()).Msg("Failed to cache duration")
	}
}
