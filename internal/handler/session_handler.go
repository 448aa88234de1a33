package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quizdesk/quizdesk-backend/internal/model"
	"github.com/quizdesk/quizdesk-backend/internal/response"
	"github.com/quizdesk/quizdesk-backend/internal/service"
	"github.com/quizdesk/quizdesk-backend/internal/validator"
)

// SessionHandler exposes the session authority contract consumed by the
// client-side session subsystem: start, status, pause, resume, complete,
// time push and answer autosave.
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// Start godoc
// POST /api/v1/sessions
// Creates a session; rejects a second open attempt for the same pair.
func (h *SessionHandler) Start(c *gin.Context) {
	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.sessionService.Start(c.Request.Context(), req.QuizID, req.ParticipantEmail)
	if err != nil {
		h.failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// GetStatus godoc
// GET /api/v1/sessions/:token
// Returns the canonical session snapshot, expiring overdue sessions.
func (h *SessionHandler) GetStatus(c *gin.Context) {
	token, ok := h.parseToken(c)
	if !ok {
		return
	}

	snapshot, err := h.sessionService.GetStatus(c.Request.Context(), token)
	if err != nil {
		h.failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, snapshot)
}

// Pause godoc
// POST /api/v1/sessions/:token/pause
func (h *SessionHandler) Pause(c *gin.Context) {
	token, ok := h.parseToken(c)
	if !ok {
		return
	}

	if err := h.sessionService.Pause(c.Request.Context(), token); err != nil {
		h.failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": model.SessionStatusPaused})
}

// Resume godoc
// POST /api/v1/sessions/:token/resume
func (h *SessionHandler) Resume(c *gin.Context) {
	token, ok := h.parseToken(c)
	if !ok {
		return
	}

	if err := h.sessionService.Resume(c.Request.Context(), token); err != nil {
		h.failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": model.SessionStatusActive})
}

// Complete godoc
// POST /api/v1/sessions/:token/complete
// Idempotent submit.
func (h *SessionHandler) Complete(c *gin.Context) {
	token, ok := h.parseToken(c)
	if !ok {
		return
	}

	result, err := h.sessionService.Complete(c.Request.Context(), token)
	if err != nil {
		h.failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// UpdateTime godoc
// PUT /api/v1/sessions/:token/time
// Best-effort elapsed-time push from the local ticker.
func (h *SessionHandler) UpdateTime(c *gin.Context) {
	token, ok := h.parseToken(c)
	if !ok {
		return
	}

	var req model.UpdateTimeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.UpdateTime(c.Request.Context(), token, req.TimeSpentSeconds); err != nil {
		h.failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"time_spent_seconds": req.TimeSpentSeconds})
}

// SaveAnswers godoc
// PUT /api/v1/sessions/:token/answers
// Autosaves in-progress answers via the persist queue.
func (h *SessionHandler) SaveAnswers(c *gin.Context) {
	token, ok := h.parseToken(c)
	if !ok {
		return
	}

	var req model.SaveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.SaveAnswers(c.Request.Context(), token, req.Answers); err != nil {
		h.failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": len(req.Answers)})
}

func (h *SessionHandler) parseToken(c *gin.Context) (uuid.UUID, bool) {
	token, err := uuid.Parse(c.Param("token"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return token, true
}

func (h *SessionHandler) failSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrQuizNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrQuizNotAvailable):
		response.Fail(c, http.StatusBadRequest, response.ErrQuizNotAvailable)
	case errors.Is(err, service.ErrSessionConflict):
		response.Fail(c, http.StatusConflict, response.ErrSessionConflict)
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrSessionTerminal):
		response.Fail(c, http.StatusConflict, response.ErrSessionTerminal)
	case errors.Is(err, service.ErrSessionNotPaused):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotPaused)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
