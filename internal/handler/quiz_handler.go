package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quizdesk/quizdesk-backend/internal/model"
	"github.com/quizdesk/quizdesk-backend/internal/response"
	"github.com/quizdesk/quizdesk-backend/internal/service"
	"github.com/quizdesk/quizdesk-backend/internal/validator"
)

// QuizHandler handles admin quiz management endpoints.
type QuizHandler struct {
	quizService    *service.QuizService
	sessionService *service.SessionService
}

// NewQuizHandler creates a new QuizHandler.
func NewQuizHandler(quizService *service.QuizService, sessionService *service.SessionService) *QuizHandler {
	return &QuizHandler{quizService: quizService, sessionService: sessionService}
}

// ListQuizzes godoc
// GET /api/v1/admin/quizzes
func (h *QuizHandler) ListQuizzes(c *gin.Context) {
	page, perPage := paginationParams(c)

	quizzes, total, err := h.quizService.List(c.Request.Context(), page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if quizzes == nil {
		quizzes = []model.Quiz{}
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"quizzes": quizzes}, buildPagination(page, perPage, total))
}

// GetQuiz godoc
// GET /api/v1/admin/quizzes/:id
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	quiz, err := h.quizService.Get(c.Request.Context(), id)
	if err != nil {
		h.failQuizError(c, err)
		return
	}

	response.Success(c, http.StatusOK, quiz)
}

// CreateQuiz godoc
// POST /api/v1/admin/quizzes
func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	var req model.CreateQuizRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	quiz, err := h.quizService.Create(c.Request.Context(), &req)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, quiz)
}

// UpdateQuiz godoc
// PUT /api/v1/admin/quizzes/:id
func (h *QuizHandler) UpdateQuiz(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req model.UpdateQuizRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	quiz, err := h.quizService.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.failQuizError(c, err)
		return
	}

	response.Success(c, http.StatusOK, quiz)
}

// DeleteQuiz godoc
// DELETE /api/v1/admin/quizzes/:id
func (h *QuizHandler) DeleteQuiz(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.quizService.Delete(c.Request.Context(), id); err != nil {
		h.failQuizError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": id})
}

// PublishQuiz godoc
// POST /api/v1/admin/quizzes/:id/publish
func (h *QuizHandler) PublishQuiz(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	quiz, err := h.quizService.Publish(c.Request.Context(), id)
	if err != nil {
		h.failQuizError(c, err)
		return
	}

	response.Success(c, http.StatusOK, quiz)
}

// ArchiveQuiz godoc
// POST /api/v1/admin/quizzes/:id/archive
func (h *QuizHandler) ArchiveQuiz(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	quiz, err := h.quizService.Archive(c.Request.Context(), id)
	if err != nil {
		h.failQuizError(c, err)
		return
	}

	response.Success(c, http.StatusOK, quiz)
}

// GetResults godoc
// GET /api/v1/admin/quizzes/:id/results
func (h *QuizHandler) GetResults(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	page, perPage := paginationParams(c)

	results, total, err := h.sessionService.GetResults(c.Request.Context(), id, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": results}, buildPagination(page, perPage, total))
}

func (h *QuizHandler) failQuizError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrQuizNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrQuizNotDraft):
		response.Fail(c, http.StatusBadRequest, response.ErrQuizNotDraft)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func paginationParams(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

func buildPagination(page, perPage int, total int64) *response.Pagination {
	totalPages := int(total) / perPage
	if int(total)%perPage != 0 {
		totalPages++
	}
	return &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	}
}
