package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kotoba-labs/shiken-backend/internal/middleware"
	"github.com/kotoba-labs/shiken-backend/internal/model"
	"github.com/kotoba-labs/shiken-backend/internal/response"
	"github.com/kotoba-labs/shiken-backend/internal/service"
	"github.com/kotoba-labs/shiken-backend/internal/validator"
)

// AttemptHandler handles the attempt lifecycle endpoints: taking, starting,
// autosaving, submitting, and reviewing results.
type AttemptHandler struct {
	attemptService  *service.AttemptService
	progressService *service.ProgressService
	resultService   *service.ResultService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, progressService *service.ProgressService, resultService *service.ResultService) *AttemptHandler {
	return &AttemptHandler{
		attemptService:  attemptService,
		progressService: progressService,
		resultService:   resultService,
	}
}

// GetExamForTaking godoc
// GET /api/v1/exams/:exam_id/take
// Returns the exam without answer keys, plus resume info for an in-progress attempt.
func (h *AttemptHandler) GetExamForTaking(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	view, err := h.attemptService.GetForTaking(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// StartAttempt godoc
// POST /api/v1/exams/:exam_id/start
// Starts a timed attempt, or resumes the user's in-progress one.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.attemptService.Start(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, result)
}

// submitRequest allows an empty answer set: walking out of an exam is a
// valid, zero-scored submission.
type submitRequest struct {
	Answers []model.AnswerGroupInput `json:"answers" binding:"dive"`
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:attempt_id/submit
// Scores the answers and completes the attempt. Exactly one submit wins.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req submitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.UserID, req.Answers)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

type saveProgressRequest struct {
	Answers []model.AnswerGroupInput `json:"answers" binding:"dive"`
}

// SaveProgress godoc
// PUT /api/v1/attempts/:attempt_id/progress
// Overwrites the draft answers of an in-progress attempt.
func (h *AttemptHandler) SaveProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req saveProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.progressService.SaveProgress(c.Request.Context(), attemptID, claims.UserID, req.Answers)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetProgress godoc
// GET /api/v1/attempts/:attempt_id/progress
// Reports answered counts and the advisory timer state.
func (h *AttemptHandler) GetProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	progress, err := h.progressService.GetProgress(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, progress)
}

type markReviewRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
}

// MarkForReview godoc
// POST /api/v1/attempts/:attempt_id/review
// Flags a question for later review; re-marking is a no-op.
func (h *AttemptHandler) MarkForReview(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req markReviewRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	marks, err := h.progressService.MarkForReview(c.Request.Context(), attemptID, claims.UserID, req.QuestionID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, marks)
}

// RemainingTime godoc
// GET /api/v1/attempts/:attempt_id/time
// Reports the advisory timer state of an in-progress attempt.
func (h *AttemptHandler) RemainingTime(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	timeInfo, err := h.attemptService.RemainingTimeFor(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, timeInfo)
}

// GetResult godoc
// GET /api/v1/attempts/:attempt_id
// Returns the scored result of the caller's own attempt.
func (h *AttemptHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.resultService.GetResult(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// GetHistory godoc
// GET /api/v1/me/attempts
// Lists the caller's attempts, newest first.
func (h *AttemptHandler) GetHistory(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	filters := model.AttemptFilters{
		Status: model.AttemptStatus(c.Query("status")),
	}
	if examIDStr := c.Query("exam_id"); examIDStr != "" {
		examID, err := uuid.Parse(examIDStr)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		filters.ExamID = examID
	}

	attempts, pagination, err := h.resultService.GetHistory(c.Request.Context(), claims.UserID, filters, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": attempts}, pagination)
}

// failAttemptError maps attempt engine errors to API responses.
func failAttemptError(c *gin.Context, err error) {
	var limitErr *service.AttemptLimitError
	switch {
	case errors.Is(err, service.ErrExamNotFound), errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusBadRequest, response.ErrExamNotAvailable)
	case errors.Is(err, service.ErrAttemptCompleted):
		response.Fail(c, http.StatusConflict, response.ErrAttemptCompleted)
	case errors.Is(err, service.ErrNotAttemptOwner):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.As(err, &limitErr):
		response.Fail(c, http.StatusConflict, response.ErrAttemptLimitReached)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
