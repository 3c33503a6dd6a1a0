package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kotoba-labs/shiken-backend/internal/response"
	"github.com/kotoba-labs/shiken-backend/internal/service"
)

// ResultHandler handles the teacher-facing result endpoints.
type ResultHandler struct {
	resultService *service.ResultService
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(resultService *service.ResultService) *ResultHandler {
	return &ResultHandler{resultService: resultService}
}

// GetExamResults godoc
// GET /api/v1/teacher/exams/:exam_id/results
// Lists completed attempts for an exam, best score then fastest time first.
func (h *ResultHandler) GetExamResults(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	results, err := h.resultService.GetExamResults(c.Request.Context(), examID, limit)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// GetExamResultForUser godoc
// GET /api/v1/teacher/exams/:exam_id/results/:user_id
// Returns one user's latest attempt at an exam, with full scored answers.
func (h *ResultHandler) GetExamResultForUser(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.resultService.GetExamResultForUser(c.Request.Context(), examID, userID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, detail)
}
