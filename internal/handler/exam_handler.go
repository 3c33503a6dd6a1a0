package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kotoba-labs/shiken-backend/internal/model"
	"github.com/kotoba-labs/shiken-backend/internal/response"
	"github.com/kotoba-labs/shiken-backend/internal/service"
	"github.com/kotoba-labs/shiken-backend/internal/validator"
)

// ExamHandler handles the public exam catalog endpoints.
type ExamHandler struct {
	examService   *service.ExamService
	resultService *service.ResultService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, resultService *service.ResultService) *ExamHandler {
	return &ExamHandler{
		examService:   examService,
		resultService: resultService,
	}
}

type listExamsQuery struct {
	Level   string `form:"level" json:"level" binding:"omitempty,jlpt_level"`
	Tag     string `form:"tag" json:"tag"`
	Search  string `form:"q" json:"q"`
	Page    int    `form:"page" json:"page"`
	PerPage int    `form:"per_page" json:"per_page"`
}

// ListExams godoc
// GET /api/v1/exams
// Lists published exams with optional level, tag, and title filters.
func (h *ExamHandler) ListExams(c *gin.Context) {
	var q listExamsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	filters := model.ExamFilters{
		Level:      model.ExamLevel(q.Level),
		Tag:        q.Tag,
		SearchTerm: q.Search,
	}

	exams, pagination, err := h.examService.ListPublished(c.Request.Context(), filters, q.Page, q.PerPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// Leaderboard godoc
// GET /api/v1/exams/:exam_id/leaderboard
// Returns the best completed scores for an exam, best first.
func (h *ExamHandler) Leaderboard(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	entries, err := h.resultService.Leaderboard(c.Request.Context(), examID, limit)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"leaderboard": entries})
}
