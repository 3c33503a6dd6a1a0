package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/kotoba-labs/shiken-backend/internal/model"
	"github.com/kotoba-labs/shiken-backend/internal/repository"
	"github.com/kotoba-labs/shiken-backend/internal/response"
	"github.com/rs/zerolog"
)

// ExamService exposes the read-only exam catalog to the lobby: published
// exam listings and full definitions for trusted callers. Content authoring
// happens outside this service (seed CLI, migrations).
type ExamService struct {
	examRepo *repository.ExamRepository
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo *repository.ExamRepository, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves a full exam definition, answer key included. Only
// teacher-facing callers may expose the result; students get ForTaking views.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exam == nil {
		return nil, ErrExamNotFound
	}
	return exam, nil
}

// ListPublished retrieves published exam summaries for the lobby.
func (s *ExamService) ListPublished(ctx context.Context, filters model.ExamFilters, page, perPage int) ([]model.ExamSummary, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	exams, total, err := s.examRepo.ListPublished(ctx, filters, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}

	if exams == nil {
		exams = []model.ExamSummary{}
	}

	return exams, response.NewPagination(page, perPage, total), nil
}
