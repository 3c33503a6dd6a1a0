package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kotoba-labs/shiken-backend/internal/model"
)

// ExamRepository handles exam catalog data access. The exam service treats
// the catalog as read-only; Create exists for the seed CLI and tests.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, title, description, level, time_limit_minutes,
	passing_score, allowed_attempts, tags, is_published, questions,
	created_at, updated_at`

func scanExam(row pgx.Row) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Level, &e.TimeLimitMinutes,
		&e.PassingScore, &e.AllowedAttempts, &e.Tags, &e.IsPublished,
		&e.Questions, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves a full exam definition, answer key included.
// Returns (nil, nil) when the exam does not exist.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e, err := scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// Create inserts a new exam definition.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, description, level, time_limit_minutes,
		        passing_score, allowed_attempts, tags, is_published, questions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Description, e.Level, e.TimeLimitMinutes,
		e.PassingScore, e.AllowedAttempts, e.Tags, e.IsPublished, e.Questions,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// ListPublished retrieves published exam summaries with optional level, tag
// and title-search filters, newest first.
func (r *ExamRepository) ListPublished(ctx context.Context, filters model.ExamFilters, limit, offset int) ([]model.ExamSummary, int, error) {
	baseQuery := ` FROM exams WHERE is_published = TRUE`
	args := []any{}

	if filters.Level != "" {
		args = append(args, filters.Level)
		baseQuery += fmt.Sprintf(" AND level = $%d", len(args))
	}
	if filters.Tag != "" {
		args = append(args, filters.Tag)
		baseQuery += fmt.Sprintf(" AND $%d = ANY(tags)", len(args))
	}
	if filters.SearchTerm != "" {
		args = append(args, "%"+filters.SearchTerm+"%")
		baseQuery += fmt.Sprintf(" AND title ILIKE $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, title, description, level, time_limit_minutes,
		       allowed_attempts, tags,
		       (SELECT COALESCE(SUM(jsonb_array_length(grp->'child_questions')), 0)
		        FROM jsonb_array_elements(questions) AS grp) AS question_count,
		       created_at
		` + baseQuery + `
		ORDER BY created_at DESC
		LIMIT $` + fmt.Sprintf("%d", len(args)+1) + ` OFFSET $` + fmt.Sprintf("%d", len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.ExamSummary
	for rows.Next() {
		var s model.ExamSummary
		if err := rows.Scan(
			&s.ID, &s.Title, &s.Description, &s.Level, &s.TimeLimitMinutes,
			&s.AllowedAttempts, &s.Tags, &s.QuestionCount, &s.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		exams = append(exams, s)
	}

	return exams, total, rows.Err()
}
