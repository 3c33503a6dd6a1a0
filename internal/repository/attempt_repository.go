package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kotoba-labs/shiken-backend/internal/model"
)

// ErrDuplicateAttempt is returned by Create when another in-progress attempt
// for the same (user, exam) pair already exists. The partial unique index on
// attempts enforces the invariant; callers resolve the race by re-fetching.
var ErrDuplicateAttempt = errors.New("an in-progress attempt already exists for this user and exam")

const attemptColumns = `id, user_id, exam_id, start_time, end_time, status,
	draft_answers, answers, total_score, is_passed, time_spent_seconds,
	last_activity, last_saved, marked_questions`

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(
		&a.ID, &a.UserID, &a.ExamID, &a.StartTime, &a.EndTime, &a.Status,
		&a.DraftAnswers, &a.Answers, &a.TotalScore, &a.IsPassed,
		&a.TimeSpentSeconds, &a.LastActivity, &a.LastSaved, &a.MarkedQuestions,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new in-progress attempt. The insert is a no-op when an
// in-progress attempt already exists, in which case ErrDuplicateAttempt is
// returned and the caller should fetch the existing row instead.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO attempts (user_id, exam_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, exam_id) WHERE status = 'in-progress' DO NOTHING
		 RETURNING id, start_time, last_activity`,
		a.UserID, a.ExamID, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.StartTime, &a.LastActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateAttempt
	}
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	a.Status = model.AttemptStatusInProgress
	return nil
}

// FindByID retrieves an attempt by ID. Returns (nil, nil) when absent.
func (r *AttemptRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// FindInProgress retrieves the single in-progress attempt for a (user, exam)
// pair, or (nil, nil) when none exists.
func (r *AttemptRepository) FindInProgress(ctx context.Context, userID, examID uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE user_id = $1 AND exam_id = $2 AND status = $3`,
		userID, examID, model.AttemptStatusInProgress))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// CountCompleted counts completed attempts for a (user, exam) pair.
func (r *AttemptRepository) CountCompleted(ctx context.Context, userID, examID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts
		 WHERE user_id = $1 AND exam_id = $2 AND status = $3`,
		userID, examID, model.AttemptStatusCompleted,
	).Scan(&count)
	return count, err
}

// Complete applies the terminal patch conditionally: only an attempt still
// in progress transitions. Returns (nil, nil) when the condition failed,
// i.e. the attempt is unknown or already terminal.
func (r *AttemptRepository) Complete(ctx context.Context, id uuid.UUID, patch model.CompletionPatch) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE attempts
		 SET status = $2, end_time = $3, time_spent_seconds = $4,
		     total_score = $5, is_passed = $6, answers = $7, last_activity = $3
		 WHERE id = $1 AND status = $8
		 RETURNING `+attemptColumns,
		id, model.AttemptStatusCompleted, patch.EndTime, patch.TimeSpentSeconds,
		patch.TotalScore, patch.IsPassed, patch.Answers, model.AttemptStatusInProgress))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// SaveProgress overwrites the draft answers (last-write-wins) and stamps
// lastSaved/lastActivity. Conditional on the attempt still being in progress
// so a racing Submit cannot be resurrected with stale answers.
func (r *AttemptRepository) SaveProgress(ctx context.Context, id uuid.UUID, answers []model.AnswerGroupInput, now time.Time) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE attempts
		 SET draft_answers = $2, last_saved = $3, last_activity = $3
		 WHERE id = $1 AND status = $4
		 RETURNING `+attemptColumns,
		id, answers, now, model.AttemptStatusInProgress))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// MarkForReview adds a question ID to the attempt's review set. Marking an
// already-marked question is a no-op. Returns (nil, nil) for unknown attempts.
func (r *AttemptRepository) MarkForReview(ctx context.Context, id uuid.UUID, questionID string) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE attempts
		 SET marked_questions = CASE
		         WHEN $2 = ANY(marked_questions) THEN marked_questions
		         ELSE array_append(marked_questions, $2)
		     END,
		     last_activity = NOW()
		 WHERE id = $1
		 RETURNING `+attemptColumns,
		id, questionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ListByUser retrieves a user's attempt history joined with exam metadata,
// newest first, with optional exam/status filters and pagination.
func (r *AttemptRepository) ListByUser(ctx context.Context, userID uuid.UUID, filters model.AttemptFilters, limit, offset int) ([]model.AttemptSummary, int, error) {
	baseQuery := `
		FROM attempts a
		JOIN exams e ON a.exam_id = e.id
		WHERE a.user_id = $1
	`
	args := []any{userID}

	if filters.ExamID != uuid.Nil {
		args = append(args, filters.ExamID)
		baseQuery += fmt.Sprintf(" AND a.exam_id = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		baseQuery += fmt.Sprintf(" AND a.status = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT a.id, a.exam_id, e.title, e.level, a.start_time, a.end_time,
		       a.status, a.total_score, a.is_passed, a.time_spent_seconds
		` + baseQuery + `
		ORDER BY a.start_time DESC
		LIMIT $` + fmt.Sprintf("%d", len(args)+1) + ` OFFSET $` + fmt.Sprintf("%d", len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var summaries []model.AttemptSummary
	for rows.Next() {
		var s model.AttemptSummary
		if err := rows.Scan(
			&s.ID, &s.ExamID, &s.ExamTitle, &s.ExamLevel, &s.StartTime,
			&s.EndTime, &s.Status, &s.TotalScore, &s.IsPassed, &s.TimeSpent,
		); err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, s)
	}

	return summaries, total, rows.Err()
}

// ListCompletedByExam retrieves completed attempts for an exam joined with
// user identity, best score first and faster time breaking ties.
func (r *AttemptRepository) ListCompletedByExam(ctx context.Context, examID uuid.UUID, limit int) ([]model.ExamResultRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.user_id, u.name, u.email, a.id, a.total_score, a.is_passed,
		        a.time_spent_seconds, a.status, a.start_time, a.end_time
		 FROM attempts a
		 JOIN users u ON a.user_id = u.id
		 WHERE a.exam_id = $1 AND a.status = $2
		 ORDER BY a.total_score DESC, a.time_spent_seconds ASC
		 LIMIT $3`,
		examID, model.AttemptStatusCompleted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.ExamResultRow
	for rows.Next() {
		var row model.ExamResultRow
		if err := rows.Scan(
			&row.UserID, &row.UserName, &row.UserEmail, &row.AttemptID,
			&row.TotalScore, &row.IsPassed, &row.TimeSpent, &row.Status,
			&row.StartTime, &row.EndTime,
		); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// FindLatestByExamAndUser retrieves a user's most recent attempt at an exam,
// or (nil, nil) when the user never attempted it.
func (r *AttemptRepository) FindLatestByExamAndUser(ctx context.Context, examID, userID uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE exam_id = $1 AND user_id = $2
		 ORDER BY start_time DESC
		 LIMIT 1`,
		examID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}
