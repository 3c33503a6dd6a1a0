package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kotoba-labs/shiken-backend/internal/model"
)

// ExamCatalog is the read-only exam definition provider the attempt engine
// consults. Lookups return (nil, nil) for unknown exams.
type ExamCatalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// AttemptStore is the persistence port for attempt records. Find and update
// operations return (nil, nil) when no row matches; Create returns
// repository.ErrDuplicateAttempt when the at-most-one-in-progress invariant
// blocks the insert.
type AttemptStore interface {
	Create(ctx context.Context, a *model.Attempt) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	FindInProgress(ctx context.Context, userID, examID uuid.UUID) (*model.Attempt, error)
	CountCompleted(ctx context.Context, userID, examID uuid.UUID) (int, error)
	Complete(ctx context.Context, id uuid.UUID, patch model.CompletionPatch) (*model.Attempt, error)
	SaveProgress(ctx context.Context, id uuid.UUID, answers []model.AnswerGroupInput, now time.Time) (*model.Attempt, error)
	MarkForReview(ctx context.Context, id uuid.UUID, questionID string) (*model.Attempt, error)
}
