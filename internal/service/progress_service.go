package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kotoba-labs/shiken-backend/internal/model"
	"github.com/rs/zerolog"
)

// ProgressService handles the durability checkpoints of an in-progress
// attempt: autosaved draft answers and review marks. It never scores.
type ProgressService struct {
	catalog ExamCatalog
	store   AttemptStore
	log     zerolog.Logger
}

// NewProgressService creates a new ProgressService.
func NewProgressService(catalog ExamCatalog, store AttemptStore, log zerolog.Logger) *ProgressService {
	return &ProgressService{
		catalog: catalog,
		store:   store,
		log:     log.With().Str("component", "progress_service").Logger(),
	}
}

// SaveResult reports when a progress checkpoint was persisted.
type SaveResult struct {
	LastSaved time.Time `json:"last_saved"`
}

// SaveProgress overwrites the attempt's draft answers, last write wins.
// Rejected once the attempt is terminal so a racing submit cannot be
// shadowed by stale answers.
func (s *ProgressService) SaveProgress(ctx context.Context, attemptID, userID uuid.UUID, answers []model.AnswerGroupInput) (*SaveResult, error) {
	if err := s.checkOwner(ctx, attemptID, userID); err != nil {
		return nil, err
	}

	updated, err := s.store.SaveProgress(ctx, attemptID, answers, time.Now())
	if err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}
	if updated == nil {
		// Either no such attempt or it already completed; look once to tell
		// the caller which.
		attempt, findErr := s.store.FindByID(ctx, attemptID)
		if findErr != nil {
			return nil, fmt.Errorf("find attempt: %w", findErr)
		}
		if attempt == nil {
			return nil, ErrAttemptNotFound
		}
		return nil, ErrAttemptCompleted
	}

	return &SaveResult{LastSaved: *updated.LastSaved}, nil
}

// Progress combines answer counts with the advisory timer state.
//
// Both counts use child-question granularity: answered counts draft child
// answers with a non-empty value, total counts the exam's child questions.
type Progress struct {
	AttemptID         uuid.UUID           `json:"attempt_id"`
	AnsweredQuestions int                 `json:"answered_questions"`
	TotalQuestions    int                 `json:"total_questions"`
	LastSaved         *time.Time          `json:"last_saved,omitempty"`
	RemainingSeconds  int64               `json:"remaining_time"`
	TimeSpentSeconds  int64               `json:"time_spent"`
	Status            model.AttemptStatus `json:"status"`
}

// GetProgress reports how far along an attempt is.
func (s *ProgressService) GetProgress(ctx context.Context, attemptID, userID uuid.UUID) (*Progress, error) {
	attempt, err := s.store.FindByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("find attempt: %w", err)
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}
	if userID != uuid.Nil && attempt.UserID != userID {
		return nil, ErrNotAttemptOwner
	}

	exam, err := s.catalog.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return nil, ErrExamNotFound
	}

	answered := 0
	for _, g := range attempt.DraftAnswers {
		for _, ca := range g.ChildAnswers {
			if ca.UserAnswer != "" {
				answered++
			}
		}
	}

	timeInfo := RemainingTime(attempt.StartTime, exam.TimeLimitMinutes, time.Now())

	return &Progress{
		AttemptID:         attempt.ID,
		AnsweredQuestions: answered,
		TotalQuestions:    exam.TotalQuestions(),
		LastSaved:         attempt.LastSaved,
		RemainingSeconds:  timeInfo.RemainingSeconds,
		TimeSpentSeconds:  timeInfo.TimeSpentSeconds,
		Status:            attempt.Status,
	}, nil
}

// ReviewMarks is the attempt's current set of questions flagged for review.
type ReviewMarks struct {
	MarkedQuestions []string `json:"marked_questions"`
}

// MarkForReview flags a question for later review. Re-marking a question is
// a no-op, not an error.
func (s *ProgressService) MarkForReview(ctx context.Context, attemptID, userID uuid.UUID, questionID string) (*ReviewMarks, error) {
	if err := s.checkOwner(ctx, attemptID, userID); err != nil {
		return nil, err
	}

	updated, err := s.store.MarkForReview(ctx, attemptID, questionID)
	if err != nil {
		return nil, fmt.Errorf("mark for review: %w", err)
	}
	if updated == nil {
		return nil, ErrAttemptNotFound
	}

	marks := updated.MarkedQuestions
	if marks == nil {
		marks = []string{}
	}
	return &ReviewMarks{MarkedQuestions: marks}, nil
}

// checkOwner rejects writes to another user's attempt. The owner of an
// attempt never changes, so checking before the conditional update is safe.
func (s *ProgressService) checkOwner(ctx context.Context, attemptID, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return nil
	}
	attempt, err := s.store.FindByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("find attempt: %w", err)
	}
	if attempt == nil {
		return ErrAttemptNotFound
	}
	if attempt.UserID != userID {
		return ErrNotAttemptOwner
	}
	return nil
}
