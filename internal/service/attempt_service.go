package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kotoba-labs/shiken-backend/internal/config"
	"github.com/kotoba-labs/shiken-backend/internal/model"
	"github.com/kotoba-labs/shiken-backend/internal/repository"
	"github.com/kotoba-labs/shiken-backend/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AttemptService governs the attempt lifecycle: starting (or resuming) a
// timed run at an exam, and the single terminal transition at submission.
type AttemptService struct {
	catalog ExamCatalog
	store   AttemptStore
	rdb     *redis.Client
	log     zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(catalog ExamCatalog, store AttemptStore, rdb *redis.Client, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		catalog: catalog,
		store:   store,
		rdb:     rdb,
		log:     log.With().Str("component", "attempt_service").Logger(),
	}
}

// StartResult is the response to a successful Start call.
type StartResult struct {
	AttemptID uuid.UUID            `json:"attempt_id"`
	StartTime time.Time            `json:"start_time"`
	Resumed   bool                 `json:"resumed"`
	Exam      *model.ExamForTaking `json:"exam"`
}

// Start creates a new in-progress attempt for (user, exam), or resumes the
// existing one unchanged. Attempt limits count completed attempts only; zero
// allowed attempts means unlimited.
func (s *AttemptService) Start(ctx context.Context, examID, userID uuid.UUID) (*StartResult, error) {
	exam, err := s.catalog.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return nil, ErrExamNotFound
	}
	if !exam.IsPublished {
		return nil, ErrExamNotAvailable
	}

	// Idempotent resume: an in-progress attempt wins over any new start.
	existing, err := s.store.FindInProgress(ctx, userID, examID)
	if err != nil {
		return nil, fmt.Errorf("find in-progress attempt: %w", err)
	}
	if existing != nil {
		s.cacheStartTime(ctx, existing, exam)
		return &StartResult{
			AttemptID: existing.ID,
			StartTime: existing.StartTime,
			Resumed:   true,
			Exam:      exam.ForTaking(),
		}, nil
	}

	if exam.AllowedAttempts > 0 {
		completed, err := s.store.CountCompleted(ctx, userID, examID)
		if err != nil {
			return nil, fmt.Errorf("count completed attempts: %w", err)
		}
		if completed >= exam.AllowedAttempts {
			return nil, &AttemptLimitError{Limit: exam.AllowedAttempts}
		}
	}

	attempt := &model.Attempt{
		UserID: userID,
		ExamID: examID,
		Status: model.AttemptStatusInProgress,
	}
	if err := s.store.Create(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrDuplicateAttempt) {
			// Lost the resume-or-create race; the winner's attempt is ours.
			winner, fetchErr := s.store.FindInProgress(ctx, userID, examID)
			if fetchErr != nil || winner == nil {
				return nil, fmt.Errorf("concurrent start detected, refetch failed: %w", fetchErr)
			}
			s.cacheStartTime(ctx, winner, exam)
			return &StartResult{
				AttemptID: winner.ID,
				StartTime: winner.StartTime,
				Resumed:   true,
				Exam:      exam.ForTaking(),
			}, nil
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.cacheStartTime(ctx, attempt, exam)

	return &StartResult{
		AttemptID: attempt.ID,
		StartTime: attempt.StartTime,
		Exam:      exam.ForTaking(),
	}, nil
}

// TakingView is the learner-facing exam view with resume information. The
// nominal start time is display-only when no attempt exists; only Start
// creates one.
type TakingView struct {
	Exam      *model.ExamForTaking `json:"exam"`
	AttemptID *uuid.UUID           `json:"attempt_id,omitempty"`
	StartTime time.Time            `json:"start_time"`
}

// GetForTaking produces the answer-key-stripped exam view, surfacing the id
// and start time of an in-progress attempt so the client resumes its timer.
func (s *AttemptService) GetForTaking(ctx context.Context, examID, userID uuid.UUID) (*TakingView, error) {
	exam, err := s.catalog.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return nil, ErrExamNotFound
	}
	if !exam.IsPublished {
		return nil, ErrExamNotAvailable
	}

	view := &TakingView{
		Exam:      exam.ForTaking(),
		StartTime: time.Now(),
	}

	if userID != uuid.Nil {
		existing, err := s.store.FindInProgress(ctx, userID, examID)
		if err != nil {
			return nil, fmt.Errorf("find in-progress attempt: %w", err)
		}
		if existing != nil {
			view.AttemptID = &existing.ID
			view.StartTime = existing.StartTime
		}
	}

	return view, nil
}

// SubmitResult is the scored outcome of a completed attempt.
type SubmitResult struct {
	AttemptID    uuid.UUID                 `json:"attempt_id"`
	TotalScore   float64                   `json:"total_score"`
	PassingScore float64                   `json:"passing_score"`
	IsPassed     bool                      `json:"is_passed"`
	TimeSpent    int64                     `json:"time_spent"`
	Answers      []model.ScoredAnswerGroup `json:"answers"`
}

// Submit scores the submitted answers against the exam's answer key and
// transitions the attempt to completed. The transition is conditional on the
// attempt still being in progress, so a concurrent second submit observes
// ErrAttemptCompleted instead of double-scoring.
//
// The advisory timer is not enforced here: a submission arriving after
// time-up is scored normally, since auto-submit is the client's job.
func (s *AttemptService) Submit(ctx context.Context, attemptID, userID uuid.UUID, submitted []model.AnswerGroupInput) (*SubmitResult, error) {
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
	if attempt.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptCompleted
	}

	exam, err := s.catalog.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return nil, ErrExamNotFound
	}

	now := time.Now()
	scored, totalScore := ScoreSubmission(exam, submitted)
	passingScore := ResolvePassingScore(exam)

	updated, err := s.store.Complete(ctx, attemptID, model.CompletionPatch{
		EndTime:          now,
		TimeSpentSeconds: int64(now.Sub(attempt.StartTime) / time.Second),
		TotalScore:       totalScore,
		IsPassed:         totalScore >= passingScore,
		Answers:          scored,
	})
	if err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}
	if updated == nil {
		// A concurrent submit won the conditional update.
		return nil, ErrAttemptCompleted
	}

	s.enqueueFinalize(ctx, updated)

	return &SubmitResult{
		AttemptID:    updated.ID,
		TotalScore:   updated.TotalScore,
		PassingScore: passingScore,
		IsPassed:     updated.IsPassed,
		TimeSpent:    updated.TimeSpentSeconds,
		Answers:      updated.Answers,
	}, nil
}

// RemainingTimeFor reports the advisory timer state of an in-progress attempt.
func (s *AttemptService) RemainingTimeFor(ctx context.Context, attemptID, userID uuid.UUID) (TimeInfo, error) {
	attempt, err := s.store.FindByID(ctx, attemptID)
	if err != nil {
		return TimeInfo{}, fmt.Errorf("find attempt: %w", err)
	}
	if attempt == nil {
		return TimeInfo{}, ErrAttemptNotFound
	}
	if userID != uuid.Nil && attempt.UserID != userID {
		return TimeInfo{}, ErrNotAttemptOwner
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return TimeInfo{}, ErrAttemptCompleted
	}

	exam, err := s.catalog.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return TimeInfo{}, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return TimeInfo{}, ErrExamNotFound
	}

	return RemainingTime(attempt.StartTime, exam.TimeLimitMinutes, time.Now()), nil
}

// TimerState resolves an attempt's start time and time limit for the
// WebSocket timer, preferring the Redis fast lane with a database fallback
// that self-heals the cache.
func (s *AttemptService) TimerState(ctx context.Context, attemptID uuid.UUID) (start time.Time, timeLimitMinutes int, err error) {
	timerKey := config.CacheKey.AttemptTimerKey(attemptID.String())

	val, err := s.rdb.Get(ctx, timerKey).Result()
	if err == nil {
		if start, limit, ok := parseTimerValue(val); ok {
			return start, limit, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return time.Time{}, 0, fmt.Errorf("redis get timer: %w", err)
	}

	// Cache miss (or corrupt entry): Postgres is the source of truth.
	attempt, err := s.store.FindByID(ctx, attemptID)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("find attempt: %w", err)
	}
	if attempt == nil {
		return time.Time{}, 0, ErrAttemptNotFound
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return time.Time{}, 0, ErrAttemptCompleted
	}

	exam, err := s.catalog.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return time.Time{}, 0, ErrExamNotFound
	}

	s.cacheStartTime(ctx, attempt, exam)

	return attempt.StartTime, exam.TimeLimitMinutes, nil
}

// parseTimerValue decodes a "<start unix>:<limit minutes>" cache entry.
func parseTimerValue(val string) (time.Time, int, bool) {
	var unix int64
	var limit int
	if _, err := fmt.Sscanf(val, "%d:%d", &unix, &limit); err != nil || limit <= 0 {
		return time.Time{}, 0, false
	}
	return time.Unix(unix, 0), limit, true
}

// cacheStartTime stores the attempt's timer state in Redis so the WebSocket
// timer skips Postgres. Best effort: the database fallback covers a cold or
// failing cache.
func (s *AttemptService) cacheStartTime(ctx context.Context, attempt *model.Attempt, exam *model.Exam) {
	timerKey := config.CacheKey.AttemptTimerKey(attempt.ID.String())
	val := fmt.Sprintf("%d:%d", attempt.StartTime.Unix(), exam.TimeLimitMinutes)
	if err := s.rdb.Set(ctx, timerKey, val, 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to cache timer state")
	}
}

// enqueueFinalize pushes the completed attempt onto the finalize queue for
// leaderboard and cache upkeep. Best effort; the attempt row is already
// terminal and correct.
func (s *AttemptService) enqueueFinalize(ctx context.Context, attempt *model.Attempt) {
	payload := worker.FinalizePayload{
		AttemptID: attempt.ID.String(),
		ExamID:    attempt.ExamID.String(),
		UserID:    attempt.UserID.String(),
		Score:     attempt.TotalScore,
		TimeSpent: attempt.TimeSpentSeconds,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("Marshal finalize payload")
		return
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.FinalizeAttemptsQueue, raw).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to enqueue finalize payload")
	}
}
