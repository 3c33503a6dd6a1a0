package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kotoba-labs/shiken-backend/internal/model"
	"github.com/kotoba-labs/shiken-backend/internal/repository"
)

// fakeCatalog is an in-memory ExamCatalog.
type fakeCatalog struct {
	mu    sync.Mutex
	exams map[uuid.UUID]*model.Exam
}

func newFakeCatalog(exams ...*model.Exam) *fakeCatalog {
	c := &fakeCatalog{exams: make(map[uuid.UUID]*model.Exam)}
	for _, e := range exams {
		c.exams[e.ID] = e
	}
	return c
}

func (c *fakeCatalog) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exams[id], nil
}

// fakeStore is an in-memory AttemptStore honoring the same contracts as the
// Postgres repository: (nil, nil) misses, conditional terminal updates, and
// ErrDuplicateAttempt for a second in-progress (user, exam) attempt.
type fakeStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*model.Attempt
	now      func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attempts: make(map[uuid.UUID]*model.Attempt),
		now:      time.Now,
	}
}

func copyAttempt(a *model.Attempt) *model.Attempt {
	cp := *a
	return &cp
}

func (s *fakeStore) Create(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.attempts {
		if existing.UserID == a.UserID && existing.ExamID == a.ExamID &&
			existing.Status == model.AttemptStatusInProgress {
			return repository.ErrDuplicateAttempt
		}
	}

	a.ID = uuid.New()
	a.Status = model.AttemptStatusInProgress
	a.StartTime = s.now()
	a.LastActivity = a.StartTime
	s.attempts[a.ID] = copyAttempt(a)
	return nil
}

func (s *fakeStore) FindByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, nil
	}
	return copyAttempt(a), nil
}

func (s *fakeStore) FindInProgress(_ context.Context, userID, examID uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.UserID == userID && a.ExamID == examID && a.Status == model.AttemptStatusInProgress {
			return copyAttempt(a), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CountCompleted(_ context.Context, userID, examID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.attempts {
		if a.UserID == userID && a.ExamID == examID && a.Status == model.AttemptStatusCompleted {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) Complete(_ context.Context, id uuid.UUID, patch model.CompletionPatch) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return nil, nil
	}

	end := patch.EndTime
	a.Status = model.AttemptStatusCompleted
	a.EndTime = &end
	a.TimeSpentSeconds = patch.TimeSpentSeconds
	a.TotalScore = patch.TotalScore
	a.IsPassed = patch.IsPassed
	a.Answers = patch.Answers
	a.LastActivity = end
	return copyAttempt(a), nil
}

func (s *fakeStore) SaveProgress(_ context.Context, id uuid.UUID, answers []model.AnswerGroupInput, now time.Time) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return nil, nil
	}

	saved := now
	a.DraftAnswers = answers
	a.LastSaved = &saved
	a.LastActivity = saved
	return copyAttempt(a), nil
}

func (s *fakeStore) MarkForReview(_ context.Context, id uuid.UUID, questionID string) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, nil
	}

	for _, q := range a.MarkedQuestions {
		if q == questionID {
			return copyAttempt(a), nil
		}
	}
	a.MarkedQuestions = append(a.MarkedQuestions, questionID)
	a.LastActivity = s.now()
	return copyAttempt(a), nil
}

// setStatus force-sets an attempt's status, for arranging test states.
func (s *fakeStore) setStatus(id uuid.UUID, status model.AttemptStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.attempts[id]; ok {
		a.Status = status
		if status != model.AttemptStatusInProgress && a.EndTime == nil {
			end := s.now()
			a.EndTime = &end
		}
	}
}

// floatPtr is a literal helper for optional passing scores.
func floatPtr(f float64) *float64 { return &f }
