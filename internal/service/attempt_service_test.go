package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kotoba-labs/shiken-backend/internal/config"
	"github.com/kotoba-labs/shiken-backend/internal/model"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

func publishedExam() *model.Exam {
	return &model.Exam{
		ID:               uuid.New(),
		Title:            "N5 Practice Set 1",
		Level:            model.LevelN5,
		TimeLimitMinutes: 60,
		IsPublished:      true,
		PassingScore:     floatPtr(1),
		Questions: []model.QuestionGroup{
			{ID: "g1", ChildQuestions: []model.ChildQuestion{
				{ID: "q1", CorrectAnswer: "A", Point: 1},
				{ID: "q2", CorrectAnswer: "B", Point: 2},
			}},
		},
	}
}

func newAttemptService(t *testing.T, exam *model.Exam) (*AttemptService, *fakeStore, *miniredis.Miniredis) {
	t.Helper()
	rdb, mr := newTestRedis(t)
	store := newFakeStore()
	svc := NewAttemptService(newFakeCatalog(exam), store, rdb, zerolog.Nop())
	return svc, store, mr
}

func TestStartCreatesAttempt(t *testing.T) {
	exam := publishedExam()
	svc, store, mr := newAttemptService(t, exam)
	ctx := context.Background()
	userID := uuid.New()

	result, err := svc.Start(ctx, exam.ID, userID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if result.Resumed {
		t.Error("fresh start reported Resumed")
	}
	if result.Exam == nil || result.Exam.TotalQuestions != 2 {
		t.Errorf("exam view = %+v, want 2 questions", result.Exam)
	}

	stored, _ := store.FindByID(ctx, result.AttemptID)
	if stored == nil || stored.Status != model.AttemptStatusInProgress {
		t.Fatalf("stored attempt = %+v, want in-progress", stored)
	}

	// Timer state lands in Redis as "<start unix>:<limit minutes>".
	val, err := mr.Get(config.CacheKey.AttemptTimerKey(result.AttemptID.String()))
	if err != nil {
		t.Fatalf("timer cache entry missing: %v", err)
	}
	want := fmt.Sprintf("%d:%d", stored.StartTime.Unix(), exam.TimeLimitMinutes)
	if val != want {
		t.Errorf("timer cache = %q, want %q", val, want)
	}
}

func TestStartResumesInProgress(t *testing.T) {
	exam := publishedExam()
	svc, _, _ := newAttemptService(t, exam)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.Start(ctx, exam.ID, userID)
	if err != nil {
		t.Fatalf("first Start() error = %v", err)
	}

	second, err := svc.Start(ctx, exam.ID, userID)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if !second.Resumed {
		t.Error("second start did not resume")
	}
	if second.AttemptID != first.AttemptID {
		t.Errorf("resumed attempt %s, want %s", second.AttemptID, first.AttemptID)
	}
	if !second.StartTime.Equal(first.StartTime) {
		t.Errorf("resume changed start time: %v -> %v", first.StartTime, second.StartTime)
	}
}

func TestStartRejectsUnknownAndUnpublished(t *testing.T) {
	exam := publishedExam()
	exam.IsPublished = false
	svc, _, _ := newAttemptService(t, exam)
	ctx := context.Background()

	if _, err := svc.Start(ctx, exam.ID, uuid.New()); !errors.Is(err, ErrExamNotAvailable) {
		t.Errorf("unpublished exam: err = %v, want ErrExamNotAvailable", err)
	}
	if _, err := svc.Start(ctx, uuid.New(), uuid.New()); !errors.Is(err, ErrExamNotFound) {
		t.Errorf("unknown exam: err = %v, want ErrExamNotFound", err)
	}
}

func TestStartEnforcesAttemptLimit(t *testing.T) {
	exam := publishedExam()
	exam.AllowedAttempts = 2
	svc, store, _ := newAttemptService(t, exam)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 2; i++ {
		result, err := svc.Start(ctx, exam.ID, userID)
		if err != nil {
			t.Fatalf("start %d error = %v", i, err)
		}
		store.setStatus(result.AttemptID, model.AttemptStatusCompleted)
	}

	_, err := svc.Start(ctx, exam.ID, userID)
	var limitErr *AttemptLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err = %v, want AttemptLimitError", err)
	}
	if limitErr.Limit != 2 {
		t.Errorf("limit = %d, want 2", limitErr.Limit)
	}
}

func TestStartZeroLimitMeansUnlimited(t *testing.T) {
	exam := publishedExam()
	exam.AllowedAttempts = 0
	svc, store, _ := newAttemptService(t, exam)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		result, err := svc.Start(ctx, exam.ID, userID)
		if err != nil {
			t.Fatalf("start %d error = %v", i, err)
		}
		store.setStatus(result.AttemptID, model.AttemptStatusCompleted)
	}
}

// racingStore makes FindInProgress miss once, so Create collides with the
// attempt a concurrent request slipped in between the two calls.
type racingStore struct {
	*fakeStore
	missed bool
}

func (s *racingStore) FindInProgress(ctx context.Context, userID, examID uuid.UUID) (*model.Attempt, error) {
	if !s.missed {
		s.missed = true
		return nil, nil
	}
	return s.fakeStore.FindInProgress(ctx, userID, examID)
}

func TestStartResolvesCreateRace(t *testing.T) {
	exam := publishedExam()
	rdb, _ := newTestRedis(t)
	store := &racingStore{fakeStore: newFakeStore()}
	svc := NewAttemptService(newFakeCatalog(exam), store, rdb, zerolog.Nop())
	ctx := context.Background()
	userID := uuid.New()

	// The concurrent winner's attempt already exists.
	winner := &model.Attempt{UserID: userID, ExamID: exam.ID}
	if err := store.fakeStore.Create(ctx, winner); err != nil {
		t.Fatalf("arrange winner: %v", err)
	}

	result, err := svc.Start(ctx, exam.ID, userID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !result.Resumed {
		t.Error("race loser did not resume the winner's attempt")
	}
	if result.AttemptID != winner.ID {
		t.Errorf("attempt = %s, want winner %s", result.AttemptID, winner.ID)
	}
}

func TestSubmitScoresAndCompletes(t *testing.T) {
	exam := publishedExam()
	svc, store, mr := newAttemptService(t, exam)
	ctx := context.Background()
	userID := uuid.New()

	started, err := svc.Start(ctx, exam.ID, userID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	answers := []model.AnswerGroupInput{
		{GroupID: "g1", ChildAnswers: []model.ChildAnswerInput{
			{QuestionID: "q1", UserAnswer: "A"},
			{QuestionID: "q2", UserAnswer: "wrong"},
		}},
	}

	result, err := svc.Submit(ctx, started.AttemptID, userID, answers)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result.TotalScore != 1 {
		t.Errorf("total = %v, want 1", result.TotalScore)
	}
	if result.PassingScore != 1 {
		t.Errorf("passing score = %v, want explicit 1", result.PassingScore)
	}
	if !result.IsPassed {
		t.Error("score at the threshold should pass")
	}

	stored, _ := store.FindByID(ctx, started.AttemptID)
	if stored.Status != model.AttemptStatusCompleted || stored.EndTime == nil {
		t.Errorf("stored attempt = %+v, want completed with end time", stored)
	}

	// A finalize payload is queued for the worker.
	if n, _ := mr.List(config.WorkerKey.FinalizeAttemptsQueue); len(n) != 1 {
		t.Errorf("finalize queue length = %d, want 1", len(n))
	}
}

func TestSubmitTwiceConflicts(t *testing.T) {
	exam := publishedExam()
	svc, _, _ := newAttemptService(t, exam)
	ctx := context.Background()
	userID := uuid.New()

	started, _ := svc.Start(ctx, exam.ID, userID)
	if _, err := svc.Submit(ctx, started.AttemptID, userID, nil); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	if _, err := svc.Submit(ctx, started.AttemptID, userID, nil); !errors.Is(err, ErrAttemptCompleted) {
		t.Errorf("second Submit() err = %v, want ErrAttemptCompleted", err)
	}
}

func TestSubmitRejectsForeignAttempt(t *testing.T) {
	exam := publishedExam()
	svc, _, _ := newAttemptService(t, exam)
	ctx := context.Background()

	started, _ := svc.Start(ctx, exam.ID, uuid.New())

	if _, err := svc.Submit(ctx, started.AttemptID, uuid.New(), nil); !errors.Is(err, ErrNotAttemptOwner) {
		t.Errorf("err = %v, want ErrNotAttemptOwner", err)
	}
}

func TestSubmitUnknownAttempt(t *testing.T) {
	exam := publishedExam()
	svc, _, _ := newAttemptService(t, exam)

	if _, err := svc.Submit(context.Background(), uuid.New(), uuid.New(), nil); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("err = %v, want ErrAttemptNotFound", err)
	}
}

func TestTimerStateFastPath(t *testing.T) {
	exam := publishedExam()
	svc, _, mr := newAttemptService(t, exam)

	// Only the cache knows this attempt; a store lookup would miss.
	attemptID := uuid.New()
	start := time.Unix(1770000000, 0)
	mr.Set(config.CacheKey.AttemptTimerKey(attemptID.String()), fmt.Sprintf("%d:45", start.Unix()))

	gotStart, gotLimit, err := svc.TimerState(context.Background(), attemptID)
	if err != nil {
		t.Fatalf("TimerState() error = %v", err)
	}
	if !gotStart.Equal(start) || gotLimit != 45 {
		t.Errorf("TimerState() = (%v, %d), want (%v, 45)", gotStart, gotLimit, start)
	}
}

func TestTimerStateFallbackSelfHeals(t *testing.T) {
	exam := publishedExam()
	svc, _, mr := newAttemptService(t, exam)
	ctx := context.Background()

	started, _ := svc.Start(ctx, exam.ID, uuid.New())

	key := config.CacheKey.AttemptTimerKey(started.AttemptID.String())
	mr.Del(key)

	gotStart, gotLimit, err := svc.TimerState(ctx, started.AttemptID)
	if err != nil {
		t.Fatalf("TimerState() error = %v", err)
	}
	if !gotStart.Equal(started.StartTime) || gotLimit != exam.TimeLimitMinutes {
		t.Errorf("TimerState() = (%v, %d), want (%v, %d)", gotStart, gotLimit, started.StartTime, exam.TimeLimitMinutes)
	}

	if !mr.Exists(key) {
		t.Error("fallback did not repopulate the timer cache")
	}
}

func TestTimerStateCompletedAttempt(t *testing.T) {
	exam := publishedExam()
	svc, store, mr := newAttemptService(t, exam)
	ctx := context.Background()

	started, _ := svc.Start(ctx, exam.ID, uuid.New())
	store.setStatus(started.AttemptID, model.AttemptStatusCompleted)
	mr.Del(config.CacheKey.AttemptTimerKey(started.AttemptID.String()))

	if _, _, err := svc.TimerState(ctx, started.AttemptID); !errors.Is(err, ErrAttemptCompleted) {
		t.Errorf("err = %v, want ErrAttemptCompleted", err)
	}
}
