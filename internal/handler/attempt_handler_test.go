package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kotoba-labs/shiken-backend/internal/middleware"
	"github.com/kotoba-labs/shiken-backend/internal/model"
	"github.com/kotoba-labs/shiken-backend/internal/repository"
	"github.com/kotoba-labs/shiken-backend/internal/service"
	"github.com/kotoba-labs/shiken-backend/internal/validator"
)

// memCatalog and memStore are in-memory ports so handlers run against the
// real service layer without Postgres.
type memCatalog struct {
	exam *model.Exam
}

func (c *memCatalog) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	if c.exam != nil && c.exam.ID == id {
		return c.exam, nil
	}
	return nil, nil
}

type memStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*model.Attempt
}

func newMemStore() *memStore {
	return &memStore{attempts: make(map[uuid.UUID]*model.Attempt)}
}

func (s *memStore) Create(_ context.Context, a *model.Attempt) error {
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
	a.StartTime = time.Now()
	a.LastActivity = a.StartTime
	cp := *a
	s.attempts[a.ID] = &cp
	return nil
}

func (s *memStore) FindByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.attempts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) FindInProgress(_ context.Context, userID, examID uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.UserID == userID && a.ExamID == examID && a.Status == model.AttemptStatusInProgress {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) CountCompleted(_ context.Context, userID, examID uuid.UUID) (int, error) {
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

func (s *memStore) Complete(_ context.Context, id uuid.UUID, patch model.CompletionPatch) (*model.Attempt, error) {
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
	cp := *a
	return &cp, nil
}

func (s *memStore) SaveProgress(_ context.Context, id uuid.UUID, answers []model.AnswerGroupInput, now time.Time) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return nil, nil
	}
	saved := now
	a.DraftAnswers = answers
	a.LastSaved = &saved
	cp := *a
	return &cp, nil
}

func (s *memStore) MarkForReview(_ context.Context, id uuid.UUID, questionID string) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, nil
	}
	for _, q := range a.MarkedQuestions {
		if q == questionID {
			cp := *a
			return &cp, nil
		}
	}
	a.MarkedQuestions = append(a.MarkedQuestions, questionID)
	cp := *a
	return &cp, nil
}

// envelope mirrors the response wrapper for assertions.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func testExam() *model.Exam {
	score := 1.0
	return &model.Exam{
		ID:               uuid.New(),
		Title:            "N5 Practice Set 1",
		Level:            model.LevelN5,
		TimeLimitMinutes: 60,
		IsPublished:      true,
		PassingScore:     &score,
		Questions: []model.QuestionGroup{
			{ID: "g1", ChildQuestions: []model.ChildQuestion{
				{ID: "q1", CorrectAnswer: "A", Point: 1},
				{ID: "q2", CorrectAnswer: "B", Point: 2},
			}},
		},
	}
}

// newTestRouter wires the attempt routes with an in-memory backend and a
// middleware stub that injects the given user's claims.
func newTestRouter(t *testing.T, exam *model.Exam, userID uuid.UUID) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := newMemStore()
	catalog := &memCatalog{exam: exam}
	attemptService := service.NewAttemptService(catalog, store, rdb, zerolog.Nop())
	progressService := service.NewProgressService(catalog, store, zerolog.Nop())

	h := NewAttemptHandler(attemptService, progressService, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: userID, Role: model.RoleStudent})
		c.Next()
	})
	r.POST("/exams/:exam_id/start", h.StartAttempt)
	r.POST("/attempts/:attempt_id/submit", h.SubmitAttempt)
	r.PUT("/attempts/:attempt_id/progress", h.SaveProgress)
	return r, store
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body: %s)", err, w.Body.String())
	}
	return w, env
}

func TestStartThenSubmitFlow(t *testing.T) {
	exam := testExam()
	userID := uuid.New()
	r, _ := newTestRouter(t, exam, userID)

	w, env := doJSON(t, r, http.MethodPost, "/exams/"+exam.ID.String()+"/start", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status = %d, want 201 (body: %s)", w.Code, w.Body.String())
	}

	var started struct {
		AttemptID uuid.UUID `json:"attempt_id"`
	}
	if err := json.Unmarshal(env.Data, &started); err != nil {
		t.Fatalf("decode start data: %v", err)
	}

	// Starting again resumes with 200.
	w, _ = doJSON(t, r, http.MethodPost, "/exams/"+exam.ID.String()+"/start", nil)
	if w.Code != http.StatusOK {
		t.Errorf("resume status = %d, want 200", w.Code)
	}

	body := gin.H{"answers": []model.AnswerGroupInput{
		{GroupID: "g1", ChildAnswers: []model.ChildAnswerInput{
			{QuestionID: "q1", UserAnswer: "A"},
			{QuestionID: "q2", UserAnswer: "X"},
		}},
	}}

	w, env = doJSON(t, r, http.MethodPost, "/attempts/"+started.AttemptID.String()+"/submit", body)
	if w.Code != http.StatusOK {
		t.Fatalf("submit status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}

	var result struct {
		TotalScore float64 `json:"total_score"`
		IsPassed   bool    `json:"is_passed"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode submit data: %v", err)
	}
	if result.TotalScore != 1 || !result.IsPassed {
		t.Errorf("result = %+v, want score 1 and passed", result)
	}

	// A second submit conflicts.
	w, env = doJSON(t, r, http.MethodPost, "/attempts/"+started.AttemptID.String()+"/submit", body)
	if w.Code != http.StatusConflict {
		t.Errorf("double submit status = %d, want 409", w.Code)
	}
	if env.Error == nil || env.Error.Code != "ATTEMPT_ALREADY_COMPLETED" {
		t.Errorf("error = %+v, want ATTEMPT_ALREADY_COMPLETED", env.Error)
	}
}

func TestSubmitInvalidAttemptID(t *testing.T) {
	exam := testExam()
	r, _ := newTestRouter(t, exam, uuid.New())

	w, env := doJSON(t, r, http.MethodPost, "/attempts/not-a-uuid/submit", gin.H{"answers": []model.AnswerGroupInput{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if env.Error == nil || env.Error.Code != "INVALID_ID" {
		t.Errorf("error = %+v, want INVALID_ID", env.Error)
	}
}

func TestSubmitMalformedAnswers(t *testing.T) {
	exam := testExam()
	r, _ := newTestRouter(t, exam, uuid.New())

	w, env := doJSON(t, r, http.MethodPost, "/attempts/"+uuid.New().String()+"/submit", gin.H{"answers": "not-a-list"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("error = %+v, want VALIDATION_ERROR", env.Error)
	}
}

func TestSaveProgressAfterSubmitConflicts(t *testing.T) {
	exam := testExam()
	userID := uuid.New()
	r, _ := newTestRouter(t, exam, userID)

	_, env := doJSON(t, r, http.MethodPost, "/exams/"+exam.ID.String()+"/start", nil)
	var started struct {
		AttemptID uuid.UUID `json:"attempt_id"`
	}
	if err := json.Unmarshal(env.Data, &started); err != nil {
		t.Fatalf("decode start data: %v", err)
	}

	submit := gin.H{"answers": []model.AnswerGroupInput{}}
	if w, _ := doJSON(t, r, http.MethodPost, "/attempts/"+started.AttemptID.String()+"/submit", submit); w.Code != http.StatusOK {
		t.Fatalf("submit status = %d, want 200", w.Code)
	}

	w, env := doJSON(t, r, http.MethodPut, "/attempts/"+started.AttemptID.String()+"/progress", submit)
	if w.Code != http.StatusConflict {
		t.Errorf("save after submit status = %d, want 409", w.Code)
	}
	if env.Error == nil || env.Error.Code != "ATTEMPT_ALREADY_COMPLETED" {
		t.Errorf("error = %+v, want ATTEMPT_ALREADY_COMPLETED", env.Error)
	}
}
