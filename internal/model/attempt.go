package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in-progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
	AttemptStatusAbandoned  AttemptStatus = "abandoned"
)

// ChildAnswerInput is one submitted answer, keyed by child question ID.
type ChildAnswerInput struct {
	QuestionID string `json:"id" binding:"required"`
	UserAnswer string `json:"user_answer"`
}

// AnswerGroupInput is the submitted answers for one question group.
type AnswerGroupInput struct {
	GroupID      string             `json:"group_id" binding:"required"`
	ChildAnswers []ChildAnswerInput `json:"child_answers" binding:"dive"`
}

// ScoredChildAnswer is the post-scoring record for one child question. The
// correct answer is exposed here, unlike the pre-submission exam view.
type ScoredChildAnswer struct {
	QuestionID    string   `json:"id"`
	Content       string   `json:"content"`
	Options       []Option `json:"options,omitempty"`
	UserAnswer    *string  `json:"user_answer"`
	IsCorrect     bool     `json:"is_correct"`
	CorrectAnswer string   `json:"correct_answer"`
	Score         float64  `json:"score"`
}

// ScoredAnswerGroup mirrors the exam's question-group structure after scoring.
type ScoredAnswerGroup struct {
	GroupID      string              `json:"group_id"`
	Paragraph    string              `json:"paragraph,omitempty"`
	ImageURL     string              `json:"img_url,omitempty"`
	AudioURL     string              `json:"audio_url,omitempty"`
	ChildAnswers []ScoredChildAnswer `json:"child_answers"`
}

// Attempt is one user's timed run at one exam, from start to terminal state.
//
// DraftAnswers holds the unscored autosave checkpoint while the attempt is
// in progress; Answers holds the scored groups once it completes. Keeping the
// two shapes in separate columns lets Submit and SaveProgress race safely on
// conditional updates instead of overwriting each other's document.
type Attempt struct {
	ID               uuid.UUID           `json:"id"`
	UserID           uuid.UUID           `json:"user_id"`
	ExamID           uuid.UUID           `json:"exam_id"`
	StartTime        time.Time           `json:"start_time"`
	EndTime          *time.Time          `json:"end_time,omitempty"`
	Status           AttemptStatus       `json:"status"`
	DraftAnswers     []AnswerGroupInput  `json:"draft_answers,omitempty"`
	Answers          []ScoredAnswerGroup `json:"answers,omitempty"`
	TotalScore       float64             `json:"total_score"`
	IsPassed         bool                `json:"is_passed"`
	TimeSpentSeconds int64               `json:"time_spent"`
	LastActivity     time.Time           `json:"last_activity"`
	LastSaved        *time.Time          `json:"last_saved,omitempty"`
	MarkedQuestions  []string            `json:"marked_questions,omitempty"`
}

// CompletionPatch carries the terminal fields Submit writes in one
// conditional update.
type CompletionPatch struct {
	EndTime          time.Time
	TimeSpentSeconds int64
	TotalScore       float64
	IsPassed         bool
	Answers          []ScoredAnswerGroup
}

// AttemptFilters narrows attempt history queries.
type AttemptFilters struct {
	ExamID uuid.UUID
	Status AttemptStatus
}

// AttemptSummary is the history-listing projection of an attempt.
type AttemptSummary struct {
	ID         uuid.UUID     `json:"id"`
	ExamID     uuid.UUID     `json:"exam_id"`
	ExamTitle  string        `json:"exam_title"`
	ExamLevel  ExamLevel     `json:"exam_level"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    *time.Time    `json:"end_time,omitempty"`
	Status     AttemptStatus `json:"status"`
	TotalScore float64       `json:"total_score"`
	IsPassed   bool          `json:"is_passed"`
	TimeSpent  int64         `json:"time_spent"`
}

// ExamResultRow is one completed attempt in a teacher's per-exam result list.
type ExamResultRow struct {
	UserID     uuid.UUID     `json:"user_id"`
	UserName   string        `json:"user_name"`
	UserEmail  string        `json:"user_email"`
	AttemptID  uuid.UUID     `json:"attempt_id"`
	TotalScore float64       `json:"total_score"`
	IsPassed   bool          `json:"is_passed"`
	TimeSpent  int64         `json:"time_spent"`
	Status     AttemptStatus `json:"status"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    *time.Time    `json:"end_time,omitempty"`
}
