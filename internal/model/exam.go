package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamLevel is the JLPT proficiency level an exam targets.
type ExamLevel string

const (
	LevelN1 ExamLevel = "N1"
	LevelN2 ExamLevel = "N2"
	LevelN3 ExamLevel = "N3"
	LevelN4 ExamLevel = "N4"
	LevelN5 ExamLevel = "N5"
)

// ValidLevel reports whether lvl is one of the known JLPT levels.
func ValidLevel(lvl ExamLevel) bool {
	switch lvl {
	case LevelN1, LevelN2, LevelN3, LevelN4, LevelN5:
		return true
	}
	return false
}

// QuestionType enumerates the supported child question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeFillIn         QuestionType = "fill_in"
	QuestionTypeOrdering       QuestionType = "ordering"
	QuestionTypeListening      QuestionType = "listening"
	QuestionTypeReading        QuestionType = "reading"
)

// Option is one selectable answer choice on a child question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ChildQuestion is a single scorable question. CorrectAnswer is the answer
// key and must never reach a student before submission.
type ChildQuestion struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Content       string       `json:"content"`
	Options       []Option     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer"`
	Point         float64      `json:"point"`
}

// PointValue returns the question's point value, defaulting to 1 when the
// author left it unset.
func (q ChildQuestion) PointValue() float64 {
	if q.Point > 0 {
		return q.Point
	}
	return 1
}

// QuestionGroup is a shared-stimulus cluster of child questions, e.g. one
// reading passage followed by several questions about it.
type QuestionGroup struct {
	ID             string          `json:"id"`
	Title          string          `json:"title,omitempty"`
	Paragraph      string          `json:"paragraph,omitempty"`
	ImageURL       string          `json:"img_url,omitempty"`
	AudioURL       string          `json:"audio_url,omitempty"`
	ChildQuestions []ChildQuestion `json:"child_questions"`
}

// Exam is the full exam definition, answer key included. Question groups are
// stored as a single JSONB document alongside the exam row.
type Exam struct {
	ID               uuid.UUID       `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Level            ExamLevel       `json:"level"`
	TimeLimitMinutes int             `json:"time_limit"`
	PassingScore     *float64        `json:"passing_score,omitempty"`
	// AllowedAttempts caps completed attempts per user. Zero means unlimited.
	AllowedAttempts int             `json:"allowed_attempts"`
	Tags            []string        `json:"tags,omitempty"`
	IsPublished     bool            `json:"is_published"`
	Questions       []QuestionGroup `json:"questions"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TotalQuestions counts child questions across all groups.
func (e *Exam) TotalQuestions() int {
	total := 0
	for _, g := range e.Questions {
		total += len(g.ChildQuestions)
	}
	return total
}

// TotalPoints sums the point values of every child question.
func (e *Exam) TotalPoints() float64 {
	var total float64
	for _, g := range e.Questions {
		for _, q := range g.ChildQuestions {
			total += q.PointValue()
		}
	}
	return total
}

// ChildQuestionForTaking mirrors ChildQuestion with the answer key stripped.
type ChildQuestionForTaking struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Content string       `json:"content"`
	Options []Option     `json:"options,omitempty"`
	Point   float64      `json:"point"`
}

// QuestionGroupForTaking is the student-facing group view.
type QuestionGroupForTaking struct {
	ID             string                   `json:"id"`
	Title          string                   `json:"title,omitempty"`
	Paragraph      string                   `json:"paragraph,omitempty"`
	ImageURL       string                   `json:"img_url,omitempty"`
	AudioURL       string                   `json:"audio_url,omitempty"`
	ChildQuestions []ChildQuestionForTaking `json:"child_questions"`
}

// ExamForTaking is the exam payload delivered to a student sitting the exam.
// It carries no correct-answer data anywhere in its question tree.
type ExamForTaking struct {
	ID               uuid.UUID                `json:"id"`
	Title            string                   `json:"title"`
	Description      string                   `json:"description,omitempty"`
	Level            ExamLevel                `json:"level"`
	TimeLimitMinutes int                      `json:"time_limit"`
	AllowedAttempts  int                      `json:"allowed_attempts"`
	TotalQuestions   int                      `json:"total_questions"`
	Questions        []QuestionGroupForTaking `json:"questions"`
}

// ForTaking builds the answer-key-stripped view of the exam.
func (e *Exam) ForTaking() *ExamForTaking {
	groups := make([]QuestionGroupForTaking, 0, len(e.Questions))
	for _, g := range e.Questions {
		children := make([]ChildQuestionForTaking, 0, len(g.ChildQuestions))
		for _, q := range g.ChildQuestions {
			children = append(children, ChildQuestionForTaking{
				ID:      q.ID,
				Type:    q.Type,
				Content: q.Content,
				Options: q.Options,
				Point:   q.PointValue(),
			})
		}
		groups = append(groups, QuestionGroupForTaking{
			ID:             g.ID,
			Title:          g.Title,
			Paragraph:      g.Paragraph,
			ImageURL:       g.ImageURL,
			AudioURL:       g.AudioURL,
			ChildQuestions: children,
		})
	}

	return &ExamForTaking{
		ID:               e.ID,
		Title:            e.Title,
		Description:      e.Description,
		Level:            e.Level,
		TimeLimitMinutes: e.TimeLimitMinutes,
		AllowedAttempts:  e.AllowedAttempts,
		TotalQuestions:   e.TotalQuestions(),
		Questions:        groups,
	}
}

// ExamSummary is the lobby/listing projection (no questions attached).
type ExamSummary struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	Level            ExamLevel `json:"level"`
	TimeLimitMinutes int       `json:"time_limit"`
	AllowedAttempts  int       `json:"allowed_attempts"`
	Tags             []string  `json:"tags,omitempty"`
	QuestionCount    int       `json:"question_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// ExamFilters narrows exam listing queries.
type ExamFilters struct {
	Level      ExamLevel
	Tag        string
	SearchTerm string
}
