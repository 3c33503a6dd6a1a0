package service

import (
	"math"

	"github.com/kotoba-labs/shiken-backend/internal/model"
)

// levelPassingScores are the default passing thresholds per JLPT level,
// applied when an exam carries no explicit passing score.
var levelPassingScores = map[model.ExamLevel]float64{
	model.LevelN1: 100,
	model.LevelN2: 90,
	model.LevelN3: 95,
	model.LevelN4: 90,
	model.LevelN5: 80,
}

// defaultPassingScore applies when the exam has neither an explicit passing
// score nor a recognized level.
const defaultPassingScore = 80

// ResolvePassingScore returns the exam's passing threshold: the explicit
// value when set, otherwise the level default.
func ResolvePassingScore(exam *model.Exam) float64 {
	if exam.PassingScore != nil {
		return *exam.PassingScore
	}
	if score, ok := levelPassingScores[exam.Level]; ok {
		return score
	}
	return defaultPassingScore
}

// ScoreSubmission matches submitted answer groups against the exam's answer
// key and returns the scored groups plus the total score.
//
// The exam definition drives the walk: every question group and child
// question produces an output record, whether answered or not. A submitted
// group with no matching parent ID, or a child with no matching answer, is
// treated as unanswered rather than an error. Credit is binary: a child
// scores its full point value on an exact string match, zero otherwise.
//
// Pure and deterministic: no clock, no I/O, no randomness.
func ScoreSubmission(exam *model.Exam, submitted []model.AnswerGroupInput) ([]model.ScoredAnswerGroup, float64) {
	byGroup := make(map[string][]model.ChildAnswerInput, len(submitted))
	for _, g := range submitted {
		byGroup[g.GroupID] = g.ChildAnswers
	}

	scored := make([]model.ScoredAnswerGroup, 0, len(exam.Questions))
	var totalScore float64

	for _, group := range exam.Questions {
		byQuestion := make(map[string]string)
		for _, ca := range byGroup[group.ID] {
			byQuestion[ca.QuestionID] = ca.UserAnswer
		}

		children := make([]model.ScoredChildAnswer, 0, len(group.ChildQuestions))
		for _, q := range group.ChildQuestions {
			record := model.ScoredChildAnswer{
				QuestionID:    q.ID,
				Content:       q.Content,
				Options:       q.Options,
				CorrectAnswer: q.CorrectAnswer,
			}

			if answer, ok := byQuestion[q.ID]; ok {
				record.UserAnswer = &answer
				record.IsCorrect = answer == q.CorrectAnswer
			}

			if record.IsCorrect {
				if point := q.PointValue(); !math.IsNaN(point) && !math.IsInf(point, 0) {
					record.Score = point
				}
			}

			totalScore += record.Score
			children = append(children, record)
		}

		scored = append(scored, model.ScoredAnswerGroup{
			GroupID:      group.ID,
			Paragraph:    group.Paragraph,
			ImageURL:     group.ImageURL,
			AudioURL:     group.AudioURL,
			ChildAnswers: children,
		})
	}

	if math.IsNaN(totalScore) || math.IsInf(totalScore, 0) {
		totalScore = 0
	}

	return scored, totalScore
}
