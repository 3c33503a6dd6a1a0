package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kotoba-labs/shiken-backend/internal/config"
	"github.com/kotoba-labs/shiken-backend/internal/model"
	"github.com/kotoba-labs/shiken-backend/internal/repository"
	"github.com/kotoba-labs/shiken-backend/internal/response"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ResultService serves scored attempt data: result detail for learners,
// per-exam result lists for teachers, history and leaderboards.
type ResultService struct {
	attemptRepo *repository.AttemptRepository
	examRepo    *repository.ExamRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewResultService creates a new ResultService.
func NewResultService(attemptRepo *repository.AttemptRepository, examRepo *repository.ExamRepository, rdb *redis.Client, log zerolog.Logger) *ResultService {
	return &ResultService{
		attemptRepo: attemptRepo,
		examRepo:    examRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "result_service").Logger(),
	}
}

// ResultDetail is the full scored view of one attempt.
type ResultDetail struct {
	Attempt      *model.Attempt  `json:"attempt"`
	ExamTitle    string          `json:"exam_title"`
	ExamLevel    model.ExamLevel `json:"exam_level"`
	PassingScore float64         `json:"passing_score"`
}

// GetResult retrieves one attempt's scored detail. Students may only read
// their own results; requesterID uuid.Nil skips the ownership check
// (teacher-facing callers).
func (s *ResultService) GetResult(ctx context.Context, attemptID, requesterID uuid.UUID) (*ResultDetail, error) {
	attempt, err := s.attemptRepo.FindByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("find attempt: %w", err)
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}
	if requesterID != uuid.Nil && attempt.UserID != requesterID {
		return nil, ErrNotAttemptOwner
	}

	exam, err := s.examRepo.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return nil, ErrExamNotFound
	}

	return &ResultDetail{
		Attempt:      attempt,
		ExamTitle:    exam.Title,
		ExamLevel:    exam.Level,
		PassingScore: ResolvePassingScore(exam),
	}, nil
}

// GetHistory lists a user's attempts, newest first, optionally filtered by
// exam and status.
func (s *ResultService) GetHistory(ctx context.Context, userID uuid.UUID, filters model.AttemptFilters, page, perPage int) ([]model.AttemptSummary, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	summaries, total, err := s.attemptRepo.ListByUser(ctx, userID, filters, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}

	if summaries == nil {
		summaries = []model.AttemptSummary{}
	}

	return summaries, response.NewPagination(page, perPage, total), nil
}

// GetExamResults lists completed attempts for an exam, best score first.
func (s *ResultService) GetExamResults(ctx context.Context, examID uuid.UUID, limit int) ([]model.ExamResultRow, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return nil, ErrExamNotFound
	}

	results, err := s.attemptRepo.ListCompletedByExam(ctx, examID, limit)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []model.ExamResultRow{}
	}
	return results, nil
}

// GetExamResultForUser retrieves a single user's latest attempt at an exam,
// for the teacher review view.
func (s *ResultService) GetExamResultForUser(ctx context.Context, examID, userID uuid.UUID) (*ResultDetail, error) {
	attempt, err := s.attemptRepo.FindLatestByExamAndUser(ctx, examID, userID)
	if err != nil {
		return nil, fmt.Errorf("find attempt: %w", err)
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}
	return s.GetResult(ctx, attempt.ID, uuid.Nil)
}

// LeaderboardEntry is one row of an exam's score ranking.
type LeaderboardEntry struct {
	Rank   int     `json:"rank"`
	UserID string  `json:"user_id"`
	Score  float64 `json:"score"`
}

// Leaderboard returns the exam's top scores. The finalize worker maintains a
// Redis sorted set of best scores per user; an empty set falls back to SQL
// and repopulates the cache.
func (s *ResultService) Leaderboard(ctx context.Context, examID uuid.UUID, limit int) ([]LeaderboardEntry, error) {
	if limit < 1 || limit > 100 {
		limit = 10
	}

	key := config.CacheKey.ExamLeaderboardKey(examID.String())

	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil && err != redis.Nil {
		s.log.Warn().Err(err).Msg("leaderboard cache read failed, using SQL fallback")
	}
	if len(zs) > 0 {
		entries := make([]LeaderboardEntry, 0, len(zs))
		for i, z := range zs {
			member, _ := z.Member.(string)
			entries = append(entries, LeaderboardEntry{Rank: i + 1, UserID: member, Score: z.Score})
		}
		return entries, nil
	}

	// Cold cache: rebuild from completed attempts. Rows arrive best-first,
	// so the first row per user is that user's best.
	rows, err := s.attemptRepo.ListCompletedByExam(ctx, examID, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	seen := make(map[uuid.UUID]bool, len(rows))
	pipe := s.rdb.Pipeline()
	for _, row := range rows {
		if seen[row.UserID] {
			continue
		}
		seen[row.UserID] = true
		entries = append(entries, LeaderboardEntry{
			Rank:   len(entries) + 1,
			UserID: row.UserID.String(),
			Score:  row.TotalScore,
		})
		pipe.ZAddGT(ctx, key, redis.Z{Score: row.TotalScore, Member: row.UserID.String()})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Msg("leaderboard cache rebuild failed")
	}

	return entries, nil
}
