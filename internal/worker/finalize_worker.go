package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kotoba-labs/shiken-backend/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	FinalizeBatchSize    = 50
	FinalizeBatchTimeout = 2 * time.Second
	FinalizePollTimeout  = 1 * time.Second
)

// FinalizePayload describes a just-completed attempt queued for leaderboard
// and cache upkeep.
type FinalizePayload struct {
	AttemptID string  `json:"attempt_id"`
	ExamID    string  `json:"exam_id"`
	UserID    string  `json:"user_id"`
	Score     float64 `json:"score"`
	TimeSpent int64   `json:"time_spent"`
}

// FinalizeWorker drains the finalize queue after submissions: it folds each
// completed attempt's score into the per-exam leaderboard sorted set and
// evicts the attempt's timer cache entry. Scoring itself is synchronous in
// the submit path; this worker only does the eventually-consistent cleanup.
type FinalizeWorker struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewFinalizeWorker creates a new FinalizeWorker.
func NewFinalizeWorker(rdb *redis.Client, log zerolog.Logger) *FinalizeWorker {
	return &FinalizeWorker{
		rdb: rdb,
		log: log.With().Str("component", "finalize_worker").Logger(),
	}
}

// Start runs the batching worker loop. Call in a goroutine; returns when ctx
// is cancelled, flushing the remaining batch first.
func (w *FinalizeWorker) Start(ctx context.Context) {
	w.log.Info().Msg("FinalizeWorker started")

	batch := make([]*FinalizePayload, 0, FinalizeBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= FinalizeBatchSize || time.Since(lastFlush) >= FinalizeBatchTimeout) {

			w.flush(context.WithoutCancel(ctx), batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flush(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, FinalizePollTimeout, config.WorkerKey.FinalizeAttemptsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p FinalizePayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

// flush applies one batch in a single pipeline: ZADD GT keeps each user's
// best score on the exam leaderboard, and the attempt timer entry is evicted.
func (w *FinalizeWorker) flush(ctx context.Context, batch []*FinalizePayload) {
	if len(batch) == 0 {
		return
	}

	pipe := w.rdb.Pipeline()
	for _, p := range batch {
		pipe.ZAddGT(ctx, config.CacheKey.ExamLeaderboardKey(p.ExamID), redis.Z{
			Score:  p.Score,
			Member: p.UserID,
		})
		pipe.Del(ctx, config.CacheKey.AttemptTimerKey(p.AttemptID))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Warn().Err(err).Int("batch", len(batch)).Msg("finalize pipeline failed, requeueing")
		for _, p := range batch {
			raw, _ := json.Marshal(p)
			w.rdb.RPush(ctx, config.WorkerKey.FinalizeAttemptsQueue, raw)
		}
		return
	}

	w.log.Debug().Int("batch", len(batch)).Msg("finalize batch applied")
}
