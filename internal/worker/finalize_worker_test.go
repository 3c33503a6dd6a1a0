package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kotoba-labs/shiken-backend/internal/config"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

func enqueue(t *testing.T, rdb *redis.Client, p FinalizePayload) {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := rdb.RPush(context.Background(), config.WorkerKey.FinalizeAttemptsQueue, raw).Err(); err != nil {
		t.Fatalf("rpush: %v", err)
	}
}

func runWorkerUntilDrained(t *testing.T, rdb *redis.Client) {
	t.Helper()
	w := NewFinalizeWorker(rdb, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(ctx)
	}()

	// Give the worker time to drain the queue, then let the shutdown path
	// flush whatever it batched.
	deadline := time.After(3 * time.Second)
	for {
		n, err := rdb.LLen(context.Background(), config.WorkerKey.FinalizeAttemptsQueue).Result()
		if err == nil && n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker never drained the queue")
		case <-time.After(50 * time.Millisecond):
		}
	}
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestFinalizeWorkerUpdatesLeaderboard(t *testing.T) {
	rdb, _ := newTestRedis(t)
	examID := uuid.New().String()
	alice := uuid.New().String()
	bob := uuid.New().String()

	// Alice improves from 50 to 80; a later 60 must not regress her best.
	enqueue(t, rdb, FinalizePayload{AttemptID: uuid.New().String(), ExamID: examID, UserID: alice, Score: 50})
	enqueue(t, rdb, FinalizePayload{AttemptID: uuid.New().String(), ExamID: examID, UserID: alice, Score: 80})
	enqueue(t, rdb, FinalizePayload{AttemptID: uuid.New().String(), ExamID: examID, UserID: alice, Score: 60})
	enqueue(t, rdb, FinalizePayload{AttemptID: uuid.New().String(), ExamID: examID, UserID: bob, Score: 70})

	runWorkerUntilDrained(t, rdb)

	ctx := context.Background()
	key := config.CacheKey.ExamLeaderboardKey(examID)

	aliceScore, err := rdb.ZScore(ctx, key, alice).Result()
	if err != nil {
		t.Fatalf("alice missing from leaderboard: %v", err)
	}
	if aliceScore != 80 {
		t.Errorf("alice score = %v, want best of 80", aliceScore)
	}

	bobScore, err := rdb.ZScore(ctx, key, bob).Result()
	if err != nil {
		t.Fatalf("bob missing from leaderboard: %v", err)
	}
	if bobScore != 70 {
		t.Errorf("bob score = %v, want 70", bobScore)
	}
}

func TestFinalizeWorkerEvictsTimerCache(t *testing.T) {
	rdb, mr := newTestRedis(t)
	attemptID := uuid.New().String()
	timerKey := config.CacheKey.AttemptTimerKey(attemptID)
	mr.Set(timerKey, "1770000000:60")

	enqueue(t, rdb, FinalizePayload{
		AttemptID: attemptID,
		ExamID:    uuid.New().String(),
		UserID:    uuid.New().String(),
		Score:     90,
	})

	runWorkerUntilDrained(t, rdb)

	if mr.Exists(timerKey) {
		t.Error("timer cache entry survived finalization")
	}
}
