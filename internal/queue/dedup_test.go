package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saivel1/tddbot/internal/domain"
)

func TestExistsDetectsLogicalDuplicate(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	task := domain.Task{
		"model":            "User",
		"type":             "create",
		"user_id":          int64(42),
		"subscription_end": ts,
	}
	require.NoError(t, EnqueueTask(ctx, rdb, "Q", task))

	t.Run("identical content different construction", func(t *testing.T) {
		// 字段顺序、数值类型、时区表示都不同，但逻辑相同
		candidate := domain.Task{
			"subscription_end": ts.In(time.FixedZone("MSK", 3*3600)),
			"user_id":          float64(42),
			"type":             "create",
			"model":            "User",
		}
		dup, err := Exists(ctx, rdb, "Q", candidate)
		require.NoError(t, err)
		assert.True(t, dup)
	})

	t.Run("different payload is not a duplicate", func(t *testing.T) {
		candidate := domain.Task{
			"model":   "User",
			"type":    "create",
			"user_id": int64(43),
		}
		dup, err := Exists(ctx, rdb, "Q", candidate)
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("other queue not consulted", func(t *testing.T) {
		dup, err := Exists(ctx, rdb, "OTHER", task)
		require.NoError(t, err)
		assert.False(t, dup)
	})
}

func TestExistsLockContention(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	prevAttempts, prevPoll := dedupLockAttempts, dedupLockPoll
	dedupLockAttempts, dedupLockPoll = 3, time.Millisecond
	defer func() { dedupLockAttempts, dedupLockPoll = prevAttempts, prevPoll }()

	task := domain.Task{"model": "User", "user_id": int64(7)}
	require.NoError(t, EnqueueTask(ctx, rdb, "Q", task))

	// 他方持锁不放：检查放弃并保守放行
	got, err := AcquireLock(ctx, rdb, "Q_CHECK_LOCK:7", "other", time.Minute)
	require.NoError(t, err)
	require.True(t, got)

	dup, err := Exists(ctx, rdb, "Q", task)
	require.NoError(t, err)
	assert.False(t, dup, "lock timeout must degrade to allowing the enqueue")
}

func TestExistsQueueLevelLockWithoutUserID(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	task := domain.Task{"model": "PaymentData", "payment_id": "p-1"}
	require.NoError(t, EnqueueTask(ctx, rdb, "Q", task))

	dup, err := Exists(ctx, rdb, "Q", task)
	require.NoError(t, err)
	assert.True(t, dup)

	// 扫描结束后锁已释放
	n, _ := rdb.Exists(ctx, "Q_CHECK_LOCK").Result()
	assert.Zero(t, n)
}
