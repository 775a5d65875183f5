package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/queue"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func testLoopConfig(queueName string) LoopConfig {
	return LoopConfig{
		Queue:      queueName,
		PopTimeout: 50 * time.Millisecond,
		RetryDelay: time.Millisecond,
	}
}

func TestLoopRetriesThenSucceeds(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	calls := 0
	handler := func(ctx context.Context, task domain.Task) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}
	loop := NewLoop(rdb, testLoopConfig("Q"), handler, nil)

	require.NoError(t, queue.EnqueueTask(ctx, rdb, "Q", domain.Task{"user_id": int64(1)}))

	res, err := loop.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, res)
	assert.Equal(t, 3, calls)

	// 成功后各处都不残留
	for _, key := range []string{queue.ReadyKey("Q"), queue.InflightKey("Q"), queue.DLQKey("Q")} {
		n, _ := rdb.LLen(ctx, key).Result()
		assert.Zero(t, n, key)
	}
}

func TestLoopExhaustedRequeuesVerbatim(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	handler := func(ctx context.Context, task domain.Task) error {
		return errors.New("still broken")
	}
	loop := NewLoop(rdb, testLoopConfig("Q"), handler, nil)

	task := domain.Task{"user_id": int64(1), "expire": int64(123)}
	require.NoError(t, queue.EnqueueTask(ctx, rdb, "Q", task))
	original, err := rdb.LIndex(ctx, queue.ReadyKey("Q"), 0).Result()
	require.NoError(t, err)

	res, err := loop.RunOnce(ctx)
	assert.Error(t, err)
	assert.Equal(t, ResultNone, res)

	// 重试耗尽：原始载荷逐字节原样回到队首
	head, err := rdb.LIndex(ctx, queue.ReadyKey("Q"), 0).Result()
	require.NoError(t, err)
	assert.Equal(t, original, head)

	n, _ := rdb.LLen(ctx, queue.InflightKey("Q")).Result()
	assert.Zero(t, n)
	n, _ = rdb.LLen(ctx, queue.DLQKey("Q")).Result()
	assert.Zero(t, n, "transient failures never go to the dlq")
}

func TestLoopSkipTask(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	calls := 0
	handler := func(ctx context.Context, task domain.Task) error {
		calls++
		return ErrSkipTask
	}
	loop := NewLoop(rdb, testLoopConfig("Q"), handler, nil)

	require.NoError(t, queue.EnqueueTask(ctx, rdb, "Q", domain.Task{"user_id": int64(1)}))

	res, err := loop.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, res)
	assert.Equal(t, 1, calls, "skip is not retried")

	n, _ := rdb.LLen(ctx, queue.ReadyKey("Q")).Result()
	assert.Zero(t, n)
}

func TestLoopPermanentErrorToDLQ(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	calls := 0
	handler := func(ctx context.Context, task domain.Task) error {
		calls++
		return Permanent(errors.New("unknown model"))
	}
	loop := NewLoop(rdb, testLoopConfig("Q"), handler, nil)

	require.NoError(t, queue.EnqueueTask(ctx, rdb, "Q", domain.Task{"user_id": int64(1)}))

	_, err := loop.RunOnce(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors are not retried")

	dlq, _ := rdb.LLen(ctx, queue.DLQKey("Q")).Result()
	assert.Equal(t, int64(1), dlq)
	ready, _ := rdb.LLen(ctx, queue.ReadyKey("Q")).Result()
	assert.Zero(t, ready)
}

func TestLoopBadPayloadToDLQ(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	handler := func(ctx context.Context, task domain.Task) error {
		t.Fatal("handler must not run for an unparsable payload")
		return nil
	}
	loop := NewLoop(rdb, testLoopConfig("Q"), handler, nil)

	require.NoError(t, queue.Enqueue(ctx, rdb, "Q", "{not json"))

	_, err := loop.RunOnce(ctx)
	assert.Error(t, err)

	dlq, err := rdb.LRange(ctx, queue.DLQKey("Q"), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"{not json"}, dlq)
}

func TestLoopEmptyQueue(t *testing.T) {
	_, rdb := newTestRedis(t)

	loop := NewLoop(rdb, testLoopConfig("Q"), func(ctx context.Context, task domain.Task) error {
		return nil
	}, nil)

	res, err := loop.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultNone, res)
}

func TestPermanentWrapping(t *testing.T) {
	base := errors.New("boom")
	assert.True(t, IsPermanent(Permanent(base)))
	assert.False(t, IsPermanent(base))
	assert.ErrorIs(t, Permanent(base), base)
	assert.Nil(t, Permanent(nil))
}
