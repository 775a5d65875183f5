package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestReserveAck(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, Enqueue(ctx, rdb, "Q", `{"a":1}`))
	require.NoError(t, Enqueue(ctx, rdb, "Q", `{"a":2}`))

	// 先进先出
	payload, err := Reserve(ctx, rdb, "Q", 100*time.Millisecond, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, payload)

	// 已搬入 in-flight 并登记截止时间
	inflight, err := rdb.LRange(ctx, InflightKey("Q"), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`}, inflight)
	deadline, err := rdb.HGet(ctx, InflightDeadlineKey("Q"), payload).Result()
	require.NoError(t, err)
	assert.NotEmpty(t, deadline)

	require.NoError(t, Ack(ctx, rdb, "Q", payload))
	n, _ := rdb.LLen(ctx, InflightKey("Q")).Result()
	assert.Zero(t, n)
	exists, _ := rdb.HExists(ctx, InflightDeadlineKey("Q"), payload).Result()
	assert.False(t, exists)
}

func TestReserveDeadlineWriteFailure(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	// 截止时间表被占成 string 类型，HSET 必然失败
	require.NoError(t, rdb.Set(ctx, InflightDeadlineKey("Q"), "clobbered", 0).Err())
	require.NoError(t, Enqueue(ctx, rdb, "Q", `{"a":1}`))

	_, err := Reserve(ctx, rdb, "Q", 100*time.Millisecond, 30*time.Second)
	require.Error(t, err)

	// 任务不能卡在 in-flight 里无人清扫，必须回到就绪队列
	n, _ := rdb.LLen(ctx, InflightKey("Q")).Result()
	assert.Zero(t, n)
	ready, err := rdb.LRange(ctx, ReadyKey("Q"), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`}, ready)
}

func TestReserveEmpty(t *testing.T) {
	_, rdb := newTestRedis(t)
	_, err := Reserve(context.Background(), rdb, "Q", 50*time.Millisecond, time.Second)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRequeueHead(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, Enqueue(ctx, rdb, "Q", `{"a":1}`))
	require.NoError(t, Enqueue(ctx, rdb, "Q", `{"a":2}`))

	payload, err := Reserve(ctx, rdb, "Q", 100*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NoError(t, RequeueHead(ctx, rdb, "Q", payload))

	// 回推后原样排在队首，下一轮最先被取出
	head, err := rdb.LIndex(ctx, ReadyKey("Q"), 0).Result()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, head)

	again, err := Reserve(ctx, rdb, "Q", 100*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, payload, again, "requeued task goes to the head, tail comes out first")

	// in-flight 不残留回推的任务
	inflight, _ := rdb.LRange(ctx, InflightKey("Q"), 0, -1).Result()
	assert.Equal(t, []string{`{"a":2}`}, inflight)
}

func TestSweepInflight(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, Enqueue(ctx, rdb, "Q", `{"a":1}`))
	payload, err := Reserve(ctx, rdb, "Q", 100*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)

	// 可见性窗口未过：不回收
	moved, err := SweepInflight(ctx, rdb, "Q", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, moved)

	// 窗口已过：归还就绪队列
	moved, err = SweepInflight(ctx, rdb, "Q", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	ready, _ := rdb.LRange(ctx, ReadyKey("Q"), 0, -1).Result()
	assert.Equal(t, []string{payload}, ready)
	n, _ := rdb.LLen(ctx, InflightKey("Q")).Result()
	assert.Zero(t, n)
}

func TestDLQReplay(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, EnqueueDLQ(ctx, rdb, "Q", `{"bad":1}`))
	require.NoError(t, EnqueueDLQ(ctx, rdb, "Q", `{"bad":2}`))

	items, err := ListDLQ(ctx, rdb, "Q", 0, -1)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	moved, err := ReplayDLQ(ctx, rdb, "Q", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	left, _ := rdb.LLen(ctx, DLQKey("Q")).Result()
	assert.Zero(t, left)
	ready, _ := rdb.LLen(ctx, ReadyKey("Q")).Result()
	assert.Equal(t, int64(2), ready)
}

func TestLockOwnership(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	got, err := AcquireLock(ctx, rdb, "lock:x", "w1", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = AcquireLock(ctx, rdb, "lock:x", "w2", time.Minute)
	require.NoError(t, err)
	assert.False(t, got)

	// 非持有者释放不掉
	released, err := ReleaseLock(ctx, rdb, "lock:x", "w2")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = ReleaseLock(ctx, rdb, "lock:x", "w1")
	require.NoError(t, err)
	assert.True(t, released)
}
