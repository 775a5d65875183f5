package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Saivel1/tddbot/internal/domain"
)

// 锁竞争时的轮询参数
var (
	dedupLockAttempts = 20
	dedupLockPoll     = 100 * time.Millisecond
)

// Exists 检查逻辑相同的任务是否已在队列中
// 以候选任务的 user_id 派生锁键（没有则退化为队列级锁），
// 拿到锁后读取队列全量内容，与候选任务的规范序列化做字符串比对。
// 锁竞争超出重试上限时保守返回 false（扫描是 O(队列长度) 的，
// 这是有意留下的规模上限）
func Exists(ctx context.Context, rdb *redis.Client, name string, task domain.Task) (bool, error) {
	lockKey := name + "_CHECK_LOCK"
	if uid, ok := task.UserID(); ok {
		lockKey = fmt.Sprintf("%s_CHECK_LOCK:%d", name, uid)
	}

	needle, err := task.Marshal()
	if err != nil {
		return false, err
	}

	for attempt := 0; attempt < dedupLockAttempts; attempt++ {
		acquired, err := AcquireLock(ctx, rdb, lockKey, "1", 2*time.Second)
		if err != nil {
			return false, err
		}
		if acquired {
			defer func() {
				if _, err := ReleaseLock(ctx, rdb, lockKey, "1"); err != nil {
					log.Printf("dedup release lock failed: %v", err)
				}
			}()
			items, err := ReadRange(ctx, rdb, name)
			if err != nil {
				return false, err
			}
			target := string(needle)
			for _, item := range items {
				if item == target {
					return true, nil
				}
			}
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(dedupLockPoll):
		}
	}

	log.Printf("dedup lock timeout: queue=%s key=%s", name, lockKey)
	return false, nil
}

// EnqueueTask 规范序列化后入队；调用方需要幂等时先过 Exists
func EnqueueTask(ctx context.Context, rdb *redis.Client, name string, task domain.Task) error {
	b, err := task.Marshal()
	if err != nil {
		return err
	}
	return Enqueue(ctx, rdb, name, string(b))
}
