package worker

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Saivel1/tddbot/internal/queue"
)

// StartSweeper 周期回收超时的 inflight 任务到就绪队列，
// 每个队列独立加锁，多实例下只有一个清扫者生效
func StartSweeper(ctx context.Context, rdb *redis.Client, queues []string, workerID string, interval time.Duration) {
	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tkr.C:
			for _, q := range queues {
				lockKey := "lock:inflight_sweep:" + q
				// 获取锁
				got, err := queue.AcquireLock(ctx, rdb, lockKey, workerID, 5*time.Second)
				if err != nil || !got {
					continue
				}
				// 回收超过可见期的任务
				swept, err := queue.SweepInflight(ctx, rdb, q, time.Now())
				if err != nil {
					log.Printf("sweep inflight failed: queue=%s err=%v", q, err)
				} else if swept > 0 {
					log.Printf("inflight requeued: queue=%s count=%d", q, swept)
				}
				// 释放锁
				_, _ = queue.ReleaseLock(ctx, rdb, lockKey, workerID)
			}
		}
	}
}
