package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func heartbeatKey(workerID string) string {
	return "worker:" + workerID + ":heartbeat"
}

// StartHeartbeat 周期刷新 Worker 心跳键，值为最近一次上报时间，
// 键过期即视为实例失联
func StartHeartbeat(ctx context.Context, rdb *redis.Client, workerID string, ttl, interval time.Duration) {
	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	beat := func() {
		_ = rdb.Set(ctx, heartbeatKey(workerID), time.Now().Format(time.RFC3339), ttl).Err()
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tkr.C:
			beat()
		}
	}
}
