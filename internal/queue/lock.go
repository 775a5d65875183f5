package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// AcquireLock 尝试获取短 TTL 排他锁（仅当不存在时成功），返回是否成功
// 锁跨进程生效，持有者崩溃后靠 TTL 自动过期兜底
func AcquireLock(ctx context.Context, rdb *redis.Client, key, owner string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, owner, ttl).Result()
}

// ReleaseLock 仅当持有者匹配时释放锁，返回是否释放
func ReleaseLock(ctx context.Context, rdb *redis.Client, key, owner string) (bool, error) {
	script := `
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		else
			return 0
		end`

	cmd := rdb.Eval(ctx, script, []string{key}, owner)
	if err := cmd.Err(); err != nil {
		return false, err
	}
	n, _ := cmd.Int()
	return n == 1, nil
}
