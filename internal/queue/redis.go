// Package queue 提供基于 Redis 的任务队列实现
// 使用 Redis List 数据结构，任务从头部插入（LPUSH）、从尾部阻塞取出，
// 取出时原子搬入 in-flight 列表并登记可见性截止时间，处理完成后确认移除；
// 崩溃遗留的 in-flight 任务由清扫器按截止时间归还就绪队列。
// 另有死信列表存放结构性错误的任务。
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 固定队列名
const (
	DB              = "DB"
	Marzban         = "MARZBAN"
	TrialActivation = "TRIAL_ACTIVATION"
	Payment         = "PAYMENT_QUEUE"
	Settlement      = "YOO:PROCEED"
)

// ErrEmpty 阻塞等待超时、无任务可取
var ErrEmpty = errors.New("queue: no task available")

// ReadyKey 就绪队列的 Redis key
// 格式 "queue:{name}:ready"，List 结构，保存待处理任务
func ReadyKey(name string) string {
	return "queue:" + name + ":ready"
}

// InflightKey 在处理中任务的 Redis key
// 格式 "queue:{name}:inflight"，List 结构；
// 配套 Hash（InflightDeadlineKey）按载荷记录可见性截止时间
func InflightKey(name string) string {
	return "queue:" + name + ":inflight"
}

// InflightDeadlineKey in-flight 截止时间 Hash 的 key
func InflightDeadlineKey(name string) string {
	return "queue:" + name + ":inflight:deadlines"
}

// DLQKey 死信队列的 Redis key
// 格式 "queue:{name}:dlq"，存放结构性错误、无法靠重试修复的任务
func DLQKey(name string) string {
	return "queue:" + name + ":dlq"
}

// Enqueue 将任务插入就绪队列头部
// 消费端从尾部取出，先入先出；失败回推走 RequeueHead，载荷逐字节原样
func Enqueue(ctx context.Context, rdb *redis.Client, name string, payload string) error {
	return rdb.LPush(ctx, ReadyKey(name), payload).Err()
}

// Reserve 阻塞取出一个任务并搬入 in-flight 列表
// 参数:
//
//	timeout: 阻塞等待上限，超时返回 ErrEmpty
//	visibility: 可见性窗口，超过后清扫器会把任务归还就绪队列
//
// 实现:
//
//	BLMOVE 原子地把尾部元素移到 in-flight 头部，
//	然后在 Hash 中记录该载荷的截止时间戳
func Reserve(ctx context.Context, rdb *redis.Client, name string, timeout, visibility time.Duration) (string, error) {
	payload, err := rdb.BLMove(ctx, ReadyKey(name), InflightKey(name), "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		return "", err
	}
	deadline := time.Now().Add(visibility).Unix()
	if err := rdb.HSet(ctx, InflightDeadlineKey(name), payload, deadline).Err(); err != nil {
		// 没登记截止时间的 in-flight 任务清扫器永远看不见，归还就绪队列
		_ = RequeueHead(ctx, rdb, name, payload)
		return "", fmt.Errorf("record inflight deadline: %w", err)
	}
	return payload, nil
}

// Ack 确认任务处理完毕，从 in-flight 列表与截止时间表移除
func Ack(ctx context.Context, rdb *redis.Client, name string, payload string) error {
	pipe := rdb.TxPipeline()
	pipe.LRem(ctx, InflightKey(name), 1, payload)
	pipe.HDel(ctx, InflightDeadlineKey(name), payload)
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueHead 把原始载荷原样推回就绪队列头部并确认 in-flight，
// 用于重试耗尽和预订中途失败的归还
func RequeueHead(ctx context.Context, rdb *redis.Client, name string, payload string) error {
	if err := rdb.LPush(ctx, ReadyKey(name), payload).Err(); err != nil {
		return err
	}
	return Ack(ctx, rdb, name, payload)
}

// SweepInflight 把可见性截止时间已过的 in-flight 任务归还就绪队列
// 返回归还数量；清扫器在分布式锁保护下周期调用
func SweepInflight(ctx context.Context, rdb *redis.Client, name string, now time.Time) (int, error) {
	deadlines, err := rdb.HGetAll(ctx, InflightDeadlineKey(name)).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for payload, raw := range deadlines {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ts > now.Unix() {
			continue
		}
		removed, err := rdb.LRem(ctx, InflightKey(name), 1, payload).Result()
		if err != nil {
			return moved, err
		}
		if removed > 0 {
			if err := rdb.LPush(ctx, ReadyKey(name), payload).Err(); err != nil {
				return moved, err
			}
			moved++
		}
		_ = rdb.HDel(ctx, InflightDeadlineKey(name), payload).Err()
	}
	return moved, nil
}

// ReadRange 读取就绪队列当前全部内容（去重检查、巡检接口用）
func ReadRange(ctx context.Context, rdb *redis.Client, name string) ([]string, error) {
	return rdb.LRange(ctx, ReadyKey(name), 0, -1).Result()
}

// EnqueueDLQ 将任务加入死信队列
func EnqueueDLQ(ctx context.Context, rdb *redis.Client, name string, payload string) error {
	return rdb.RPush(ctx, DLQKey(name), payload).Err()
}

// ListDLQ 查看死信队列内容，不移除
func ListDLQ(ctx context.Context, rdb *redis.Client, name string, start, stop int64) ([]string, error) {
	return rdb.LRange(ctx, DLQKey(name), start, stop).Result()
}

// ReplayDLQ 把最多 count 个死信任务搬回就绪队列，返回实际数量
func ReplayDLQ(ctx context.Context, rdb *redis.Client, name string, count int) (int, error) {
	moved := 0
	for i := 0; i < count; i++ {
		val, err := rdb.LPop(ctx, DLQKey(name)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return moved, err
		}
		if err := rdb.LPush(ctx, ReadyKey(name), val).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Connect 建立 Redis 连接并验证
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}
