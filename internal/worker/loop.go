// Package worker 队列消费循环与各业务处理器
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/queue"
)

// Handler 处理一个任务信封
// 返回 nil 表示成功；ErrSkipTask 丢弃；Permanent 包装的错误进死信；
// 其余错误按循环配置重试
type Handler func(ctx context.Context, task domain.Task) error

// Alerter 持续不可用时的升级通知
type Alerter interface {
	ServiceDown(ctx context.Context, service string)
}

// Result 单步执行结果（单发模式返回给测试）
type Result string

const (
	ResultNone    Result = ""
	ResultOK      Result = "ok"
	ResultSkipped Result = "skipped"
)

type LoopConfig struct {
	Queue      string
	PopTimeout time.Duration // 阻塞取任务的超时，默认 5s
	MaxRetries int           // 进程内重试上限，默认 3
	RetryDelay time.Duration // 重试间隔，默认 1s
	Visibility time.Duration // in-flight 可见性窗口，默认 30s

	// 上游服务可用性探测，整个循环暂停而不是单任务失败
	CheckAvailability func(ctx context.Context) bool
	Service           string        // 升级通知里的服务名
	WaitInterval      time.Duration // 不可用时的等待间隔，默认 10s
	DownThreshold     int           // 连续不可用多少次后升级，默认 60（10 分钟）
}

type Loop struct {
	rdb     *redis.Client
	cfg     LoopConfig
	handler Handler
	alerter Alerter
}

func NewLoop(rdb *redis.Client, cfg LoopConfig, handler Handler, alerter Alerter) *Loop {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 30 * time.Second
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = 10 * time.Second
	}
	if cfg.DownThreshold <= 0 {
		cfg.DownThreshold = 60
	}
	if cfg.Service == "" {
		cfg.Service = cfg.Queue
	}
	return &Loop{rdb: rdb, cfg: cfg, handler: handler, alerter: alerter}
}

// Run 常驻消费循环，ctx 取消后退出
func (l *Loop) Run(ctx context.Context) {
	log.Printf("worker loop started: queue=%s", l.cfg.Queue)
	downCnt := 0
	for {
		if ctx.Err() != nil {
			log.Printf("worker loop stopped: queue=%s", l.cfg.Queue)
			return
		}

		// 上游不可用时暂停整个循环，连续超阈值则升级通知
		if l.cfg.CheckAvailability != nil {
			for !l.cfg.CheckAvailability(ctx) {
				if !sleepCtx(ctx, l.cfg.WaitInterval) {
					return
				}
				downCnt++
				if downCnt == l.cfg.DownThreshold {
					log.Printf("service unavailable for too long: %s", l.cfg.Service)
					if l.alerter != nil {
						l.alerter.ServiceDown(ctx, l.cfg.Service)
					}
					downCnt = 0
				}
			}
		}

		payload, err := queue.Reserve(ctx, l.rdb, l.cfg.Queue, l.cfg.PopTimeout, l.cfg.Visibility)
		downCnt = 0
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("reserve failed: queue=%s err=%v", l.cfg.Queue, err)
			sleepCtx(ctx, l.cfg.RetryDelay)
			continue
		}

		l.process(ctx, payload, false)
	}
}

// RunOnce 单发模式：最多驱动一个任务后返回，测试用
// 队列为空返回 ResultNone；重试耗尽或结构性错误时任务已按策略
// 回推/入死信，错误原样返回
func (l *Loop) RunOnce(ctx context.Context) (Result, error) {
	payload, err := queue.Reserve(ctx, l.rdb, l.cfg.Queue, l.cfg.PopTimeout, l.cfg.Visibility)
	if err != nil {
		if errors.Is(err, queue.ErrEmpty) {
			return ResultNone, nil
		}
		return ResultNone, err
	}
	return l.process(ctx, payload, true)
}

func (l *Loop) process(ctx context.Context, payload string, singleShot bool) (Result, error) {
	task, err := domain.ParseTask([]byte(payload))
	if err != nil {
		// 载荷坏了重试也无济于事，直接进死信
		log.Printf("bad payload: queue=%s err=%v", l.cfg.Queue, err)
		l.toDLQ(ctx, payload)
		return ResultNone, err
	}

	for attempt := 1; attempt <= l.cfg.MaxRetries; attempt++ {
		err := l.handler(ctx, task)
		if err == nil {
			if ackErr := queue.Ack(ctx, l.rdb, l.cfg.Queue, payload); ackErr != nil {
				log.Printf("ack failed: queue=%s err=%v", l.cfg.Queue, ackErr)
			}
			return ResultOK, nil
		}

		if errors.Is(err, ErrSkipTask) {
			log.Printf("task skipped: queue=%s - %v", l.cfg.Queue, err)
			_ = queue.Ack(ctx, l.rdb, l.cfg.Queue, payload)
			return ResultSkipped, nil
		}

		if IsPermanent(err) {
			log.Printf("permanent error, task to dlq: queue=%s err=%v", l.cfg.Queue, err)
			l.toDLQ(ctx, payload)
			if singleShot {
				return ResultNone, err
			}
			return ResultNone, nil
		}

		log.Printf("handler error: queue=%s attempt=%d/%d err=%v", l.cfg.Queue, attempt, l.cfg.MaxRetries, err)
		if attempt < l.cfg.MaxRetries {
			sleepCtx(ctx, l.cfg.RetryDelay)
			continue
		}

		// 重试耗尽：原始载荷原样回推队首
		log.Printf("retries exhausted, re-queuing: queue=%s", l.cfg.Queue)
		if rqErr := queue.RequeueHead(ctx, l.rdb, l.cfg.Queue, payload); rqErr != nil {
			log.Printf("requeue failed: queue=%s err=%v", l.cfg.Queue, rqErr)
		}
		if singleShot {
			return ResultNone, err
		}
		sleepCtx(ctx, l.cfg.RetryDelay)
		return ResultNone, nil
	}
	return ResultNone, nil
}

func (l *Loop) toDLQ(ctx context.Context, payload string) {
	if err := queue.EnqueueDLQ(ctx, l.rdb, l.cfg.Queue, payload); err != nil {
		log.Printf("enqueue dlq failed: queue=%s err=%v", l.cfg.Queue, err)
	}
	_ = queue.Ack(ctx, l.rdb, l.cfg.Queue, payload)
}

// sleepCtx 可取消的睡眠，ctx 结束返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
