package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/queue"
)

// PopularAmount 热门充值面额
const PopularAmount = 50

const payLockTTL = time.Minute

func PopPayKey(userID int64) string {
	return fmt.Sprintf("POP_PAY_CHOOSE:%d", userID)
}

func popPayLockKey(userID int64) string {
	return fmt.Sprintf("POP_PAY_LOCK:%d", userID)
}

// Payments 热门面额支付链接缓存
// 未命中时仅一个调用方向支付队列投递创建任务，其余等待回填
type Payments struct {
	rdb *redis.Client

	WaitAttempts int
	WaitPoll     time.Duration
}

func NewPayments(rdb *redis.Client) *Payments {
	return &Payments{rdb: rdb, WaitAttempts: 100, WaitPoll: 100 * time.Millisecond}
}

// PopularURL 获取（或触发创建）热门面额的支付链接
func (p *Payments) PopularURL(ctx context.Context, userID int64) (string, error) {
	payKey := PopPayKey(userID)

	raw, err := p.rdb.Get(ctx, payKey).Result()
	if err == nil {
		return parsePaymentURL(raw)
	}
	if !errors.Is(err, redis.Nil) {
		return "", err
	}

	acquired, err := queue.AcquireLock(ctx, p.rdb, popPayLockKey(userID), "1", payLockTTL)
	if err != nil {
		return "", err
	}

	if acquired {
		defer func() {
			if _, err := queue.ReleaseLock(ctx, p.rdb, popPayLockKey(userID), "1"); err != nil {
				log.Printf("payment release lock failed: user_id=%d err=%v", userID, err)
			}
		}()

		// double-check
		raw, err := p.rdb.Get(ctx, payKey).Result()
		if err == nil {
			return parsePaymentURL(raw)
		}
		if !errors.Is(err, redis.Nil) {
			return "", err
		}

		task := domain.Task{"user_id": userID, "amount": int64(PopularAmount)}
		if err := queue.EnqueueTask(ctx, p.rdb, queue.Payment, task); err != nil {
			return "", err
		}
		log.Printf("payment queued: user_id=%d amount=%d", userID, PopularAmount)

		return p.waitForPayment(ctx, payKey)
	}

	// 他方正在创建，等待结果
	return p.waitForPayment(ctx, payKey)
}

func (p *Payments) waitForPayment(ctx context.Context, payKey string) (string, error) {
	for attempt := 0; attempt < p.WaitAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.WaitPoll):
		}
		raw, err := p.rdb.Get(ctx, payKey).Result()
		if err == nil {
			return parsePaymentURL(raw)
		}
		if !errors.Is(err, redis.Nil) {
			return "", err
		}
	}
	return "", ErrWaitTimeout
}

func parsePaymentURL(raw string) (string, error) {
	var data struct {
		PaymentURL string `json:"payment_url"`
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return "", fmt.Errorf("cache: bad payment snapshot: %w", err)
	}
	return data.PaymentURL, nil
}
