package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Saivel1/tddbot/internal/cache"
	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/queue"
	"github.com/Saivel1/tddbot/internal/yoopay"
)

const (
	payChooseTTL = 600 * time.Second
	payOrderTTL  = 700 * time.Second
)

// PaymentGateway 支付单创建出口
type PaymentGateway interface {
	CreatePayment(ctx context.Context, amount int64, description string) (url, id string, err error)
}

// PaymentCreator 消费 PAYMENT_QUEUE：为等待中的调用方创建支付单，
// 回填支付链接缓存并登记订单到用户的映射供回调查询
type PaymentCreator struct {
	rdb *redis.Client
	yoo PaymentGateway
}

func NewPaymentCreator(rdb *redis.Client, yoo PaymentGateway) *PaymentCreator {
	return &PaymentCreator{rdb: rdb, yoo: yoo}
}

func (p *PaymentCreator) Handle(ctx context.Context, task domain.Task) error {
	uid, ok := task.UserID()
	if !ok {
		return Permanent(errors.New("payment task requires user_id"))
	}
	amount, ok := domain.AsInt64(task["amount"])
	if !ok {
		return Permanent(fmt.Errorf("payment task requires amount: user_id=%d", uid))
	}

	// 链接已在，说明另一轮已经创建过了
	payKey := cache.PopPayKey(uid)
	exists, err := p.rdb.Exists(ctx, payKey).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("payment already created: user_id=%d: %w", uid, ErrSkipTask)
	}

	url, paymentID, err := p.yoo.CreatePayment(ctx, amount, fmt.Sprintf("Подписка, пользователь %d", uid))
	if err != nil {
		return err
	}

	choose, err := json.Marshal(map[string]string{
		"payment_url": url,
		"payment_id":  paymentID,
	})
	if err != nil {
		return err
	}
	if err := p.rdb.Set(ctx, payKey, choose, payChooseTTL).Err(); err != nil {
		return err
	}

	order, err := json.Marshal(map[string]any{
		"user_id": uid,
		"amount":  amount,
	})
	if err != nil {
		return err
	}
	if err := p.rdb.Set(ctx, yoopay.OrderKey(paymentID), order, payOrderTTL).Err(); err != nil {
		return err
	}

	log.Printf("payment created: user_id=%d amount=%d payment_id=%s", uid, amount, paymentID)
	return nil
}

// Loop 组装 PAYMENT_QUEUE 消费循环
func (p *PaymentCreator) Loop(rdb *redis.Client, alerter Alerter) *Loop {
	return NewLoop(rdb, LoopConfig{Queue: queue.Payment}, p.Handle, alerter)
}
