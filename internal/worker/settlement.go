package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/marzban"
	"github.com/Saivel1/tddbot/internal/queue"
)

// Settler 消费 YOO:PROCEED：按已确认支付金额折算订阅天数，
// 延长面板到期并记一条支付流水
type Settler struct {
	rdb           *redis.Client
	mz            *marzban.Client
	notifier      UserNotifier
	pricePerMonth int64
}

func NewSettler(rdb *redis.Client, mz *marzban.Client, notifier UserNotifier, pricePerMonth int64) *Settler {
	return &Settler{rdb: rdb, mz: mz, notifier: notifier, pricePerMonth: pricePerMonth}
}

func (s *Settler) Handle(ctx context.Context, task domain.Task) error {
	uid, ok := task.UserID()
	if !ok {
		return Permanent(errors.New("settlement task requires user_id"))
	}
	amount, ok := domain.AsInt64(task["amount"])
	if !ok {
		return Permanent(fmt.Errorf("settlement task requires amount: user_id=%d", uid))
	}
	orderID, ok := task["order_id"].(string)
	if !ok || orderID == "" {
		return Permanent(fmt.Errorf("settlement task requires order_id: user_id=%d", uid))
	}

	username := strconv.FormatInt(uid, 10)
	mzUser, err := s.mz.GetUser(ctx, username)

	now := time.Now()
	var taskType string
	var expire time.Time
	switch {
	case errors.Is(err, marzban.ErrNotFound):
		taskType = "create"
		expire = now
	case err != nil:
		return err
	default:
		taskType = "modify"
		expire = time.Unix(mzUser.Expire, 0)
	}
	// 已过期的从现在起算，未过期的在剩余时长上续
	if expire.Before(now) {
		expire = now
	}

	// 不足整月的部分不折算天数
	days := int(amount / s.pricePerMonth * 30)
	newExpire := expire.AddDate(0, 0, days)
	log.Printf("settling payment: user_id=%d amount=%d days=%d order_id=%s", uid, amount, days, orderID)

	mzTask := domain.Task{
		domain.FieldType: taskType,
		"user_id":        username,
		"expire":         newExpire.Unix(),
	}
	if err := queue.EnqueueTask(ctx, s.rdb, queue.Marzban, mzTask); err != nil {
		return err
	}

	userTask := domain.Task{
		domain.FieldModel:  "User",
		domain.FieldType:   domain.OpCreate,
		"user_id":          uid,
		"subscription_end": newExpire,
	}
	if err := queue.EnqueueTask(ctx, s.rdb, queue.DB, userTask); err != nil {
		return err
	}

	payTask := domain.Task{
		domain.FieldModel: "PaymentData",
		domain.FieldType:  domain.OpCreate,
		"user_id":         uid,
		"payment_id":      orderID,
		"amount":          amount,
	}
	if err := queue.EnqueueTask(ctx, s.rdb, queue.DB, payTask); err != nil {
		return err
	}

	if s.notifier != nil {
		s.notifier.User(ctx, uid, fmt.Sprintf("Оплата получена, подписка продлена на %d дней", days))
		s.notifier.Operator(ctx, fmt.Sprintf("Оплата %d руб. от пользователя %d, заказ %s", amount, uid, orderID))
	}
	return nil
}

// Loop 组装 YOO:PROCEED 消费循环，带面板可用性闸门
func (s *Settler) Loop(rdb *redis.Client, check func(ctx context.Context) bool, alerter Alerter) *Loop {
	return NewLoop(rdb, LoopConfig{
		Queue:             queue.Settlement,
		Service:           "Marzban",
		CheckAvailability: check,
	}, s.Handle, alerter)
}
