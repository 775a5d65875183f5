package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Saivel1/tddbot/internal/cache"
	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/marzban"
	"github.com/Saivel1/tddbot/internal/queue"
	"github.com/Saivel1/tddbot/internal/store"
)

// UserNotifier 面向用户/运营者的通知出口
type UserNotifier interface {
	User(ctx context.Context, chatID int64, text string)
	Operator(ctx context.Context, text string)
}

// TrialActivator 消费 TRIAL_ACTIVATION 队列：
// 加载或创建订阅者，试用已消费则跳过；以 max(now, 面板到期, 本地到期)
// 为基准加试用天数算新到期，投递面板任务与订阅者更新任务，
// 并直接写一份短 TTL 缓存快照让下一次读是热的
type TrialActivator struct {
	rdb       *redis.Client
	st        store.Store
	mz        *marzban.Client
	notifier  UserNotifier
	trialDays int
}

func NewTrialActivator(rdb *redis.Client, st store.Store, mz *marzban.Client, notifier UserNotifier, trialDays int) *TrialActivator {
	return &TrialActivator{rdb: rdb, st: st, mz: mz, notifier: notifier, trialDays: trialDays}
}

func (t *TrialActivator) Handle(ctx context.Context, task domain.Task) error {
	uid, ok := task.UserID()
	if !ok {
		return Permanent(errors.New("trial task requires user_id"))
	}

	rec, err := t.st.GetOne(ctx, "User", map[string]any{"user_id": uid})
	var user *domain.User
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := t.st.Create(ctx, "User", map[string]any{"user_id": uid, "trial_used": false}); err != nil {
			return err
		}
		user = &domain.User{UserID: uid}
		log.Printf("user created: user_id=%d", uid)
	case err != nil:
		return err
	default:
		user, err = domain.UserFromFields(rec)
		if err != nil {
			return err
		}
	}

	if user.TrialUsed {
		return fmt.Errorf("trial already used: user_id=%d: %w", uid, ErrSkipTask)
	}

	username := strconv.FormatInt(uid, 10)
	mzUser, err := t.mz.GetUser(ctx, username)

	var taskType string
	var panelEnd int64
	switch {
	case errors.Is(err, marzban.ErrNotFound):
		taskType = "create"
	case err != nil:
		return err
	default:
		taskType = "modify"
		panelEnd = mzUser.Expire
	}

	// 新到期 = max(now, 面板到期, 本地到期) + 试用天数
	now := time.Now()
	maxVal := now
	if panelEnd > 0 {
		if ts := time.Unix(panelEnd, 0); ts.After(maxVal) {
			maxVal = ts
		}
	}
	if user.SubscriptionEnd != nil && user.SubscriptionEnd.After(maxVal) {
		maxVal = *user.SubscriptionEnd
	}
	newExpire := maxVal.AddDate(0, 0, t.trialDays)

	log.Printf("queueing provision task: user_id=%d expire=%s", uid, newExpire.Format(domain.TimeLayout))
	mzTask := domain.Task{
		domain.FieldType: taskType,
		"user_id":        username,
		"expire":         newExpire.Unix(),
	}
	if err := queue.EnqueueTask(ctx, t.rdb, queue.Marzban, mzTask); err != nil {
		return err
	}

	dbTask := domain.Task{
		domain.FieldModel: "User",
		domain.FieldType:  domain.OpCreate,
		"user_id":         uid,
		"trial_used":      true,
	}
	if err := queue.EnqueueTask(ctx, t.rdb, queue.DB, dbTask); err != nil {
		return err
	}

	snapshot := &domain.User{
		UserID:          uid,
		Username:        user.Username,
		TrialUsed:       true,
		SubscriptionEnd: &newExpire,
	}
	if err := cache.SetUser(ctx, t.rdb, snapshot, 2*time.Hour); err != nil {
		return err
	}

	log.Printf("trial activated: user_id=%d", uid)
	if t.notifier != nil {
		t.notifier.User(ctx, uid, "Пробный период активирован")
	}
	return nil
}

// Loop 组装 TRIAL_ACTIVATION 队列消费循环
func (t *TrialActivator) Loop(rdb *redis.Client, alerter Alerter) *Loop {
	return NewLoop(rdb, LoopConfig{Queue: queue.TrialActivation}, t.Handle, alerter)
}
