package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Saivel1/tddbot/internal/cache"
	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/queue"
	"github.com/Saivel1/tddbot/internal/store"
)

// Reconciler 消费 DB 队列的模型变更任务，把请求的 CREATE/UPDATE
// 与持久层现状收敛：已存在且无差异 → 丢弃；已存在但请求 CREATE →
// 转 UPDATE；不存在但请求 UPDATE → 转 CREATE（UserLinks 另生成新句柄）。
// User / UserLinks 写后回读并刷新对应缓存项
type Reconciler struct {
	rdb *redis.Client
	st  store.Store
}

func NewReconciler(rdb *redis.Client, st store.Store) *Reconciler {
	return &Reconciler{rdb: rdb, st: st}
}

func (r *Reconciler) Handle(ctx context.Context, task domain.Task) error {
	model := task.Model()
	info, ok := domain.Models[model]
	if !ok {
		return Permanent(fmt.Errorf("unknown model %q", model))
	}
	log.Printf("db task: model=%s type=%s", model, task.Type())

	task = task.Deserialize()
	opType := strings.ToLower(task.Type())
	fields := task.Fields()
	filter := task.Filter()

	if info.UniqueUserID {
		uid, ok := task.UserID()
		if !ok {
			return Permanent(fmt.Errorf("%s requires user_id", model))
		}

		existing, err := r.st.GetOne(ctx, model, map[string]any{"user_id": uid})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err == nil {
			if !hasChanges(existing, fields) {
				log.Printf("no changes: model=%s user_id=%d", model, uid)
				return ErrSkipTask
			}
			if opType == domain.OpCreate {
				// 记录已存在：CREATE 静默转 UPDATE
				log.Printf("create converted to update: model=%s user_id=%d", model, uid)
				opType = domain.OpUpdate
				filter = map[string]any{"user_id": uid}
				delete(fields, "user_id")
			}
		} else {
			if opType == domain.OpUpdate {
				// 记录不存在：UPDATE 转 CREATE，补回标识
				log.Printf("update converted to create: model=%s user_id=%d", model, uid)
				opType = domain.OpCreate
				fields["user_id"] = uid
				if model == "UserLinks" {
					fields["uuid"] = uuid.NewString()
				}
				filter = nil
			}
		}
	}

	switch opType {
	case domain.OpCreate:
		if err := r.st.Create(ctx, model, fields); err != nil {
			return err
		}
		log.Printf("created: model=%s", model)
	case domain.OpUpdate:
		if len(filter) == 0 {
			return Permanent(errors.New("update requires filter"))
		}
		upd := make(map[string]any, len(fields))
		for k, v := range fields {
			if k == "user_id" {
				continue
			}
			upd[k] = v
		}
		n, err := r.st.Update(ctx, model, upd, filter)
		if err != nil {
			return err
		}
		log.Printf("updated: model=%s rows=%d", model, n)
	default:
		return Permanent(fmt.Errorf("unknown operation type %q", opType))
	}

	// 写后回读并刷新缓存，这是与写绑定的唯一缓存失效路径
	switch model {
	case "User":
		uid, _ := task.UserID()
		rec, err := r.st.GetOne(ctx, model, map[string]any{"user_id": uid})
		if err != nil {
			return err
		}
		user, err := domain.UserFromFields(rec)
		if err != nil {
			return err
		}
		if err := cache.SetUser(ctx, r.rdb, user, cache.TTLWrite); err != nil {
			return err
		}
	case "UserLinks":
		uid, _ := task.UserID()
		rec, err := r.st.GetOne(ctx, model, map[string]any{"user_id": uid})
		if err != nil {
			return err
		}
		link, err := domain.LinkFromFields(rec)
		if err != nil {
			return err
		}
		if err := cache.SetLinkHandle(ctx, r.rdb, uid, link.UUID, cache.TTLWrite); err != nil {
			return err
		}
	}

	return nil
}

// Loop 按默认策略组装 DB 队列消费循环
func (r *Reconciler) Loop(rdb *redis.Client, check func(ctx context.Context) bool, alerter Alerter) *Loop {
	return NewLoop(rdb, LoopConfig{
		Queue:             queue.DB,
		CheckAvailability: check,
		Service:           "DB",
	}, r.Handle, alerter)
}

// hasChanges 候选字段（去掉标识本身）与现状逐个归一化比较
func hasChanges(current, candidate map[string]any) bool {
	for k, nv := range candidate {
		if k == "user_id" || nv == nil {
			continue
		}
		cv, okCur := current[k]
		if !okCur || cv == nil {
			return true
		}
		if normalizeValue(nv) != normalizeValue(cv) {
			log.Printf("change: %s=%v -> %v", k, cv, nv)
			return true
		}
	}
	return false
}

// normalizeValue 值归一化为可比较的文本：时间戳转规范格式
func normalizeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.UTC().Format(domain.TimeLayout)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.UTC().Format(domain.TimeLayout)
	case string:
		if ts, err := time.Parse(domain.TimeLayout, val); err == nil {
			return ts.UTC().Format(domain.TimeLayout)
		}
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
