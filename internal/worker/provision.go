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

	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/marzban"
	"github.com/Saivel1/tddbot/internal/queue"
)

// Provisioner 消费 MARZBAN 队列：在面板上创建/修改订阅，
// 根据返回的订阅链接属于哪个 DNS 族选择落库的 panel 字段，
// 并向 DB 队列投递 UserLinks + User 两个调和任务
//
// 任务字段:
//
//	type: create | modify
//	user_id, expire（unix 秒）
//	可选 id（面板侧 uuid）、panel（指定面板地址）
type Provisioner struct {
	rdb  *redis.Client
	mz   *marzban.Client
	dns1 string
	dns2 string
}

func NewProvisioner(rdb *redis.Client, mz *marzban.Client, dns1, dns2 string) *Provisioner {
	return &Provisioner{rdb: rdb, mz: mz, dns1: dns1, dns2: dns2}
}

func (p *Provisioner) Handle(ctx context.Context, task domain.Task) error {
	uid, ok := task.UserID()
	if !ok {
		return Permanent(errors.New("provision task requires user_id"))
	}
	expire, ok := domain.AsInt64(task["expire"])
	if !ok {
		return Permanent(errors.New("provision task requires expire"))
	}
	username := strconv.FormatInt(uid, 10)

	client := p.mz
	if panel, ok := task["panel"].(string); ok && panel != "" {
		log.Printf("using panel override: %s", panel)
		client = client.WithBase(panel)
	}

	dbUser := domain.Task{"model": "User"}
	dbLinks := domain.Task{"model": "UserLinks"}

	var res *marzban.User
	var err error

	switch task.Type() {
	case "create":
		spec := marzban.CreateSpec{Username: username, Expire: expire}
		if id, ok := task["id"].(string); ok {
			spec.ID = id
		}
		res, err = client.Create(ctx, spec)
		if errors.Is(err, marzban.ErrConflict) {
			// 面板上已存在：透明转为 modify，落库操作随之转 update
			log.Printf("user exists (conflict), converting to modify: %s", username)
			res, err = client.Modify(ctx, username, expire)
			markUpdate(dbUser, dbLinks, uid, expire)
		} else {
			dbUser[domain.FieldType] = domain.OpCreate
			dbUser["user_id"] = uid
			dbUser["subscription_end"] = time.Unix(expire, 0)

			dbLinks[domain.FieldType] = domain.OpCreate
			dbLinks["user_id"] = uid
			dbLinks["uuid"] = uuid.NewString()
		}
	case "modify":
		res, err = client.Modify(ctx, username, expire)
		markUpdate(dbUser, dbLinks, uid, expire)
	default:
		return Permanent(fmt.Errorf("unknown provision type %q", task.Type()))
	}
	if err != nil {
		return err
	}

	url := res.SubscriptionURL
	switch {
	case strings.Contains(url, p.dns1):
		dbLinks["panel1"] = url
	case strings.Contains(url, p.dns2):
		dbLinks["panel2"] = url
	default:
		return Permanent(fmt.Errorf("unknown panel in url %s", url))
	}

	for _, t := range []domain.Task{dbLinks, dbUser} {
		if err := queue.EnqueueTask(ctx, p.rdb, queue.DB, t); err != nil {
			return err
		}
	}
	log.Printf("provision done: user_id=%d type=%s", uid, task.Type())
	return nil
}

func markUpdate(dbUser, dbLinks domain.Task, uid, expire int64) {
	dbUser[domain.FieldType] = domain.OpUpdate
	dbUser[domain.FieldFilter] = map[string]any{"user_id": uid}
	dbUser["subscription_end"] = time.Unix(expire, 0)

	dbLinks[domain.FieldType] = domain.OpUpdate
	dbLinks[domain.FieldFilter] = map[string]any{"user_id": uid}
}

// Loop 组装 MARZBAN 队列消费循环（带面板可用性门控）
func (p *Provisioner) Loop(rdb *redis.Client, check func(ctx context.Context) bool, alerter Alerter) *Loop {
	return NewLoop(rdb, LoopConfig{
		Queue:             queue.Marzban,
		CheckAvailability: check,
		Service:           "Marzban",
	}, p.Handle, alerter)
}
