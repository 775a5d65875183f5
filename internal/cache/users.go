// Package cache 订阅者快照的 cache-aside 管理
// 未命中时在分布式锁保护下回源加载，把 N 个并发冷读收敛为一次 DB 查询；
// 拿不到锁的一方对缓存做有界轮询，超出预算报超时而不是永久阻塞
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
	"github.com/Saivel1/tddbot/internal/store"
)

// TTL 策略：夜间强刷 25 小时，未命中回源 1 小时，写后回填 1 小时
const (
	TTLNightly = 25 * time.Hour
	TTLMiss    = time.Hour
	TTLWrite   = time.Hour

	fillLockTTL = 5 * time.Second
)

// ErrWaitTimeout 等待他方回填缓存超出轮询预算
var ErrWaitTimeout = errors.New("cache: timed out waiting for fill")

func UserDataKey(userID int64) string {
	return fmt.Sprintf("USER_DATA:%d", userID)
}

func userLockKey(userID int64) string {
	return fmt.Sprintf("USER_DATA_LOCK:%d", userID)
}

func UserUUIDKey(userID int64) string {
	return fmt.Sprintf("USER_UUID:%d", userID)
}

type Users struct {
	rdb *redis.Client
	st  store.Store

	// 等待他方回填的轮询预算
	WaitAttempts int
	WaitPoll     time.Duration
}

func NewUsers(rdb *redis.Client, st store.Store) *Users {
	return &Users{
		rdb:          rdb,
		st:           st,
		WaitAttempts: 50,
		WaitPoll:     100 * time.Millisecond,
	}
}

// Get 读取订阅者快照
// forceRefresh=false: 先读缓存，未命中才回源；
// forceRefresh=true: 跳过读缓存与 double-check，直接回源并以长 TTL 覆盖。
// 记录不存在返回 store.ErrNotFound，不缓存负结果
func (c *Users) Get(ctx context.Context, userID int64, forceRefresh bool) (*domain.User, error) {
	dataKey := UserDataKey(userID)

	if !forceRefresh {
		raw, err := c.rdb.Get(ctx, dataKey).Result()
		if err == nil {
			return parseUser(raw)
		}
		if !errors.Is(err, redis.Nil) {
			return nil, err
		}
	}

	acquired, err := queue.AcquireLock(ctx, c.rdb, userLockKey(userID), "1", fillLockTTL)
	if err != nil {
		return nil, err
	}

	if acquired {
		defer func() {
			if _, err := queue.ReleaseLock(ctx, c.rdb, userLockKey(userID), "1"); err != nil {
				log.Printf("cache release fill lock failed: user_id=%d err=%v", userID, err)
			}
		}()

		// double-check：锁等待期间可能已被他方回填（强刷时跳过）
		if !forceRefresh {
			raw, err := c.rdb.Get(ctx, dataKey).Result()
			if err == nil {
				return parseUser(raw)
			}
			if !errors.Is(err, redis.Nil) {
				return nil, err
			}
		}

		rec, err := c.st.GetOne(ctx, "User", map[string]any{"user_id": userID})
		if err != nil {
			return nil, err
		}
		user, err := domain.UserFromFields(rec)
		if err != nil {
			return nil, err
		}

		ttl := TTLMiss
		if forceRefresh {
			ttl = TTLNightly
		}
		if err := SetUser(ctx, c.rdb, user, ttl); err != nil {
			return nil, err
		}
		log.Printf("cache filled: user_id=%d ttl=%s forced=%v", userID, ttl, forceRefresh)
		return user, nil
	}

	// 他方正在回填，轮询等待
	for attempt := 0; attempt < c.WaitAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.WaitPoll):
		}
		raw, err := c.rdb.Get(ctx, dataKey).Result()
		if err == nil {
			return parseUser(raw)
		}
		if !errors.Is(err, redis.Nil) {
			return nil, err
		}
	}

	log.Printf("cache wait timeout: user_id=%d", userID)
	return nil, ErrWaitTimeout
}

// SetUser 写入订阅者快照
func SetUser(ctx context.Context, rdb *redis.Client, u *domain.User, ttl time.Duration) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, UserDataKey(u.UserID), b, ttl).Err()
}

// SetLinkHandle 写入链接句柄快照
func SetLinkHandle(ctx context.Context, rdb *redis.Client, userID int64, handle string, ttl time.Duration) error {
	b, err := json.Marshal(handle)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, UserUUIDKey(userID), b, ttl).Err()
}

func parseUser(raw string) (*domain.User, error) {
	var u domain.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("cache: bad user snapshot: %w", err)
	}
	return &u, nil
}
