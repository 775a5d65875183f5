package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Saivel1/tddbot/internal/cache"
	"github.com/Saivel1/tddbot/internal/store"
)

// Refresher 负责：每晚按 cron 表达式整点重建用户缓存，
// 强制穿透逐个回填，分页推进避免打满数据库
type Refresher struct {
	users     *cache.Users
	st        store.Store
	schedule  cron.Schedule
	timezone  *time.Location
	batchSize int
	pause     time.Duration
}

// NewRefresher 创建一个 Refresher，expr 为带秒域的 cron 表达式
func NewRefresher(users *cache.Users, st store.Store, expr, tz string) (*Refresher, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Refresher{
		users:     users,
		st:        st,
		schedule:  sched,
		timezone:  loc,
		batchSize: 100,
		pause:     500 * time.Millisecond,
	}, nil
}

// Run 阻塞运行，每个触发点做一次全量刷新
func (r *Refresher) Run(ctx context.Context) {
	log.Printf("Refresher started")
	for {
		next := r.schedule.Next(time.Now().In(r.timezone))
		select {
		case <-ctx.Done():
			log.Println("Refresher stopped")
			return
		case <-time.After(time.Until(next)):
		}
		if err := r.RefreshAll(ctx); err != nil {
			log.Printf("Error in nightly refresh: %v", err)
		}
	}
}

// RefreshAll 分页遍历全部用户，强制重建每个用户的缓存条目
func (r *Refresher) RefreshAll(ctx context.Context) error {
	log.Printf("nightly refresh started")
	refreshed, total := 0, 0
	for offset := 0; ; offset += r.batchSize {
		ids, err := r.st.ListUserIDs(ctx, "User", offset, r.batchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			break
		}
		total += len(ids)
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := r.users.Get(ctx, id, true); err != nil {
				// 单个失败不中断整轮
				log.Printf("refresh failed: user_id=%d err=%v", id, err)
				continue
			}
			refreshed++
		}
		// 批间停顿，避免打满数据库
		if r.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.pause):
			}
		}
	}
	log.Printf("nightly refresh done: refreshed=%d total=%d", refreshed, total)
	return nil
}
