package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Saivel1/tddbot/internal/cache"
	"github.com/Saivel1/tddbot/internal/config"
	"github.com/Saivel1/tddbot/internal/db"
	"github.com/Saivel1/tddbot/internal/queue"
	"github.com/Saivel1/tddbot/internal/repo"
	"github.com/Saivel1/tddbot/internal/scheduler"
)

func main() {
	cfg := config.Load()

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer initCancel()

	pool, err := db.Init(initCtx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres init failed: %v", err)
	}
	defer pool.Close()

	rdb, err := queue.Connect(initCtx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init failed: %v", err)
	}
	defer rdb.Close()

	st := repo.NewPostgres(pool)
	users := cache.NewUsers(rdb, st)

	refresher, err := scheduler.NewRefresher(users, st, cfg.RefreshCron, cfg.Timezone)
	if err != nil {
		log.Fatalf("refresher init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	refresher.Run(ctx)
}
