package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Saivel1/tddbot/internal/cache"
	"github.com/Saivel1/tddbot/internal/config"
	"github.com/Saivel1/tddbot/internal/db"
	"github.com/Saivel1/tddbot/internal/http/handler"
	"github.com/Saivel1/tddbot/internal/queue"
	"github.com/Saivel1/tddbot/internal/repo"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化数据库连接
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Init(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres init failed: %v", err)
	}
	defer pool.Close()

	// 确保最小表结构存在
	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema failed: %v", err)
	}

	// 初始化 Redis
	rdb, err := queue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init failed: %v", err)
	}
	defer rdb.Close()

	// 组装缓存与路由
	st := repo.NewPostgres(pool)
	users := cache.NewUsers(rdb, st)
	payments := cache.NewPayments(rdb)

	engine := gin.Default()
	hh := handler.NewHealthHandler(pool, rdb)
	uh := handler.NewUserHandler(users, payments)
	qh := handler.NewQueueHandler(rdb)
	wh := handler.NewWebhookHandler(rdb, st)

	// 健康与就绪
	engine.GET("/healthz", hh.Healthz)
	engine.GET("/readyz", hh.Readyz)

	// 支付回调
	engine.POST("/webhook/yoomoney", wh.YooMoney)

	api := engine.Group("/api/v1")
	{
		api.GET("/users/:id", uh.Get)
		api.POST("/users/:id/payments/popular", uh.PopularPayment)

		api.POST("/queues/:name/tasks", qh.Enqueue)
		api.GET("/queues/:name", qh.Inspect)
		api.GET("/queues/:name/dlq", qh.ListDLQ)
		api.POST("/queues/:name/dlq/replay", qh.ReplayDLQ)
	}

	log.Printf("starting api server on :%s", cfg.HTTPPort)
	if err := engine.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatal(err)
	}
}
