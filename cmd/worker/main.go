package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Saivel1/tddbot/internal/config"
	"github.com/Saivel1/tddbot/internal/db"
	"github.com/Saivel1/tddbot/internal/marzban"
	"github.com/Saivel1/tddbot/internal/notify"
	"github.com/Saivel1/tddbot/internal/queue"
	"github.com/Saivel1/tddbot/internal/repo"
	"github.com/Saivel1/tddbot/internal/worker"
	"github.com/Saivel1/tddbot/internal/yoopay"
)

func main() {
	cfg := config.Load()

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer initCancel()

	//初始化依赖
	pool, err := db.Init(initCtx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres init failed: %v", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(initCtx, pool); err != nil {
		log.Fatalf("ensure schema failed: %v", err)
	}

	rdb, err := queue.Connect(initCtx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init failed: %v", err)
	}
	defer rdb.Close()

	st := repo.NewPostgres(pool)
	mz := marzban.NewClient(cfg.MarzbanURL, cfg.MarzbanUser, cfg.MarzbanPass)
	yoo := yoopay.NewClient(cfg.YooAccountID, cfg.YooSecretKey, cfg.YooReturnURL)
	tg := notify.NewTelegram(cfg.BotToken, cfg.AdminID)

	reconciler := worker.NewReconciler(rdb, st)
	provisioner := worker.NewProvisioner(rdb, mz, cfg.DNS1, cfg.DNS2)
	trial := worker.NewTrialActivator(rdb, st, mz, tg, cfg.TrialDays)
	settler := worker.NewSettler(rdb, mz, tg, int64(cfg.PricePerMonth))
	payments := worker.NewPaymentCreator(rdb, yoo)

	mzCheck := worker.MarzbanAvailable(cfg.MarzbanURL)
	dbCheck := worker.DBAvailable(pool)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerID := uuid.NewString()
	queues := []string{queue.DB, queue.Marzban, queue.TrialActivation, queue.Payment, queue.Settlement}
	log.Printf("worker started: id=%s queues=%v", workerID, queues)

	sup := worker.NewSupervisor(ctx)
	sup.Go(reconciler.Loop(rdb, dbCheck, tg).Run)
	sup.Go(provisioner.Loop(rdb, mzCheck, tg).Run)
	sup.Go(trial.Loop(rdb, tg).Run)
	sup.Go(settler.Loop(rdb, mzCheck, tg).Run)
	sup.Go(payments.Loop(rdb, tg).Run)

	// 超时任务清扫 + 实例心跳
	sup.Go(func(c context.Context) {
		worker.StartSweeper(c, rdb, queues, workerID, 2*time.Second)
	})
	sup.Go(func(c context.Context) {
		worker.StartHeartbeat(c, rdb, workerID, 30*time.Second, 10*time.Second)
	})

	<-ctx.Done()
	log.Printf("shutting down: id=%s", workerID)
	sup.Stop()
}
