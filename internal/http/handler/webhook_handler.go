package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/queue"
	"github.com/Saivel1/tddbot/internal/store"
	"github.com/Saivel1/tddbot/internal/yoopay"
)

type WebhookHandler struct {
	rdb *redis.Client
	st  store.Store
}

func NewWebhookHandler(rdb *redis.Client, st store.Store) *WebhookHandler {
	return &WebhookHandler{rdb: rdb, st: st}
}

type yooEvent struct {
	Event  string `json:"event"`
	Object struct {
		ID string `json:"id"`
	} `json:"object"`
}

// POST /webhook/yoomoney
// 回调只负责把结算任务排进队列，无论内部结果如何都回 200，
// 避免支付网关对非 2xx 反复重试
func (h *WebhookHandler) YooMoney(c *gin.Context) {
	var ev yooEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		log.Printf("webhook: bad payload: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	if ev.Event != "payment.succeeded" || ev.Object.ID == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx := c.Request.Context()
	raw, err := h.rdb.Get(ctx, yoopay.OrderKey(ev.Object.ID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			log.Printf("webhook: unknown order: payment_id=%s", ev.Object.ID)
		} else {
			log.Printf("webhook: order lookup failed: payment_id=%s err=%v", ev.Object.ID, err)
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	var order struct {
		UserID int64 `json:"user_id"`
		Amount int64 `json:"amount"`
	}
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		log.Printf("webhook: bad order snapshot: payment_id=%s err=%v", ev.Object.ID, err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	// 网关会重试回调：已有同 payment_id 的流水说明早已结算过
	if _, err := h.st.GetOne(ctx, "PaymentData", map[string]any{"payment_id": ev.Object.ID}); err == nil {
		log.Printf("webhook: payment already settled: payment_id=%s", ev.Object.ID)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Printf("webhook: settlement lookup failed: payment_id=%s err=%v", ev.Object.ID, err)
	}

	task := domain.Task{
		"user_id":  order.UserID,
		"amount":   order.Amount,
		"order_id": ev.Object.ID,
	}
	// 流水还没落库时重复回调靠队列去重挡住
	if dup, err := queue.Exists(ctx, h.rdb, queue.Settlement, task); err != nil {
		log.Printf("webhook: dedup check failed: payment_id=%s err=%v", ev.Object.ID, err)
	} else if dup {
		log.Printf("webhook: settlement already queued: payment_id=%s", ev.Object.ID)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	if err := queue.EnqueueTask(ctx, h.rdb, queue.Settlement, task); err != nil {
		log.Printf("webhook: enqueue settlement failed: payment_id=%s err=%v", ev.Object.ID, err)
	} else {
		log.Printf("payment confirmed: payment_id=%s user_id=%d amount=%d", ev.Object.ID, order.UserID, order.Amount)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
