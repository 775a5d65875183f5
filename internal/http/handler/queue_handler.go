package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/queue"
)

type QueueHandler struct {
	rdb *redis.Client
}

func NewQueueHandler(rdb *redis.Client) *QueueHandler {
	return &QueueHandler{rdb: rdb}
}

// POST /api/v1/queues/:name/tasks
// 入队前做同队列去重，重复任务不再投递
func (h *QueueHandler) Enqueue(c *gin.Context) {
	name := c.Param("name")
	var task domain.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task body", "detail": err.Error()})
		return
	}
	dup, err := queue.Exists(c.Request.Context(), h.rdb, name, task)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dedup check failed", "detail": err.Error()})
		return
	}
	if dup {
		c.JSON(http.StatusOK, gin.H{"queue": name, "enqueued": false, "duplicate": true})
		return
	}
	if err := queue.EnqueueTask(c.Request.Context(), h.rdb, name, task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": name, "enqueued": true, "duplicate": false})
}

// GET /api/v1/queues/:name
func (h *QueueHandler) Inspect(c *gin.Context) {
	name := c.Param("name")
	items, err := queue.ReadRange(c.Request.Context(), h.rdb, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read queue failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": name, "count": len(items), "items": items})
}

// GET /api/v1/queues/:name/dlq
func (h *QueueHandler) ListDLQ(c *gin.Context) {
	name := c.Param("name")
	countStr := c.Query("count")
	count := int64(50)
	if countStr != "" {
		if v, err := strconv.Atoi(countStr); err == nil && v > 0 {
			count = int64(v)
		}
	}
	items, err := queue.ListDLQ(c.Request.Context(), h.rdb, name, 0, count-1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list dlq failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": name, "count": len(items), "items": items})
}

// POST /api/v1/queues/:name/dlq/replay
type ReplayDLQRequest struct {
	Count int `json:"count"`
}

func (h *QueueHandler) ReplayDLQ(c *gin.Context) {
	name := c.Param("name")
	var req ReplayDLQRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Count <= 0 {
		req.Count = 1
	}
	moved, err := queue.ReplayDLQ(c.Request.Context(), h.rdb, name, req.Count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "replay dlq failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": name, "moved": moved})
}
