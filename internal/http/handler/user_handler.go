package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Saivel1/tddbot/internal/cache"
	"github.com/Saivel1/tddbot/internal/store"
)

type UserHandler struct {
	users    *cache.Users
	payments *cache.Payments
}

func NewUserHandler(users *cache.Users, payments *cache.Payments) *UserHandler {
	return &UserHandler{users: users, payments: payments}
}

// GET /api/v1/users/:id
// 走缓存读取，?force=true 强制穿透重建
func (h *UserHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	force := c.Query("force") == "true"
	u, err := h.users.Get(c.Request.Context(), id, force)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, cache.ErrWaitTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache fill in progress, retry later"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed", "detail": err.Error()})
	default:
		c.JSON(http.StatusOK, u)
	}
}

// POST /api/v1/users/:id/payments/popular
// 返回热门面额的支付链接，未就绪时触发创建并等待回填
func (h *UserHandler) PopularPayment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	url, err := h.payments.PopularURL(c.Request.Context(), id)
	switch {
	case errors.Is(err, cache.ErrWaitTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "payment not ready, retry later"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create payment failed", "detail": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"payment_url": url, "amount": cache.PopularAmount})
	}
}
