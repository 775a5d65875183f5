package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saivel1/tddbot/internal/cache"
	"github.com/Saivel1/tddbot/internal/store"
)

func userRouter(rdb *redis.Client, st store.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewUserHandler(cache.NewUsers(rdb, st), cache.NewPayments(rdb))
	r.GET("/api/v1/users/:id", h.Get)
	r.POST("/api/v1/users/:id/payments/popular", h.PopularPayment)
	return r
}

func getPath(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestUserGet(t *testing.T) {
	_, rdb := newTestRedis(t)
	st := store.NewMemory()
	router := userRouter(rdb, st)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, "User", map[string]any{
		"user_id":    int64(42),
		"trial_used": true,
	}))

	t.Run("found", func(t *testing.T) {
		w := getPath(router, "/api/v1/users/42")
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(42), resp["user_id"])
		assert.Equal(t, true, resp["trial_used"])
	})

	t.Run("missing user", func(t *testing.T) {
		w := getPath(router, "/api/v1/users/404")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		w := getPath(router, "/api/v1/users/abc")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUserPopularPaymentHitsCache(t *testing.T) {
	_, rdb := newTestRedis(t)
	st := store.NewMemory()
	router := userRouter(rdb, st)
	ctx := context.Background()

	raw, _ := json.Marshal(map[string]string{"payment_url": "https://pay/1", "payment_id": "p-1"})
	require.NoError(t, rdb.Set(ctx, cache.PopPayKey(42), raw, time.Minute).Err())

	w := postJSON(router, "/api/v1/users/42/payments/popular", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay/1", resp["payment_url"])
	assert.Equal(t, float64(cache.PopularAmount), resp["amount"])
}
