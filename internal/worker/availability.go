package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MarzbanAvailable 探测 Marzban 面板是否可达（5xx 也视为不可用）
func MarzbanAvailable(baseURL string) func(ctx context.Context) bool {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return false
		}
		res, err := client.Do(req)
		if err != nil {
			return false
		}
		defer res.Body.Close()
		return res.StatusCode < 500
	}
}

// DBAvailable 探测 PostgreSQL 是否可用
func DBAvailable(pool *pgxpool.Pool) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	}
}
