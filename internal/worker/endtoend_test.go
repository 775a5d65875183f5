package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saivel1/tddbot/internal/cache"
	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/marzban"
	"github.com/Saivel1/tddbot/internal/queue"
	"github.com/Saivel1/tddbot/internal/store"
)

// fakePanel 内存版面板：token 固定、用户表一个 map，
// 订阅链接的域名可配，用来驱动 panel1/panel2 归属判定
type fakePanel struct {
	mu      sync.Mutex
	users   map[string]int64
	subHost string
	srv     *httptest.Server
}

func newFakePanel(t *testing.T, subHost string) (*fakePanel, *marzban.Client) {
	t.Helper()
	p := &fakePanel{users: make(map[string]int64), subHost: subHost}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token"})
	})
	mux.HandleFunc("POST /api/user", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Expire   int64  `json:"expire"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.users[body.Username]; ok {
			w.WriteHeader(http.StatusConflict)
			return
		}
		p.users[body.Username] = body.Expire
		p.writeUser(w, body.Username)
	})
	mux.HandleFunc("GET /api/user/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.users[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		p.writeUser(w, name)
	})
	mux.HandleFunc("PUT /api/user/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		var body struct {
			Expire int64 `json:"expire"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.users[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		p.users[name] = body.Expire
		p.writeUser(w, name)
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p, marzban.NewClient(p.srv.URL, "admin", "secret")
}

// 调用方已持有 p.mu
func (p *fakePanel) writeUser(w http.ResponseWriter, name string) {
	json.NewEncoder(w).Encode(map[string]any{
		"username":         name,
		"expire":           p.users[name],
		"subscription_url": fmt.Sprintf("https://%s/sub/%s", p.subHost, name),
	})
}

func (p *fakePanel) expire(name string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.users[name]
	return v, ok
}

func drainDB(t *testing.T, rdb *redis.Client, r *Reconciler, max int) {
	t.Helper()
	loop := NewLoop(rdb, testLoopConfig(queue.DB), r.Handle, nil)
	for i := 0; i < max; i++ {
		res, err := loop.RunOnce(context.Background())
		require.NoError(t, err)
		if res == ResultNone {
			return
		}
	}
}

// 行为全链路：试用激活 → 面板开通 → 落库调和 → 缓存就绪
func TestTrialActivationFlow(t *testing.T) {
	_, rdb := newTestRedis(t)
	st := store.NewMemory()
	panel, mz := newFakePanel(t, "dns1.example.com")
	ctx := context.Background()

	trial := NewTrialActivator(rdb, st, mz, nil, 3)
	prov := NewProvisioner(rdb, mz, "dns1", "dns2")
	rec := NewReconciler(rdb, st)

	require.NoError(t, queue.EnqueueTask(ctx, rdb, queue.TrialActivation, domain.Task{"user_id": int64(42)}))

	res, err := trial.Loop(rdb, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)

	res, err = prov.Loop(rdb, nil, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)

	drainDB(t, rdb, rec, 5)

	wantExpire := time.Now().AddDate(0, 0, 3).Unix()

	// 面板上已开通，到期为三天后
	panelExpire, ok := panel.expire("42")
	require.True(t, ok)
	assert.InDelta(t, wantExpire, panelExpire, 5)

	// 订阅者已落库：试用消费、到期写入
	row, err := st.GetOne(ctx, "User", map[string]any{"user_id": int64(42)})
	require.NoError(t, err)
	assert.Equal(t, true, row["trial_used"])
	end, ok := domain.AsTime(row["subscription_end"])
	require.True(t, ok)
	assert.InDelta(t, wantExpire, end.Unix(), 5)

	// 链接行：dns1 域名归 panel1，panel2 空着
	link, err := st.GetOne(ctx, "UserLinks", map[string]any{"user_id": int64(42)})
	require.NoError(t, err)
	assert.NotEmpty(t, link["uuid"])
	url, _ := link["panel1"].(string)
	assert.True(t, strings.Contains(url, "dns1"), "panel1 url: %v", link["panel1"])
	assert.Nil(t, link["panel2"])

	// 队列全部清空
	for _, q := range []string{queue.TrialActivation, queue.Marzban, queue.DB} {
		n, _ := rdb.LLen(ctx, queue.ReadyKey(q)).Result()
		assert.Zero(t, n, q)
		n, _ = rdb.LLen(ctx, queue.DLQKey(q)).Result()
		assert.Zero(t, n, q)
	}

	// 两个缓存条目已热
	assert.True(t, rdb.Exists(ctx, cache.UserDataKey(42)).Val() == 1)
	assert.True(t, rdb.Exists(ctx, cache.UserUUIDKey(42)).Val() == 1)
}

// 行为全链路：支付确认 → 按金额折天数 → 面板续期 → 留痕
func TestSettlementFlow(t *testing.T) {
	_, rdb := newTestRedis(t)
	st := store.NewMemory()
	panel, mz := newFakePanel(t, "dns2.example.com")
	ctx := context.Background()

	settler := NewSettler(rdb, mz, nil, 50)
	prov := NewProvisioner(rdb, mz, "dns1", "dns2")
	rec := NewReconciler(rdb, st)

	require.NoError(t, queue.EnqueueTask(ctx, rdb, queue.Settlement, domain.Task{
		"user_id":  int64(42),
		"amount":   int64(150),
		"order_id": "order-9",
	}))

	res, err := settler.Loop(rdb, nil, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)

	res, err = prov.Loop(rdb, nil, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)

	drainDB(t, rdb, rec, 6)

	// 150 руб / 50 за месяц → 90 дней
	wantExpire := time.Now().AddDate(0, 0, 90).Unix()
	panelExpire, ok := panel.expire("42")
	require.True(t, ok)
	assert.InDelta(t, wantExpire, panelExpire, 5)

	row, err := st.GetOne(ctx, "User", map[string]any{"user_id": int64(42)})
	require.NoError(t, err)
	end, _ := domain.AsTime(row["subscription_end"])
	assert.InDelta(t, wantExpire, end.Unix(), 5)

	// dns2 域名归 panel2
	link, err := st.GetOne(ctx, "UserLinks", map[string]any{"user_id": int64(42)})
	require.NoError(t, err)
	url, _ := link["panel2"].(string)
	assert.Contains(t, url, "dns2")
	assert.Nil(t, link["panel1"])

	// 支付留痕
	pay, err := st.GetOne(ctx, "PaymentData", map[string]any{"payment_id": "order-9"})
	require.NoError(t, err)
	amount, _ := domain.AsInt64(pay["amount"])
	assert.Equal(t, int64(150), amount)
}

// 已有订阅再结算：从剩余时长上续，而不是从现在起算
func TestSettlementExtendsRemaining(t *testing.T) {
	_, rdb := newTestRedis(t)
	_, mz := newFakePanel(t, "dns1.example.com")
	ctx := context.Background()

	// 面板上已有 30 天后到期的用户
	existing := time.Now().AddDate(0, 0, 30).Unix()
	_, err := mz.Create(ctx, marzban.CreateSpec{Username: "42", Expire: existing})
	require.NoError(t, err)

	settler := NewSettler(rdb, mz, nil, 50)
	require.NoError(t, settler.Handle(ctx, domain.Task{
		"user_id":  int64(42),
		"amount":   int64(50),
		"order_id": "order-1",
	}))

	items, err := rdb.LRange(ctx, queue.ReadyKey(queue.Marzban), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, items, 1)
	task, err := domain.ParseTask([]byte(items[0]))
	require.NoError(t, err)
	assert.Equal(t, "modify", task.Type())
	expire, _ := domain.AsInt64(task["expire"])
	assert.InDelta(t, time.Now().AddDate(0, 0, 60).Unix(), expire, 5)
}

// 金额不是整月倍数时只按整月折算：75 руб / 50 за месяц → 30 дней，不是 45
func TestSettlementFloorsPartialMonth(t *testing.T) {
	_, rdb := newTestRedis(t)
	_, mz := newFakePanel(t, "dns1.example.com")
	ctx := context.Background()

	settler := NewSettler(rdb, mz, nil, 50)
	require.NoError(t, settler.Handle(ctx, domain.Task{
		"user_id":  int64(42),
		"amount":   int64(75),
		"order_id": "order-2",
	}))

	items, err := rdb.LRange(ctx, queue.ReadyKey(queue.Marzban), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, items, 1)
	task, err := domain.ParseTask([]byte(items[0]))
	require.NoError(t, err)
	expire, _ := domain.AsInt64(task["expire"])
	assert.InDelta(t, time.Now().AddDate(0, 0, 30).Unix(), expire, 5)
}
