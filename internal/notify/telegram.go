package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Telegram 通过 Bot API 给用户和运营者发消息
// 发送失败只记日志，不影响调用方流程
type Telegram struct {
	token   string
	adminID int64
	http    *http.Client
	apiURL  string
}

func NewTelegram(token string, adminID int64) *Telegram {
	return &Telegram{
		token:   token,
		adminID: adminID,
		http:    &http.Client{Timeout: 10 * time.Second},
		apiURL:  "https://api.telegram.org",
	}
}

// WithAPIURL 指向其它入口（测试用）
func (t *Telegram) WithAPIURL(apiURL string) *Telegram {
	cp := *t
	cp.apiURL = strings.TrimRight(apiURL, "/")
	return &cp
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) {
	if t == nil || t.token == "" {
		return
	}
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(chatID, 10))
	form.Set("text", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token),
		strings.NewReader(form.Encode()))
	if err != nil {
		log.Printf("notify: build request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := t.http.Do(req)
	if err != nil {
		log.Printf("notify: send failed: chat_id=%d err=%v", chatID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("notify: send failed: chat_id=%d status=%d", chatID, resp.StatusCode)
	}
}

// User 给指定用户发通知
func (t *Telegram) User(ctx context.Context, chatID int64, text string) {
	t.send(ctx, chatID, text)
}

// Operator 给运营者发通知
func (t *Telegram) Operator(ctx context.Context, text string) {
	if t == nil || t.adminID == 0 {
		return
	}
	t.send(ctx, t.adminID, text)
}

// ServiceDown 依赖长时间不可用时的告警
func (t *Telegram) ServiceDown(ctx context.Context, service string) {
	t.Operator(ctx, fmt.Sprintf("Service %s is down for 10 minutes", service))
}
