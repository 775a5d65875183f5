package yoopay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultAPIURL YooKassa 生产环境入口
const DefaultAPIURL = "https://api.yookassa.ru/v3"

// OrderKey 订单号到用户的映射键，回调处理按此找回任务上下文
func OrderKey(paymentID string) string {
	return "YOO:" + paymentID
}

// Client YooKassa 支付客户端
type Client struct {
	apiURL    string
	accountID string
	secretKey string
	returnURL string
	http      *http.Client
}

func NewClient(accountID, secretKey, returnURL string) *Client {
	return &Client{
		apiURL:    DefaultAPIURL,
		accountID: accountID,
		secretKey: secretKey,
		returnURL: returnURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// WithAPIURL 指向其它入口（测试用）
func (c *Client) WithAPIURL(apiURL string) *Client {
	cp := *c
	cp.apiURL = apiURL
	return &cp
}

// CreatePayment 创建一笔待确认支付，返回跳转链接与订单号
func (c *Client) CreatePayment(ctx context.Context, amount int64, description string) (string, string, error) {
	payload := map[string]any{
		"amount": map[string]any{
			"value":    fmt.Sprintf("%d.00", amount),
			"currency": "RUB",
		},
		"capture": true,
		"confirmation": map[string]any{
			"type":       "redirect",
			"return_url": c.returnURL,
		},
		"description": description,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/payments", bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}
	req.SetBasicAuth(c.accountID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("yoopay: create payment failed: status=%d", resp.StatusCode)
	}

	var body struct {
		ID           string `json:"id"`
		Confirmation struct {
			ConfirmationURL string `json:"confirmation_url"`
		} `json:"confirmation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", err
	}
	return body.Confirmation.ConfirmationURL, body.ID, nil
}
