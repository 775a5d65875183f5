package marzban

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrConflict 面板已存在同名用户
	ErrConflict = errors.New("marzban: user already exists")
	// ErrNotFound 面板没有该用户
	ErrNotFound = errors.New("marzban: user not found")
)

// User 面板侧的用户视图
type User struct {
	Username        string   `json:"username"`
	Expire          int64    `json:"expire"`
	SubscriptionURL string   `json:"subscription_url"`
	Links           []string `json:"links"`
}

// CreateSpec 创建用户所需字段，ID 为空时由面板生成
type CreateSpec struct {
	Username string
	ID       string
	Expire   int64
}

// Client Marzban 面板 API 客户端，每次调用即时取 token
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBase 返回指向另一面板地址的副本，凭据不变
func (c *Client) WithBase(baseURL string) *Client {
	cp := *c
	cp.baseURL = strings.TrimRight(baseURL, "/")
	return &cp
}

// BaseURL 当前面板地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) token(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("marzban: token request failed: status=%d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.AccessToken, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	var rd io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// Create 在面板创建用户，同名冲突返回 ErrConflict
func (c *Client) Create(ctx context.Context, spec CreateSpec) (*User, error) {
	proxy := map[string]any{}
	if spec.ID != "" {
		proxy["id"] = spec.ID
	}
	payload := map[string]any{
		"username": spec.Username,
		"expire":   spec.Expire,
		"proxies":  map[string]any{"vless": proxy},
		"inbounds": map[string]any{},
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/user", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return decodeUser(resp.Body)
	case http.StatusConflict:
		return nil, ErrConflict
	default:
		return nil, fmt.Errorf("marzban: create failed: username=%s status=%d", spec.Username, resp.StatusCode)
	}
}

// Modify 更新面板用户的到期时间
func (c *Client) Modify(ctx context.Context, username string, expire int64) (*User, error) {
	resp, err := c.do(ctx, http.MethodPut, "/api/user/"+url.PathEscape(username), map[string]any{"expire": expire})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return decodeUser(resp.Body)
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("marzban: modify failed: username=%s status=%d", username, resp.StatusCode)
	}
}

// GetUser 查询面板用户，不存在返回 ErrNotFound
func (c *Client) GetUser(ctx context.Context, username string) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/user/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return decodeUser(resp.Body)
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("marzban: get failed: username=%s status=%d", username, resp.StatusCode)
	}
}

func decodeUser(r io.Reader) (*User, error) {
	var u User
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}
