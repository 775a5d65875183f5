package domain

import (
	"fmt"
	"time"
)

// User 订阅者记录（外部标识 user_id 唯一）
type User struct {
	ID              int64      `json:"id,omitempty"`
	UserID          int64      `json:"user_id"`
	Username        *string    `json:"username"`
	TrialUsed       bool       `json:"trial_used"`
	SubscriptionEnd *time.Time `json:"subscription_end"`
}

// UserLink 面板订阅链接记录，uuid 为生成的外部句柄
type UserLink struct {
	ID     int64   `json:"id,omitempty"`
	UserID int64   `json:"user_id"`
	UUID   string  `json:"uuid"`
	Panel1 *string `json:"panel1"`
	Panel2 *string `json:"panel2"`
}

// Payment 已确认支付的留痕记录
type Payment struct {
	ID        int64     `json:"id,omitempty"`
	PaymentID string    `json:"payment_id"`
	UserID    int64     `json:"user_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// UserFromFields 把通用存储返回的字段映射转成 User
func UserFromFields(m map[string]any) (*User, error) {
	u := &User{}
	if v, ok := m["id"]; ok {
		if id, ok := AsInt64(v); ok {
			u.ID = id
		}
	}
	uid, ok := AsInt64(m["user_id"])
	if !ok {
		return nil, fmt.Errorf("user fields: bad user_id %v", m["user_id"])
	}
	u.UserID = uid
	if v, ok := m["username"].(string); ok {
		u.Username = &v
	}
	if v, ok := m["trial_used"].(bool); ok {
		u.TrialUsed = v
	}
	if v, ok := AsTime(m["subscription_end"]); ok {
		u.SubscriptionEnd = &v
	}
	return u, nil
}

// LinkFromFields 把字段映射转成 UserLink
func LinkFromFields(m map[string]any) (*UserLink, error) {
	l := &UserLink{}
	uid, ok := AsInt64(m["user_id"])
	if !ok {
		return nil, fmt.Errorf("link fields: bad user_id %v", m["user_id"])
	}
	l.UserID = uid
	if v, ok := m["uuid"].(string); ok {
		l.UUID = v
	}
	if v, ok := m["panel1"].(string); ok {
		l.Panel1 = &v
	}
	if v, ok := m["panel2"].(string); ok {
		l.Panel2 = &v
	}
	return l, nil
}
