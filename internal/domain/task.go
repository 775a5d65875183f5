// Package domain 定义实体模型和队列任务信封
// 任务信封是一个带控制字段（model / type / filter）的开放字段映射，
// 序列化采用稳定键序，保证逻辑相同的任务得到逐字节相同的载荷，
// 去重检查依赖这一点做字符串比对
package domain

import (
	"encoding/json"
	"time"
)

// TimeLayout 任务载荷与比较时时间的规范文本格式
const TimeLayout = time.RFC3339

// 控制字段
const (
	FieldModel  = "model"
	FieldType   = "type"
	FieldFilter = "filter"
)

// 操作类型
const (
	OpCreate = "create"
	OpUpdate = "update"
)

// Task 队列任务信封
type Task map[string]any

func (t Task) Model() string {
	s, _ := t[FieldModel].(string)
	return s
}

func (t Task) Type() string {
	s, _ := t[FieldType].(string)
	return s
}

func (t Task) Filter() map[string]any {
	switch v := t[FieldFilter].(type) {
	case map[string]any:
		return v
	case Task:
		return v
	default:
		return nil
	}
}

// UserID 从直接字段或 filter 中取外部标识
func (t Task) UserID() (int64, bool) {
	if id, ok := AsInt64(t["user_id"]); ok {
		return id, true
	}
	if f := t.Filter(); f != nil {
		if id, ok := AsInt64(f["user_id"]); ok {
			return id, true
		}
	}
	return 0, false
}

// Fields 去掉控制字段后的候选字段集
func (t Task) Fields() map[string]any {
	out := make(map[string]any, len(t))
	for k, v := range t {
		if k == FieldModel || k == FieldType || k == FieldFilter {
			continue
		}
		out[k] = v
	}
	return out
}

// Marshal 规范序列化：map 键排序由 encoding/json 保证，
// time.Time 先转为规范文本
func (t Task) Marshal() ([]byte, error) {
	return json.Marshal(canonValue(map[string]any(t)))
}

// ParseTask 反序列化队列载荷
func ParseTask(b []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// Deserialize 把解码后的载荷还原成可入库的值：
// ISO 时间字符串 → time.Time，整数值的 float64 → int64
func (t Task) Deserialize() Task {
	out := make(Task, len(t))
	for k, v := range t {
		if k == FieldModel || k == FieldType {
			out[k] = v
			continue
		}
		out[k] = reviveValue(v)
	}
	return out
}

func reviveValue(v any) any {
	switch val := v.(type) {
	case string:
		if ts, err := time.Parse(TimeLayout, val); err == nil {
			return ts
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = reviveValue(item)
		}
		return out
	default:
		return v
	}
}

func canonValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(TimeLayout)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(TimeLayout)
	case Task:
		return canonValue(map[string]any(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = canonValue(item)
		}
		return out
	default:
		return v
	}
}

// AsInt64 数字/字符串形式的标识统一转 int64
func AsInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case float64:
		if val == float64(int64(val)) {
			return int64(val), true
		}
		return 0, false
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	case string:
		var n int64
		for _, c := range val {
			if c < '0' || c > '9' {
				return 0, false
			}
			n = n*10 + int64(c-'0')
		}
		return n, val != ""
	default:
		return 0, false
	}
}

// AsTime 存储层或载荷里的时间值统一转 time.Time
func AsTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case *time.Time:
		if val == nil {
			return time.Time{}, false
		}
		return *val, true
	case string:
		if ts, err := time.Parse(TimeLayout, val); err == nil {
			return ts, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
