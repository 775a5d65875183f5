package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Saivel1/tddbot/internal/domain"
)

// Memory 内存实现，测试与本地调试用
type Memory struct {
	mu     sync.Mutex
	rows   map[string][]map[string]any
	nextID int64

	// Loads 统计 GetOne 次数（缓存击穿测试用）
	Loads int64
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string][]map[string]any), nextID: 1}
}

func (m *Memory) GetOne(ctx context.Context, model string, filter map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Loads++
	for _, row := range m.rows[model] {
		if matches(row, filter) {
			return clone(row), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Create(ctx context.Context, model string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := clone(fields)
	row["id"] = m.nextID
	m.nextID++
	m.rows[model] = append(m.rows[model], row)
	return nil
}

func (m *Memory) Update(ctx context.Context, model string, fields, filter map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows[model] {
		if matches(row, filter) {
			for k, v := range fields {
				row[k] = v
			}
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListUserIDs(ctx context.Context, model string, offset, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, row := range m.rows[model] {
		if id, ok := domain.AsInt64(row["user_id"]); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

func matches(row, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := row[k]
		if !ok {
			return false
		}
		// 数字标识允许 int64/float64 混用
		if wi, okW := domain.AsInt64(want); okW {
			if gi, okG := domain.AsInt64(got); okG {
				if wi != gi {
					return false
				}
				continue
			}
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
