// Package store 定义调和引擎使用的通用实体存储接口：
// 按 model 名做 get-one / create / update，字段以映射传递
package store

import (
	"context"
	"errors"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("store: record not found")

type Store interface {
	// GetOne 按过滤条件取一条记录，找不到返回 ErrNotFound
	GetOne(ctx context.Context, model string, filter map[string]any) (map[string]any, error)
	// Create 插入一条记录
	Create(ctx context.Context, model string, fields map[string]any) error
	// Update 按过滤条件更新，返回受影响行数
	Update(ctx context.Context, model string, fields, filter map[string]any) (int64, error)
	// ListUserIDs 分页列出某 model 的全部 user_id（夜间刷新用）
	ListUserIDs(ctx context.Context, model string, offset, limit int) ([]int64, error)
}
