// Package repo 基于 pgx 的通用实体存储实现
package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Saivel1/tddbot/internal/domain"
	"github.com/Saivel1/tddbot/internal/store"
)

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) GetOne(ctx context.Context, model string, filter map[string]any) (map[string]any, error) {
	info, err := modelInfo(model)
	if err != nil {
		return nil, err
	}
	where, args, err := buildWhere(info, filter, 1)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s LIMIT 1",
		strings.Join(info.Columns, ", "), info.Table, where,
	)
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	rec, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (p *Postgres) Create(ctx context.Context, model string, fields map[string]any) error {
	info, err := modelInfo(model)
	if err != nil {
		return err
	}
	keys, err := sortedColumns(info, fields)
	if err != nil {
		return err
	}
	cols := make([]string, 0, len(keys))
	marks := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		cols = append(cols, k)
		marks = append(marks, fmt.Sprintf("$%d", i+1))
		args = append(args, fields[k])
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		info.Table, strings.Join(cols, ", "), strings.Join(marks, ", "),
	)
	_, err = p.db.Exec(ctx, query, args...)
	return err
}

func (p *Postgres) Update(ctx context.Context, model string, fields, filter map[string]any) (int64, error) {
	info, err := modelInfo(model)
	if err != nil {
		return 0, err
	}
	keys, err := sortedColumns(info, fields)
	if err != nil {
		return 0, err
	}
	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+len(filter))
	for i, k := range keys {
		sets = append(sets, fmt.Sprintf("%s=$%d", k, i+1))
		args = append(args, fields[k])
	}
	where, whereArgs, err := buildWhere(info, filter, len(keys)+1)
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		info.Table, strings.Join(sets, ", "), where,
	)
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) ListUserIDs(ctx context.Context, model string, offset, limit int) ([]int64, error) {
	info, err := modelInfo(model)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT user_id FROM %s ORDER BY id OFFSET $1 LIMIT $2", info.Table)
	rows, err := p.db.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func modelInfo(model string) (domain.ModelInfo, error) {
	info, ok := domain.Models[model]
	if !ok {
		return domain.ModelInfo{}, fmt.Errorf("repo: unknown model %q", model)
	}
	return info, nil
}

// sortedColumns 字段键排序并校验在列白名单内，保证 SQL 只由已知列拼出
func sortedColumns(info domain.ModelInfo, fields map[string]any) ([]string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !hasColumn(info, k) {
			return nil, fmt.Errorf("repo: unknown column %q for table %s", k, info.Table)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func buildWhere(info domain.ModelInfo, filter map[string]any, start int) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, fmt.Errorf("repo: empty filter for table %s", info.Table)
	}
	keys, err := sortedColumns(info, filter)
	if err != nil {
		return "", nil, err
	}
	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		conds = append(conds, fmt.Sprintf("%s=$%d", k, start+i))
		args = append(args, filter[k])
	}
	return strings.Join(conds, " AND "), args, nil
}

func hasColumn(info domain.ModelInfo, name string) bool {
	for _, c := range info.Columns {
		if c == name {
			return true
		}
	}
	return false
}
