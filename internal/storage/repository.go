package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	// sqlite 单条语句最多 999 个绑定参数
	maxDeleteLimit = 900
)

var errNotInitialized = errors.New("storage not initialized")

// ErrNotFound 按主键更新时目标行不存在
var ErrNotFound = errors.New("record not found")

func (s *Storage) ready() error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return nil
}

// eq 值非空时追加等值条件
func eq(column, value string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if value == "" {
			return db
		}
		return db.Where(column+" = ?", value)
	}
}

// createdWithin 按 created_at 闭区间过滤，nil 表示不限
func createdWithin(from, to *time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if from != nil {
			db = db.Where("created_at >= ?", *from)
		}
		if to != nil {
			db = db.Where("created_at <= ?", *to)
		}
		return db
	}
}

func page(limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(clamp(limit, defaultLimit, maxLimit))
	}
}

// deleteIDs 先选出一批主键再按主键删除，select 返回空时不发删除语句
func deleteIDs[T any](ctx context.Context, s *Storage, what string, pick func(*gorm.DB) *gorm.DB) (int64, error) {
	var ids []uint64
	if err := pick(s.db.WithContext(ctx).Model(new(T)).Select("id")).Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select %s ids: %w", what, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(new(T))
	if res.Error != nil {
		return 0, fmt.Errorf("delete %ss: %w", what, res.Error)
	}
	return res.RowsAffected, nil
}

// olderThan 选出 column 早于 before 的最旧一批
func olderThan(column string, before time.Time, limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(column+" < ?", before).Order("id ASC").Limit(clamp(limit, defaultDeleteLimit, maxDeleteLimit))
	}
}

func (s *Storage) count(ctx context.Context, model any, what string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", what, err)
	}
	return n, nil
}

func stampCreated(t *time.Time, now time.Time) {
	if t.IsZero() {
		*t = now
	}
}

func clamp(v, def, upper int) int {
	switch {
	case v <= 0:
		return def
	case v > upper:
		return upper
	default:
		return v
	}
}
