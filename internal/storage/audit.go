package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AuditQuery 审计记录的过滤条件，零值字段不参与过滤。
type AuditQuery struct {
	TraceID   string
	SessionID string
	// Action 为工具名
	Action string
	// Status 为 running/success/failed
	Status string
	// From/To 为 CreatedAt 闭区间
	From  *time.Time
	To    *time.Time
	Limit int
	// Desc 新记录在前
	Desc bool
}

// AuditUpdate 工具执行结束后回填的字段，nil 表示不修改
type AuditUpdate struct {
	Status       *string
	ResultJSON   *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

func (up AuditUpdate) columns() map[string]any {
	cols := make(map[string]any, 4)
	for name, v := range map[string]*string{
		"status":        up.Status,
		"result_json":   up.ResultJSON,
		"error_message": up.ErrorMessage,
	} {
		if v != nil {
			cols[name] = *v
		}
	}
	if up.FinishedAt != nil {
		cols["finished_at"] = *up.FinishedAt
	}
	return cols
}

func (s *Storage) InsertAuditRecord(ctx context.Context, rec *AuditRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if rec == nil {
		return errors.New("audit record is nil")
	}
	stampCreated(&rec.CreatedAt, time.Now().UTC())
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *Storage) QueryAuditRecords(ctx context.Context, q AuditQuery) ([]AuditRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	order := "created_at ASC, id ASC"
	if q.Desc {
		order = "created_at DESC, id DESC"
	}
	var out []AuditRecord
	err := s.db.WithContext(ctx).
		Scopes(
			eq("trace_id", q.TraceID),
			eq("session_id", q.SessionID),
			eq("action", q.Action),
			eq("status", q.Status),
			createdWithin(q.From, q.To),
			page(q.Limit),
		).
		Order(order).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return out, nil
}

// UpdateAuditRecord 回填执行结果，记录不存在时返回 ErrNotFound。
func (s *Storage) UpdateAuditRecord(ctx context.Context, id uint64, up AuditUpdate) error {
	if err := s.ready(); err != nil {
		return err
	}
	cols := up.columns()
	if len(cols) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&AuditRecord{}).Where("id = ?", id).Updates(cols)
	switch {
	case res.Error != nil:
		return fmt.Errorf("update audit record: %w", res.Error)
	case res.RowsAffected == 0:
		return fmt.Errorf("audit record %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Storage) CountAuditRecords(ctx context.Context) (int64, error) {
	return s.count(ctx, &AuditRecord{}, "audit records")
}

func (s *Storage) DeleteAuditRecordsBefore(ctx context.Context, before time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteAuditRecordsBeforeLimited 单次最多删除 limit 行。
func (s *Storage) DeleteAuditRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return deleteIDs[AuditRecord](ctx, s, "audit record", olderThan("created_at", before, limit))
}

// DeleteAuditRecordsKeepLatest 只保留最新的 keep 条，其余分批删除。
func (s *Storage) DeleteAuditRecordsKeepLatest(ctx context.Context, keep int) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	beyond := func(db *gorm.DB) *gorm.DB {
		return db.Order("id DESC").Offset(max(0, keep)).Limit(defaultDeleteLimit)
	}
	var total int64
	for {
		n, err := deleteIDs[AuditRecord](ctx, s, "audit record", beyond)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}
