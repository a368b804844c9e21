package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckpointQuery 列出会话快照的过滤条件
type CheckpointQuery struct {
	// Status 为空时不过滤
	Status string
	Limit  int
}

// UpsertSessionCheckpoint 按 SessionID 写入或覆盖会话快照。
func (s *Storage) UpsertSessionCheckpoint(ctx context.Context, cp *SessionCheckpoint) error {
	if err := s.ready(); err != nil {
		return err
	}
	switch {
	case cp == nil:
		return errors.New("checkpoint is nil")
	case cp.SessionID == "":
		return errors.New("checkpoint session id is empty")
	}
	now := time.Now().UTC()
	stampCreated(&cp.CreatedAt, now)
	cp.UpdatedAt = now

	onSession := clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "node", "payload", "updated_at"}),
	}
	if err := s.db.WithContext(ctx).Clauses(onSession).Create(cp).Error; err != nil {
		return fmt.Errorf("upsert session checkpoint: %w", err)
	}
	return nil
}

// GetSessionCheckpoint 返回会话快照，不存在时 ok=false。
func (s *Storage) GetSessionCheckpoint(ctx context.Context, sessionID string) (*SessionCheckpoint, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}
	var cp SessionCheckpoint
	switch err := s.db.WithContext(ctx).Scopes(eq("session_id", sessionID)).Take(&cp).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("get session checkpoint: %w", err)
	}
	return &cp, true, nil
}

func (s *Storage) DeleteSessionCheckpoint(ctx context.Context, sessionID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&SessionCheckpoint{}).Error; err != nil {
		return fmt.Errorf("delete session checkpoint: %w", err)
	}
	return nil
}

// ListSessionCheckpoints 按更新时间倒序列出会话快照。
func (s *Storage) ListSessionCheckpoints(ctx context.Context, q CheckpointQuery) ([]SessionCheckpoint, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var out []SessionCheckpoint
	err := s.db.WithContext(ctx).
		Scopes(eq("status", q.Status), page(q.Limit)).
		Order("updated_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list session checkpoints: %w", err)
	}
	return out, nil
}

func (s *Storage) CountSessionCheckpoints(ctx context.Context) (int64, error) {
	return s.count(ctx, &SessionCheckpoint{}, "session checkpoints")
}

// DeleteSessionCheckpointsBefore 清理 before 之后没有更新过的会话，等待审批的会话不清理。
func (s *Storage) DeleteSessionCheckpointsBefore(ctx context.Context, before time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).Scopes(notSuspended).Where("updated_at < ?", before).Delete(&SessionCheckpoint{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete session checkpoints: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteSessionCheckpointsBeforeLimited 单次最多删除 limit 行，供后台清理分批调用；同样跳过等待审批的会话。
func (s *Storage) DeleteSessionCheckpointsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	pick := func(db *gorm.DB) *gorm.DB {
		return olderThan("updated_at", before, limit)(notSuspended(db))
	}
	return deleteIDs[SessionCheckpoint](ctx, s, "session checkpoint", pick)
}

func notSuspended(db *gorm.DB) *gorm.DB {
	return db.Where("status <> ?", StatusSuspended)
}
