package storage

import (
	"context"
	"fmt"
	"time"
)

type RefundQuery struct {
	SessionID string
	EmailID   string
	Limit     int
}

func (s *Storage) InsertRefundRecords(ctx context.Context, recs []RefundRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range recs {
		stampCreated(&recs[i].CreatedAt, now)
	}
	if err := s.db.WithContext(ctx).CreateInBatches(recs, 200).Error; err != nil {
		return fmt.Errorf("insert refund records: %w", err)
	}
	return nil
}

// QueryRefundRecords 新记录在前。
func (s *Storage) QueryRefundRecords(ctx context.Context, q RefundQuery) ([]RefundRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var out []RefundRecord
	err := s.db.WithContext(ctx).
		Scopes(eq("session_id", q.SessionID), eq("email_id", q.EmailID), page(q.Limit)).
		Order("id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query refund records: %w", err)
	}
	return out, nil
}

func (s *Storage) CountRefundRecords(ctx context.Context) (int64, error) {
	return s.count(ctx, &RefundRecord{}, "refund records")
}
