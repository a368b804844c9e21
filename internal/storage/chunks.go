package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ReplaceKnowledgeChunks 在一个事务内替换某个来源文档的全部片段，chunks 为空即删除该来源。
func (s *Storage) ReplaceKnowledgeChunks(ctx context.Context, source string, chunks []KnowledgeChunk) error {
	if err := s.ready(); err != nil {
		return err
	}
	if source == "" {
		return errors.New("knowledge source is empty")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source = ?", source).Delete(&KnowledgeChunk{}).Error; err != nil {
			return fmt.Errorf("delete knowledge chunks: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		now := time.Now().UTC()
		for i := range chunks {
			chunks[i].Source = source
			stampCreated(&chunks[i].CreatedAt, now)
		}
		if err := tx.CreateInBatches(chunks, 200).Error; err != nil {
			return fmt.Errorf("insert knowledge chunks: %w", err)
		}
		return nil
	})
}

// ListKnowledgeChunks 按来源与序号返回全部片段。
func (s *Storage) ListKnowledgeChunks(ctx context.Context) ([]KnowledgeChunk, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var out []KnowledgeChunk
	if err := s.db.WithContext(ctx).Order("source ASC, seq ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list knowledge chunks: %w", err)
	}
	return out, nil
}

func (s *Storage) CountKnowledgeChunks(ctx context.Context) (int64, error) {
	return s.count(ctx, &KnowledgeChunk{}, "knowledge chunks")
}
