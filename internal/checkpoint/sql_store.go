package checkpoint

import (
	"context"
	"errors"

	"github.com/finlearnhub/supportdesk/internal/storage"
)

// SQLStore 把快照写入 SQLite 的 session_checkpoints 表。
type SQLStore struct {
	store *storage.Storage
}

func NewSQLStore(store *storage.Storage) (*SQLStore, error) {
	if store == nil {
		return nil, errors.New("sqlite checkpoint store requires storage")
	}
	return &SQLStore{store: store}, nil
}

func (s *SQLStore) Get(ctx context.Context, sessionID string) (*Record, bool, error) {
	cp, ok, err := s.store.GetSessionCheckpoint(ctx, sessionID)
	if err != nil || !ok {
		return nil, false, wrap("get", err)
	}
	return &Record{
		SessionID: cp.SessionID,
		Status:    cp.Status,
		Node:      cp.Node,
		Payload:   []byte(cp.Payload),
		UpdatedAt: cp.UpdatedAt,
	}, true, nil
}

func (s *SQLStore) Put(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	return wrap("put", s.store.UpsertSessionCheckpoint(ctx, &storage.SessionCheckpoint{
		SessionID: rec.SessionID,
		Status:    rec.Status,
		Node:      rec.Node,
		Payload:   string(rec.Payload),
	}))
}

func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	return wrap("delete", s.store.DeleteSessionCheckpoint(ctx, sessionID))
}
