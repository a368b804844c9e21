// Package checkpoint 提供按会话 ID 存取运行快照的后端（memory / sqlite / redis）。
//
// Store 只关心字节载荷与少量元数据，状态的序列化由 agent 包负责。
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var ErrInvalidSession = errors.New("checkpoint session id is empty")

// StatusSuspended 等待审批的快照不设过期时间
const StatusSuspended = "suspended"

// Record 是一次持久化的会话快照。
type Record struct {
	SessionID string
	// Status 为运行状态名（running/suspended/completed/rejected）。
	Status string
	// Node 为挂起时的重入节点。
	Node      string
	Payload   []byte
	UpdatedAt time.Time
}

// Store 为会话快照存储。
type Store interface {
	Get(ctx context.Context, sessionID string) (*Record, bool, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, sessionID string) error
}

// Backend 名称，对应配置 checkpoint.backend。
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

func validate(rec *Record) error {
	if rec == nil {
		return errors.New("checkpoint record is nil")
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return ErrInvalidSession
	}
	return nil
}

// MemoryStore 为进程内存储，仅适合演示与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil, false, nil
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	return &rec, true, nil
}

func (m *MemoryStore) Put(_ context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.records[rec.SessionID] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.records, sessionID)
	m.mu.Unlock()
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("checkpoint %s: %w", op, err)
}
