package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "supportdesk:checkpoint:"

type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
	// TTL 为快照过期时间；<=0 表示不过期。等待审批的快照始终不过期。
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// RedisStore 以 JSON 形式把快照写入 Redis，多个进程可共享同一组会话。
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

type redisRecord struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Node      string    `json:"node,omitempty"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis checkpoint store requires addr")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Record, bool, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("get", err)
	}
	var rr redisRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, false, wrap("decode", err)
	}
	return &Record{
		SessionID: rr.SessionID,
		Status:    rr.Status,
		Node:      rr.Node,
		Payload:   rr.Payload,
		UpdatedAt: rr.UpdatedAt,
	}, true, nil
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	data, err := json.Marshal(redisRecord{
		SessionID: rec.SessionID,
		Status:    rec.Status,
		Node:      rec.Node,
		Payload:   rec.Payload,
		UpdatedAt: updated,
	})
	if err != nil {
		return wrap("encode", err)
	}
	ttl := s.ttl
	if ttl < 0 || rec.Status == StatusSuspended {
		ttl = 0
	}
	return wrap("put", s.client.Set(ctx, s.key(rec.SessionID), data, ttl).Err())
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return wrap("delete", s.client.Del(ctx, s.key(sessionID)).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
