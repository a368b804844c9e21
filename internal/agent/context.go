package agent

import (
	"context"
	"sync"
)

type traceIDKey struct{}
type sessionIDKey struct{}
type runErrKey struct{}

// WithTraceID 将 TraceID 注入 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID 从 context 获取 TraceID
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return v
	}
	return ""
}

// runErr 保存一次图运行中第一个节点错误，图框架会再包一层，取回原始错误便于 errors.Is
type runErr struct {
	mu  sync.Mutex
	err error
}

func withRunErr(ctx context.Context) (context.Context, *runErr) {
	slot := &runErr{}
	return context.WithValue(ctx, runErrKey{}, slot), slot
}

func recordRunErr(ctx context.Context, err error) {
	slot, ok := ctx.Value(runErrKey{}).(*runErr)
	if !ok || err == nil {
		return
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.err == nil {
		slot.err = err
	}
}

func (r *runErr) get() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
