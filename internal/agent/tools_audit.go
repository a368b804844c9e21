package agent

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/finlearnhub/supportdesk/internal/metrics"
	"github.com/finlearnhub/supportdesk/internal/storage"
)

const (
	auditTextLimit = 2048

	auditRunning = "running"
	auditSuccess = "success"
	auditFailed  = "failed"
)

// AuditStore 审计记录的落库接口，*storage.Storage 实现了它
type AuditStore interface {
	InsertAuditRecord(ctx context.Context, rec *storage.AuditRecord) error
	UpdateAuditRecord(ctx context.Context, id uint64, up storage.AuditUpdate) error
}

// AuditedTool 包装一个可执行工具：每次调用开一个 span，
// 先写 running 审计记录，结束后回填结果并计数。
// 审计写入失败只记日志，不影响工具本身。
type AuditedTool struct {
	impl    tool.InvokableTool
	store   AuditStore
	metrics *metrics.Collector
	logger  *zap.Logger
}

func wrapWithAudit(t tool.BaseTool, store AuditStore, m *metrics.Collector, logger *zap.Logger) tool.BaseTool {
	it, ok := t.(tool.InvokableTool)
	if !ok {
		return t
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditedTool{impl: it, store: store, metrics: m, logger: logger}
}

func (t *AuditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *AuditedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (out string, err error) {
	name := t.name(ctx)
	ctx, span := startSpan(ctx, "tool "+name, attribute.String("tool.name", name))
	defer func() { endSpan(span, err) }()

	rec := t.begin(ctx, name, argumentsInJSON)

	// 模型偶尔给出空参数或半个左括号
	if argumentsInJSON == "" || argumentsInJSON == "{" {
		argumentsInJSON = "{}"
	}
	out, err = t.impl.InvokableRun(ctx, argumentsInJSON, opts...)

	status := t.finish(ctx, rec, out, err)
	span.SetAttributes(attribute.String("tool.status", status))
	return out, err
}

func (t *AuditedTool) name(ctx context.Context) string {
	if info, err := t.impl.Info(ctx); err == nil && info != nil {
		return info.Name
	}
	return "unknown"
}

func (t *AuditedTool) begin(ctx context.Context, name, args string) *storage.AuditRecord {
	rec := &storage.AuditRecord{
		TraceID:    GetTraceID(ctx),
		SessionID:  GetSessionID(ctx),
		Action:     name,
		ParamsJSON: truncate(args, auditTextLimit),
		Status:     auditRunning,
		StartedAt:  time.Now().UTC(),
	}
	if t.store == nil {
		return rec
	}
	if err := t.store.InsertAuditRecord(ctx, rec); err != nil {
		t.logger.Warn("insert audit record failed", zap.String("tool", name), zap.Error(err))
	}
	return rec
}

// finish 回填审计记录并返回最终状态
func (t *AuditedTool) finish(ctx context.Context, rec *storage.AuditRecord, out string, runErr error) string {
	now := time.Now().UTC()
	up := storage.AuditUpdate{FinishedAt: &now}
	status := auditSuccess
	if runErr != nil {
		status = auditFailed
		msg := truncate(runErr.Error(), auditTextLimit)
		up.ErrorMessage = &msg
	} else {
		res := truncate(out, auditTextLimit)
		up.ResultJSON = &res
	}
	up.Status = &status

	t.metrics.IncToolCall(rec.Action, status)
	t.logger.Debug("tool call finished",
		zap.String("tool", rec.Action),
		zap.String("status", status),
		zap.String("session_id", rec.SessionID),
		zap.Duration("elapsed", now.Sub(rec.StartedAt)),
	)

	if t.store == nil || rec.ID == 0 {
		return status
	}
	if err := t.store.UpdateAuditRecord(ctx, rec.ID, up); err != nil {
		t.logger.Warn("update audit record failed", zap.String("tool", rec.Action), zap.Error(err))
	}
	return status
}

// truncate 按字符截断，不会切开多字节字符
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "...(truncated)"
}
