package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/finlearnhub/supportdesk/internal/checkpoint"
	"github.com/finlearnhub/supportdesk/internal/metrics"
)

// Options 构建 Desk 所需的依赖，除 Model 外都可省略
type Options struct {
	Model          model.ToolCallingChatModel
	Classifier     model.BaseChatModel
	Retriever      retriever.Retriever
	TopK           int
	Refunds        RefundRecorder
	Audit          AuditStore
	Checkpoints    checkpoint.Store
	SensitiveTools []string
	MaxToolRounds  int
	MaxRunSteps    int
	Logger         *zap.Logger
	Metrics        *metrics.Collector
}

// Desk 对外提供按会话的对话入口：发送消息、审批挂起的操作、读取会话状态。
// 同一会话的调用串行执行，不同会话互不影响。
type Desk struct {
	runner    compose.Runnable[ConversationState, ConversationState]
	store     checkpoint.Store
	sensitive map[string]bool
	logger    *zap.Logger
	metrics   *metrics.Collector
	locks     *sessionLocks
}

func NewDesk(ctx context.Context, opts Options) (*Desk, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = checkpoint.NewMemoryStore()
	}
	if opts.SensitiveTools == nil {
		opts.SensitiveTools = DefaultSensitiveTools()
	}

	runner, err := BuildGraph(ctx, GraphDeps{
		Model:          opts.Model,
		Classifier:     opts.Classifier,
		Tools:          ToolDeps{Retriever: opts.Retriever, TopK: opts.TopK, Refunds: opts.Refunds},
		Audit:          opts.Audit,
		SensitiveTools: opts.SensitiveTools,
		MaxToolRounds:  opts.MaxToolRounds,
		MaxRunSteps:    opts.MaxRunSteps,
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	return &Desk{
		runner:    runner,
		store:     opts.Checkpoints,
		sensitive: sensitiveSet(opts.SensitiveTools),
		logger:    opts.Logger.With(zap.String("component", "desk")),
		metrics:   opts.Metrics,
		locks:     newSessionLocks(),
	}, nil
}

// Send 处理一条用户消息。会话等待审批时返回 ErrAwaitingApproval。
// 运行失败时不写检查点，会话保持上一次的状态。
func (d *Desk) Send(ctx context.Context, sessionID, text string) (_ *ConversationState, err error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, checkpoint.ErrInvalidSession
	}
	ctx, span := startSpan(ctx, "desk.send", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	unlock := d.locks.lock(sessionID)
	defer unlock()

	st, found, err := d.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		st = NewConversationState(sessionID)
	}
	if st.Run.IsSuspended() {
		return nil, ErrAwaitingApproval
	}

	st.Messages = append(st.Messages, UserMessage{Content: text})
	st.NextRepresentative = LabelNone
	st.ToolRounds = 0
	st.ResumeAt = ""
	st.Run = Running()

	ctx = turnContext(ctx, sessionID)
	out, err := d.drive(ctx, st)
	if err != nil {
		d.metrics.IncTurn("failed")
		return nil, err
	}
	return d.finish(ctx, out)
}

// Resume 处理运维人员对挂起操作的决定。
// 通过：从挂起的节点继续运行；拒绝：工具不执行，补上拒绝结果与转人工说明。
func (d *Desk) Resume(ctx context.Context, sessionID string, decision Decision) (_ *ConversationState, err error) {
	ctx, span := startSpan(ctx, "desk.resume",
		attribute.String("session.id", sessionID),
		attribute.String("approval.decision", string(decision)),
	)
	defer func() { endSpan(span, err) }()

	unlock := d.locks.lock(sessionID)
	defer unlock()

	st, found, err := d.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	if !st.Run.IsSuspended() {
		return nil, ErrNotSuspended
	}

	ctx = turnContext(ctx, sessionID)
	var out ConversationState
	switch decision {
	case DecisionApprove:
		st.ResumeAt = st.Run.Node
		st.Run = Running()
		out, err = d.drive(ctx, st)
		if err != nil {
			d.metrics.IncTurn("failed")
			return nil, err
		}
	case DecisionReject:
		out = rejectPending(st)
	default:
		return nil, fmt.Errorf("unknown decision %q", decision)
	}

	d.metrics.IncApproval(string(decision))
	d.logger.Info("approval decision applied",
		zap.String("session_id", sessionID),
		zap.String("trace_id", GetTraceID(ctx)),
		zap.String("decision", string(decision)),
	)
	return d.finish(ctx, out)
}

// Session 读取会话的最新检查点
func (d *Desk) Session(ctx context.Context, sessionID string) (*ConversationState, bool, error) {
	unlock := d.locks.lock(sessionID)
	defer unlock()

	st, found, err := d.load(ctx, sessionID)
	if err != nil || !found {
		return nil, found, err
	}
	return &st, true, nil
}

// RequiresApproval 判断会话当前的挂起是否需要人工审批
func (d *Desk) RequiresApproval(st ConversationState) bool {
	return st.Run.IsSuspended() && RequiresApproval(st, d.sensitive)
}

// drive 运行编排图；不需要审批的挂起（如只读取邮件）自动恢复
func (d *Desk) drive(ctx context.Context, st ConversationState) (ConversationState, error) {
	for {
		out, err := d.invoke(ctx, st)
		if err != nil {
			return st, err
		}
		if !out.Run.IsSuspended() || RequiresApproval(out, d.sensitive) {
			return out, nil
		}
		d.logger.Debug("auto resuming suspension without sensitive calls",
			zap.String("session_id", out.SessionID),
			zap.String("node", string(out.Run.Node)),
		)
		out.ResumeAt = out.Run.Node
		out.Run = Running()
		st = out
	}
}

func (d *Desk) invoke(ctx context.Context, st ConversationState) (ConversationState, error) {
	ctx, slot := withRunErr(ctx)
	out, err := d.runner.Invoke(ctx, st)
	if err != nil {
		if nodeErr := slot.get(); nodeErr != nil {
			return st, nodeErr
		}
		return st, fmt.Errorf("run graph: %w", err)
	}
	return out, nil
}

func (d *Desk) finish(ctx context.Context, out ConversationState) (*ConversationState, error) {
	if err := out.Messages.Validate(); err != nil {
		return nil, err
	}
	if err := d.save(ctx, out); err != nil {
		return nil, err
	}
	d.metrics.IncTurn(string(out.Run.Kind))
	d.logger.Info("turn finished",
		zap.String("session_id", out.SessionID),
		zap.String("trace_id", GetTraceID(ctx)),
		zap.String("run", string(out.Run.Kind)),
		zap.String("route", string(out.NextRepresentative)),
		zap.Int("tool_rounds", out.ToolRounds),
	)
	return &out, nil
}

func (d *Desk) load(ctx context.Context, sessionID string) (ConversationState, bool, error) {
	rec, found, err := d.store.Get(ctx, sessionID)
	if err != nil {
		return ConversationState{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	if !found {
		return ConversationState{}, false, nil
	}
	var st ConversationState
	if err := json.Unmarshal(rec.Payload, &st); err != nil {
		return ConversationState{}, false, fmt.Errorf("decode checkpoint %s: %w", sessionID, err)
	}
	return st, true, nil
}

func (d *Desk) save(ctx context.Context, st ConversationState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	err = d.store.Put(ctx, &checkpoint.Record{
		SessionID: st.SessionID,
		Status:    string(st.Run.Kind),
		Node:      string(st.Run.Node),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// rejectPending 为每个挂起的调用补上拒绝结果，并追加转交人工的说明
func rejectPending(st ConversationState) ConversationState {
	pending := st.Run.Pending
	if len(pending) == 0 {
		pending = st.Messages.PendingToolCalls()
	}
	for _, tc := range pending {
		st.Messages = append(st.Messages, ToolResult{CallID: tc.ID, ToolName: tc.Name, Content: ToolRejectedResult})
	}

	owner, _ := ToolNodeOwner(st.Run.Node)
	author, ok := specialistAgents[owner]
	if !ok {
		author = AgentRefund
	}
	notice := RefundRejectedNotice
	if author != AgentRefund {
		notice = ActionRejectedNotice
	}
	st.Messages = append(st.Messages, AgentMessage{Author: author, Content: notice})
	st.Run = Rejected()
	st.ResumeAt = ""
	return st
}

// turnContext 注入会话 ID 与本轮的 TraceID
func turnContext(ctx context.Context, sessionID string) context.Context {
	ctx = WithSessionID(ctx, sessionID)
	if GetTraceID(ctx) != "" {
		return ctx
	}
	// 有 span 时沿用其 trace id，审计记录可以与链路对上
	if id := spanTraceID(ctx); id != "" {
		return WithTraceID(ctx, id)
	}
	return WithTraceID(ctx, uuid.NewString())
}

// sessionLocks 按会话 ID 加锁，空闲的锁在释放时回收
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (s *sessionLocks) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// IsUserFacing 判断错误是否应原样展示给用户而非当作内部故障
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrAwaitingApproval) || errors.Is(err, ErrNotSuspended) || errors.Is(err, ErrSessionNotFound)
}
