package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/finlearnhub/supportdesk/internal/agent"
)

// ChatBackend 由 agent.Desk 实现
type ChatBackend interface {
	Send(ctx context.Context, sessionID, text string) (*agent.ConversationState, error)
	Resume(ctx context.Context, sessionID string, decision agent.Decision) (*agent.ConversationState, error)
	Session(ctx context.Context, sessionID string) (*agent.ConversationState, bool, error)
	RequiresApproval(st agent.ConversationState) bool
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error
}

type ChatOptions struct {
	SessionID string
	// TurnTimeout 单轮对话超时，0 表示不限制
	TurnTimeout time.Duration
}

const (
	Title       = "FinLearn Hub Support Agent"
	ExitHint    = "Type 'bye' to exit"
	ExitWord    = "bye"
	GoodbyeText = "Thank you for contacting FinLearn Hub. Goodbye!"
)

// IsExit 判断输入是否为结束会话的口令，不经过模型
func IsExit(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), ExitWord)
}

// TurnContext 为单轮对话套上超时
func TurnContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// PendingCalls 等待审批的调用
func PendingCalls(st *agent.ConversationState) []agent.ToolCall {
	if len(st.Run.Pending) > 0 {
		return st.Run.Pending
	}
	return st.Messages.PendingToolCalls()
}

// FormatError 会话状态类错误作为提示展示，其余按处理失败展示
func FormatError(err error) string {
	if agent.IsUserFacing(err) {
		return fmt.Sprintf("Notice: %v", err)
	}
	return fmt.Sprintf("Error processing request: %v", err)
}
