package agent

import (
	"fmt"
	"strings"
)

// ToolRefundProcessing 是默认需要人工审批的工具
const ToolRefundProcessing = "refund_processing_tool"

// DefaultSensitiveTools 默认敏感工具集合
func DefaultSensitiveTools() []string {
	return []string{ToolRefundProcessing}
}

// RequiresApproval 最后一条消息是带工具调用的 AgentMessage，且至少一个调用在敏感集合中
func RequiresApproval(st ConversationState, sensitive map[string]bool) bool {
	for _, tc := range st.Messages.PendingToolCalls() {
		if sensitive[tc.Name] {
			return true
		}
	}
	return false
}

// Decision 审批结果
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision 接受 1/approve/a/y/yes 与 2/reject/r/n/no，大小写不敏感
func ParseDecision(input string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "approve", "a", "y", "yes":
		return DecisionApprove, nil
	case "2", "reject", "r", "n", "no":
		return DecisionReject, nil
	}
	return "", fmt.Errorf("invalid decision %q: enter 1 (approve) or 2 (reject)", input)
}

func sensitiveSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			set[n] = true
		}
	}
	return set
}
