package ui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/finlearnhub/supportdesk/internal/agent"
)

var rule = strings.Repeat("=", 60)

// FormatApproval 列出每个挂起调用的工具名与参数，数组参数逐项编号
func FormatApproval(pending []agent.ToolCall) string {
	var b strings.Builder
	b.WriteString("\n" + rule + "\n")
	b.WriteString("⚠️  SENSITIVE OPERATION - APPROVAL REQUIRED\n")
	b.WriteString(rule + "\n")

	b.WriteString(FormatCalls(pending))
	b.WriteString("\n" + rule + "\n")
	b.WriteString("Options:\n")
	b.WriteString("  1. Approve - Continue with operation\n")
	b.WriteString("  2. Reject  - Cancel operation\n")
	return b.String()
}

// FormatCalls 只包含调用明细，TUI 审批框也使用
func FormatCalls(pending []agent.ToolCall) string {
	var b strings.Builder
	for _, tc := range pending {
		fmt.Fprintf(&b, "\n🔧 Tool: %s\n", tc.Name)
		b.WriteString("📋 Arguments:\n")
		writeArguments(&b, tc.Arguments)
	}
	return b.String()
}

// FormatApprovalResult 审批结果横幅
func FormatApprovalResult(d agent.Decision) string {
	msg := "❌ REJECTED - Operation cancelled"
	if d == agent.DecisionApprove {
		msg = "✅ APPROVED - Processing..."
	}
	return "\n" + rule + "\n" + msg + "\n" + rule + "\n"
}

const (
	ChoicePrompt  = "\n👤 Your choice (1 or 2): "
	InvalidChoice = "❌ Invalid input. Please enter 1 (approve) or 2 (reject)"
)

func writeArguments(b *strings.Builder, raw string) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		// 非对象参数原样输出
		if s := strings.TrimSpace(raw); s != "" {
			fmt.Fprintf(b, "   %s\n", s)
		}
		return
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := args[k].(type) {
		case []any:
			fmt.Fprintf(b, "   %s:\n", k)
			for i, item := range v {
				fmt.Fprintf(b, "      %d. %s\n", i+1, formatValue(item))
			}
		default:
			fmt.Fprintf(b, "   %s: %s\n", k, formatValue(v))
		}
	}
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}
