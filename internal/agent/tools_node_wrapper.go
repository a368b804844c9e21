package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// toolStage 包装 eino 原生 ToolsNode，负责状态与工具消息之间的转换
type toolStage struct {
	node NodeID
	tn   *compose.ToolsNode
}

func newToolStage(ctx context.Context, node NodeID, tools []tool.BaseTool) (*toolStage, error) {
	tn, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{Tools: tools})
	if err != nil {
		return nil, fmt.Errorf("create tools node %s: %w", node, err)
	}
	return &toolStage{node: node, tn: tn}, nil
}

// Run 执行最后一条 AgentMessage 请求的全部工具调用，结果按 call id 追加到对话
func (s *toolStage) Run(ctx context.Context, st ConversationState) (ConversationState, error) {
	pending := st.Messages.PendingToolCalls()
	if len(pending) == 0 {
		return st, nil
	}

	outputs, err := s.tn.Invoke(ctx, convertStateToToolsInput(pending))
	if err != nil {
		return st, fmt.Errorf("%w: %s: %v", ErrToolInvoke, s.node, err)
	}
	return convertToolsOutputToState(st, pending, outputs), nil
}

// convertStateToToolsInput 构造带 ToolCalls 的 assistant 消息作为 ToolsNode 输入
func convertStateToToolsInput(pending []ToolCall) *schema.Message {
	msg := &schema.Message{Role: schema.Assistant}
	for _, tc := range pending {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: schema.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	return msg
}

func convertToolsOutputToState(st ConversationState, pending []ToolCall, outputs []*schema.Message) ConversationState {
	names := make(map[string]string, len(pending))
	for _, tc := range pending {
		names[tc.ID] = tc.Name
	}
	for _, out := range outputs {
		if out == nil {
			continue
		}
		name := out.ToolName
		if name == "" {
			name = names[out.ToolCallID]
		}
		st.Messages = append(st.Messages, ToolResult{
			CallID:   out.ToolCallID,
			ToolName: name,
			Content:  out.Content,
		})
	}
	return st
}
