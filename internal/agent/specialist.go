package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/tool"
)

// Specialist 是绑定了专属工具集的团队代理
type Specialist struct {
	name   AgentName
	tooled model.ToolCallingChatModel
	plain  model.ToolCallingChatModel
	tmpl   prompt.ChatTemplate
	// finalizeAfter 非空时，若最新的工具结果包含该工具，则不绑定工具调用模型，只能给出最终答复
	finalizeAfter string
}

type specialistConfig struct {
	name          AgentName
	node          NodeID
	prompt        string
	tools         []tool.BaseTool
	finalizeAfter string
}

func newSpecialist(ctx context.Context, cm model.ToolCallingChatModel, cfg specialistConfig) (*Specialist, error) {
	infos, err := GetToolsInfo(ctx, cfg.tools)
	if err != nil {
		return nil, err
	}
	tooled, err := cm.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("bind tools for %s: %w", cfg.name, err)
	}
	return &Specialist{
		name:          cfg.name,
		tooled:        tooled,
		plain:         cm,
		tmpl:          newPersonaTemplate(cfg.prompt),
		finalizeAfter: cfg.finalizeAfter,
	}, nil
}

func (s *Specialist) Run(ctx context.Context, st ConversationState) (ConversationState, error) {
	in, err := s.tmpl.Format(ctx, map[string]any{"history": toSchemaMessages(historyView(st.Messages))})
	if err != nil {
		return st, fmt.Errorf("format %s template: %w", s.name, err)
	}

	cm := s.tooled
	if s.shouldFinalize(st.Messages) {
		cm = s.plain
	}

	resp, err := cm.Generate(ctx, in)
	if err != nil {
		return st, fmt.Errorf("%w: %s: %v", ErrModelInvoke, s.name, err)
	}
	st.Messages = append(st.Messages, fromSchemaMessage(s.name, resp))
	return st, nil
}

func (s *Specialist) shouldFinalize(msgs Transcript) bool {
	if s.finalizeAfter == "" {
		return false
	}
	for _, r := range msgs.LatestToolResults() {
		if r.ToolName == s.finalizeAfter {
			return true
		}
	}
	return false
}

// historyView 专家看到的历史：最后一条是代理回复时去掉它，以工具结果结尾时保留全部
func historyView(msgs Transcript) Transcript {
	if _, ok := msgs.Last().(AgentMessage); ok {
		return msgs[:len(msgs)-1]
	}
	return msgs
}
