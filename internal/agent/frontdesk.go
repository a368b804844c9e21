package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// FrontDesk 先以前台身份回复，再用一次独立的模型调用判断要转给哪个团队。
// 分类走 classifier，一般是约束为 JSON 输出的模型；为 nil 时与回复共用 cm。
type FrontDesk struct {
	model      model.BaseChatModel
	classifier model.BaseChatModel
	persona    prompt.ChatTemplate
	classify   prompt.ChatTemplate
	logger     *zap.Logger
}

func NewFrontDesk(cm, classifier model.BaseChatModel, logger *zap.Logger) *FrontDesk {
	if logger == nil {
		logger = zap.NewNop()
	}
	if classifier == nil {
		classifier = cm
	}
	return &FrontDesk{
		model:      cm,
		classifier: classifier,
		persona:    newPersonaTemplate(FrontDeskPrompt),
		classify:   newClassificationTemplate(),
		logger:     logger.With(zap.String("component", "front_desk")),
	}
}

func (f *FrontDesk) Run(ctx context.Context, st ConversationState) (ConversationState, error) {
	history := toSchemaMessages(st.Messages)

	in, err := f.persona.Format(ctx, map[string]any{"history": history})
	if err != nil {
		return st, fmt.Errorf("format front desk template: %w", err)
	}
	reply, err := f.model.Generate(ctx, in)
	if err != nil {
		return st, fmt.Errorf("%w: front desk reply: %v", ErrModelInvoke, err)
	}
	// 前台不绑定工具，只保留文本
	replyMsg := &schema.Message{Role: schema.Assistant, Content: reply.Content}

	in, err = f.classify.Format(ctx, map[string]any{
		"history": history,
		"reply":   []*schema.Message{replyMsg},
	})
	if err != nil {
		return st, fmt.Errorf("format classification template: %w", err)
	}
	out, err := f.classifier.Generate(ctx, in)
	if err != nil {
		return st, fmt.Errorf("%w: front desk classification: %v", ErrModelInvoke, err)
	}

	st.Messages = append(st.Messages, AgentMessage{Author: AgentFrontDesk, Content: reply.Content})
	st.NextRepresentative = f.parseClassification(out.Content)
	return st, nil
}

type classification struct {
	NextRepresentative string `json:"nextRepresentative"`
}

// parseClassification 解析分类 JSON；无法解析时回退为 RESPOND，不重试
func (f *FrontDesk) parseClassification(raw string) Label {
	var c classification
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &c); err != nil {
		f.logger.Debug("unparseable classification, falling back to RESPOND",
			zap.String("raw", raw), zap.Error(err))
		return LabelRespond
	}
	return ParseLabel(c.NextRepresentative)
}

// stripCodeFence 去掉模型常加的 ```json 包裹
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
