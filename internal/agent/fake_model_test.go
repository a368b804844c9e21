package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type modelCall struct {
	tools []string
	input []*schema.Message
}

type modelScript struct {
	mu        sync.Mutex
	responses []*schema.Message
	idx       int
	calls     []modelCall
	err       error
}

// scriptedModel 按顺序返回预置回复；WithTools 返回共享同一脚本、记录绑定工具名的副本
type scriptedModel struct {
	script *modelScript
	tools  []string
}

func newScriptedModel(responses ...*schema.Message) *scriptedModel {
	return &scriptedModel{script: &modelScript{responses: responses}}
}

func (f *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	s := f.script
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, modelCall{tools: f.tools, input: input})
	if s.err != nil {
		return nil, s.err
	}
	if s.idx >= len(s.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := s.responses[s.idx]
	s.idx++
	return msg, nil
}

func (f *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *scriptedModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return &scriptedModel{script: f.script, tools: names}, nil
}

func (f *scriptedModel) calls() []modelCall {
	f.script.mu.Lock()
	defer f.script.mu.Unlock()
	return append([]modelCall(nil), f.script.calls...)
}

func (f *scriptedModel) remaining() int {
	f.script.mu.Lock()
	defer f.script.mu.Unlock()
	return len(f.script.responses) - f.script.idx
}

// echoModel 无状态：分类请求一律回 RESPOND，其余回显最后一条用户消息，适合并发测试
type echoModel struct{}

func (echoModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	last := input[len(input)-1]
	if last.Role == schema.User && last.Content == ClassificationHumanPrompt {
		return schema.AssistantMessage(`{"nextRepresentative": "RESPOND"}`, nil), nil
	}
	for i := len(input) - 1; i >= 0; i-- {
		if input[i].Role == schema.User {
			return schema.AssistantMessage("echo: "+strings.TrimSpace(input[i].Content), nil), nil
		}
	}
	return schema.AssistantMessage("echo:", nil), nil
}

func (echoModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (m echoModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return m, nil
}

func reply(content string) *schema.Message {
	return schema.AssistantMessage(content, nil)
}

func classify(label string) *schema.Message {
	return schema.AssistantMessage(`{"nextRepresentative": "`+label+`"}`, nil)
}

func callTool(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}
