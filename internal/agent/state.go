package agent

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// AgentName 标识产生回复的代理
type AgentName string

const (
	AgentFrontDesk AgentName = "front_desk"
	AgentMarketing AgentName = "marketing"
	AgentLearning  AgentName = "learning"
	AgentRefund    AgentName = "refund"
)

// ToolCall 是模型请求的一次工具调用，Arguments 为原始 JSON
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message 是对话中的一条消息，只有 UserMessage、AgentMessage、ToolResult 三种
type Message interface {
	Text() string
	kind() string
}

type UserMessage struct {
	Content string
}

type AgentMessage struct {
	Author    AgentName
	Content   string
	ToolCalls []ToolCall
}

type ToolResult struct {
	CallID   string
	ToolName string
	Content  string
}

func (m UserMessage) Text() string  { return m.Content }
func (m AgentMessage) Text() string { return m.Content }
func (m ToolResult) Text() string   { return m.Content }

func (UserMessage) kind() string  { return kindUser }
func (AgentMessage) kind() string { return kindAgent }
func (ToolResult) kind() string   { return kindTool }

const (
	kindUser  = "user"
	kindAgent = "agent"
	kindTool  = "tool"
)

// Transcript 是只追加的消息序列
type Transcript []Message

type envelope struct {
	Kind      string     `json:"kind"`
	Author    AgentName  `json:"author,omitempty"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CallID    string     `json:"call_id,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

func (t Transcript) MarshalJSON() ([]byte, error) {
	out := make([]envelope, 0, len(t))
	for _, m := range t {
		switch v := m.(type) {
		case UserMessage:
			out = append(out, envelope{Kind: kindUser, Content: v.Content})
		case AgentMessage:
			out = append(out, envelope{Kind: kindAgent, Author: v.Author, Content: v.Content, ToolCalls: v.ToolCalls})
		case ToolResult:
			out = append(out, envelope{Kind: kindTool, Content: v.Content, CallID: v.CallID, ToolName: v.ToolName})
		default:
			return nil, fmt.Errorf("unsupported message type %T", m)
		}
	}
	return json.Marshal(out)
}

func (t *Transcript) UnmarshalJSON(data []byte) error {
	var raw []envelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	msgs := make(Transcript, 0, len(raw))
	for i, e := range raw {
		switch e.Kind {
		case kindUser:
			msgs = append(msgs, UserMessage{Content: e.Content})
		case kindAgent:
			msgs = append(msgs, AgentMessage{Author: e.Author, Content: e.Content, ToolCalls: e.ToolCalls})
		case kindTool:
			msgs = append(msgs, ToolResult{CallID: e.CallID, ToolName: e.ToolName, Content: e.Content})
		default:
			return fmt.Errorf("message %d: unknown kind %q", i, e.Kind)
		}
	}
	*t = msgs
	return nil
}

// Last 返回最后一条消息，空序列返回 nil
func (t Transcript) Last() Message {
	if len(t) == 0 {
		return nil
	}
	return t[len(t)-1]
}

// PendingToolCalls 返回最后一条消息请求的工具调用（最后一条不是 AgentMessage 时为空）
func (t Transcript) PendingToolCalls() []ToolCall {
	if am, ok := t.Last().(AgentMessage); ok {
		return am.ToolCalls
	}
	return nil
}

// LatestToolResults 返回末尾连续的 ToolResult
func (t Transcript) LatestToolResults() []ToolResult {
	i := len(t)
	for i > 0 {
		if _, ok := t[i-1].(ToolResult); !ok {
			break
		}
		i--
	}
	out := make([]ToolResult, 0, len(t)-i)
	for _, m := range t[i:] {
		out = append(out, m.(ToolResult))
	}
	return out
}

// Validate 检查每个 ToolResult 都紧跟在请求了该 call id 的 AgentMessage 之后
func (t Transcript) Validate() error {
	open := map[string]bool{}
	for i, m := range t {
		switch v := m.(type) {
		case UserMessage:
			open = map[string]bool{}
		case AgentMessage:
			open = make(map[string]bool, len(v.ToolCalls))
			for _, tc := range v.ToolCalls {
				open[tc.ID] = true
			}
		case ToolResult:
			if !open[v.CallID] {
				return fmt.Errorf("%w: message %d answers unknown tool call %q", ErrInvalidTranscript, i, v.CallID)
			}
			delete(open, v.CallID)
		}
	}
	return nil
}

// ConversationState 在编排图中流转，也是检查点持久化的内容
type ConversationState struct {
	SessionID          string     `json:"session_id"`
	Messages           Transcript `json:"messages"`
	NextRepresentative Label      `json:"next_representative,omitempty"`
	// ToolRounds 为本轮已执行的工具节点次数
	ToolRounds int `json:"tool_rounds"`
	// ResumeAt 只在审批通过后恢复时设置，工具节点执行后清空
	ResumeAt NodeID   `json:"resume_at,omitempty"`
	Run      RunState `json:"run"`

	// 节点执行后计算出的下一跳，仅供分支使用
	next NodeID
}

func NewConversationState(sessionID string) ConversationState {
	return ConversationState{SessionID: sessionID, Run: Completed()}
}

// LastReply 返回最近一条代理回复的文本
func (s ConversationState) LastReply() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if am, ok := s.Messages[i].(AgentMessage); ok && am.Content != "" {
			return am.Content
		}
	}
	return ""
}

// toSchemaMessages 转换为 eino 消息，供模型调用
func toSchemaMessages(msgs Transcript) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case UserMessage:
			out = append(out, schema.UserMessage(v.Content))
		case AgentMessage:
			am := &schema.Message{Role: schema.Assistant, Content: v.Content}
			for _, tc := range v.ToolCalls {
				am.ToolCalls = append(am.ToolCalls, schema.ToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: schema.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
				})
			}
			out = append(out, am)
		case ToolResult:
			out = append(out, &schema.Message{
				Role:       schema.Tool,
				Content:    v.Content,
				ToolCallID: v.CallID,
				ToolName:   v.ToolName,
			})
		}
	}
	return out
}

func fromSchemaMessage(author AgentName, msg *schema.Message) AgentMessage {
	am := AgentMessage{Author: author, Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		am.ToolCalls = append(am.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return am
}
