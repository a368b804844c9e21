package tui

import (
	"context"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlearnhub/supportdesk/internal/agent"
	"github.com/finlearnhub/supportdesk/internal/ui"
)

type stubBackend struct {
	sends     []string
	decisions []agent.Decision
	stored    *agent.ConversationState
	next      *agent.ConversationState
}

func (s *stubBackend) Send(ctx context.Context, sessionID, text string) (*agent.ConversationState, error) {
	s.sends = append(s.sends, text)
	return s.next, nil
}

func (s *stubBackend) Resume(ctx context.Context, sessionID string, d agent.Decision) (*agent.ConversationState, error) {
	s.decisions = append(s.decisions, d)
	return s.next, nil
}

func (s *stubBackend) Session(ctx context.Context, sessionID string) (*agent.ConversationState, bool, error) {
	return s.stored, s.stored != nil, nil
}

func (s *stubBackend) RequiresApproval(st agent.ConversationState) bool {
	return st.Run.IsSuspended()
}

func pendingRefund() *agent.ConversationState {
	calls := []agent.ToolCall{{ID: "c2", Name: agent.ToolRefundProcessing, Arguments: `{"emails":["18c3f21b5d6e789"]}`}}
	return &agent.ConversationState{
		SessionID: "s1",
		Messages: agent.Transcript{
			agent.UserMessage{Content: "refund"},
			agent.AgentMessage{Author: agent.AgentRefund, ToolCalls: calls},
		},
		Run: agent.Suspended(agent.NodeRefundTools, calls),
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBubblesFrom(t *testing.T) {
	bubbles := bubblesFrom(agent.Transcript{
		agent.UserMessage{Content: "hi"},
		agent.AgentMessage{Author: agent.AgentMarketing, ToolCalls: []agent.ToolCall{{ID: "1", Name: agent.ToolOffersQuery, Arguments: "{}"}}},
		agent.ToolResult{CallID: "1", ToolName: agent.ToolOffersQuery, Content: "WINTER25"},
		agent.AgentMessage{Author: agent.AgentMarketing, Content: "Use WINTER25"},
	})
	require.Len(t, bubbles, 4)
	assert.Equal(t, bubbleUser, bubbles[0].kind)
	assert.Equal(t, bubbleTool, bubbles[1].kind)
	assert.Contains(t, bubbles[1].text, agent.ToolOffersQuery)
	assert.Equal(t, "← offers_query_tool: WINTER25", bubbles[2].text)
	assert.Equal(t, bubble{kind: bubbleAgent, author: "marketing", text: "Use WINTER25"}, bubbles[3])
}

func TestChatModel_ApprovalDialog(t *testing.T) {
	done := &agent.ConversationState{
		SessionID: "s1",
		Messages:  append(pendingRefund().Messages, agent.ToolResult{CallID: "c2", ToolName: agent.ToolRefundProcessing, Content: "{}"}, agent.AgentMessage{Author: agent.AgentRefund, Content: "Refund processed."}),
		Run:       agent.Completed(),
	}
	backend := &stubBackend{stored: pendingRefund(), next: done}
	m := newChatModel(context.Background(), backend, ui.ChatOptions{SessionID: "s1"})

	model, _ := m.Update(fetchSession(context.Background(), backend, "s1")())
	m = model.(chatModel)
	require.True(t, m.approval)
	assert.Contains(t, m.approvalText, agent.ToolRefundProcessing)
	assert.Contains(t, m.approvalText, "1. 18c3f21b5d6e789")

	// 待审批时输入框按键不生效
	model, cmd := m.Update(key("x"))
	m = model.(chatModel)
	assert.Nil(t, cmd)
	assert.True(t, m.approval)

	model, cmd = m.Update(key("1"))
	m = model.(chatModel)
	require.NotNil(t, cmd)
	assert.False(t, m.approval)
	assert.True(t, m.busy)

	result := cmd()
	assert.Equal(t, []agent.Decision{agent.DecisionApprove}, backend.decisions)

	model, _ = m.Update(result)
	m = model.(chatModel)
	assert.False(t, m.busy)
	assert.Equal(t, agent.RunCompleted, m.state.Run.Kind)
	last := m.bubbles[len(m.bubbles)-1]
	assert.Equal(t, bubbleAgent, last.kind)
	assert.Equal(t, "Refund processed.", last.text)
}

func TestChatModel_EscRejects(t *testing.T) {
	backend := &stubBackend{stored: pendingRefund(), next: pendingRefund()}
	m := newChatModel(context.Background(), backend, ui.ChatOptions{SessionID: "s1"})
	model, _ := m.Update(fetchSession(context.Background(), backend, "s1")())
	m = model.(chatModel)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []agent.Decision{agent.DecisionReject}, backend.decisions)
}

func TestChatModel_ByeQuitsWithoutSending(t *testing.T) {
	backend := &stubBackend{}
	m := newChatModel(context.Background(), backend, ui.ChatOptions{})
	m.input.SetValue("Bye")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, backend.sends)
}

func TestChatModel_SendAppendsNewEntries(t *testing.T) {
	backend := &stubBackend{next: &agent.ConversationState{
		SessionID: "s1",
		Messages: agent.Transcript{
			agent.UserMessage{Content: "hello"},
			agent.AgentMessage{Author: agent.AgentFrontDesk, Content: "Hi there!"},
		},
		Run: agent.Completed(),
	}}
	m := newChatModel(context.Background(), backend, ui.ChatOptions{SessionID: "s1"})
	m.input.SetValue("hello")

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = model.(chatModel)
	require.NotNil(t, cmd)
	require.Len(t, m.bubbles, 1)

	model, _ = m.Update(cmd())
	m = model.(chatModel)
	assert.Equal(t, []string{"hello"}, backend.sends)
	require.Len(t, m.bubbles, 2)
	assert.Equal(t, "Hi there!", m.bubbles[1].text)
	require.NotNil(t, m.reveal)
	assert.Equal(t, 1, m.reveal.index)
}

func TestReveal_StepsByRunes(t *testing.T) {
	text := strings.Repeat("退款已受理", 10)
	m := newChatModel(context.Background(), &stubBackend{}, ui.ChatOptions{SessionID: "s1"})
	m.bubbles = []bubble{{kind: bubbleUser, text: "hi"}, {kind: bubbleTool, text: "→ x"}, {kind: bubbleAgent, author: "refund", text: text}}
	m.reveal = revealFrom(m.bubbles, 1)
	require.NotNil(t, m.reveal)
	assert.Equal(t, 2, m.reveal.index)
	assert.Equal(t, string([]rune(text)[:revealStep]), m.reveal.text())

	for m.reveal.active() {
		model, _ := m.Update(revealMsg{})
		m = model.(chatModel)
		assert.True(t, utf8.ValidString(m.reveal.text()))
	}
	assert.Equal(t, text, m.reveal.text())

	assert.Nil(t, revealFrom(m.bubbles, 3))
}

func TestMuteStdioRestores(t *testing.T) {
	out, errOut := os.Stdout, os.Stderr
	restoreOuter := muteStdio()
	restoreInner := muteStdio()
	assert.NotSame(t, out, os.Stdout)
	restoreInner()
	assert.NotSame(t, out, os.Stdout)
	restoreOuter()
	assert.Same(t, out, os.Stdout)
	assert.Same(t, errOut, os.Stderr)
}

func TestView_ShowsApprovalButtons(t *testing.T) {
	backend := &stubBackend{stored: pendingRefund()}
	m := newChatModel(context.Background(), backend, ui.ChatOptions{SessionID: "s1"})
	model, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	model, _ = model.Update(fetchSession(context.Background(), backend, "s1")())
	view := model.View()
	assert.Contains(t, view, "Approve")
	assert.Contains(t, view, "Reject")
	assert.Contains(t, view, ui.Title)

	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.False(t, model.(chatModel).approveFocus)
}

func TestChatModel_FailSeparatesNotices(t *testing.T) {
	m := newChatModel(context.Background(), &stubBackend{}, ui.ChatOptions{SessionID: "s1"})
	m.fail(agent.ErrNotSuspended)
	m.fail(agent.ErrModelInvoke)

	require.Len(t, m.bubbles, 2)
	assert.Equal(t, "Notice: "+agent.ErrNotSuspended.Error(), m.bubbles[0].text)
	assert.Equal(t, "Error processing request: "+agent.ErrModelInvoke.Error(), m.bubbles[1].text)
}
