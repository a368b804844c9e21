package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/finlearnhub/supportdesk/internal/agent"
	"github.com/finlearnhub/supportdesk/internal/ui"
)

// ChatUI 全屏终端界面，实现 ui.ChatUI
type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) error {
	_, err := tea.NewProgram(newChatModel(ctx, backend, opts), tea.WithAltScreen()).Run()
	return err
}

type bubbleKind int

const (
	bubbleUser bubbleKind = iota
	bubbleAgent
	bubbleTool
	bubbleError
)

// bubble 聊天区中的一条记录
type bubble struct {
	kind   bubbleKind
	author string
	text   string
}

// reveal 逐段显示最新一条代理回复
type reveal struct {
	index int
	runes []rune
	shown int
}

func (r *reveal) active() bool { return r != nil && r.shown < len(r.runes) }

func (r *reveal) text() string {
	if s := string(r.runes[:r.shown]); strings.TrimSpace(s) != "" {
		return s
	}
	return "…"
}

const revealStep = 24

type chatModel struct {
	ctx     context.Context
	backend ui.ChatBackend
	opts    ui.ChatOptions
	session string

	state   *agent.ConversationState
	bubbles []bubble
	reveal  *reveal
	busy    bool
	pinned  bool

	// 审批框
	approval     bool
	approvalText string
	approveFocus bool

	width, height int
	vp            viewport.Model
	input         textinput.Model
	spin          spinner.Model
	md            *glamour.TermRenderer
	st            styles
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) chatModel {
	session := opts.SessionID
	if session == "" {
		session = uuid.NewString()
	}

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Ask FinLearn Hub anything (" + ui.ExitHint + ")"
	in.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return chatModel{
		ctx:     ctx,
		backend: backend,
		opts:    opts,
		session: session,
		pinned:  true,
		vp:      viewport.New(0, 0),
		input:   in,
		spin:    spin,
		st:      newStyles(),
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spin.Tick,
		untilDone(m.ctx),
		fetchSession(m.ctx, m.backend, m.session),
	)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		return m, tea.Quit
	case tea.WindowSizeMsg:
		return m.onResize(msg), nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case sessionMsg:
		return m.onSession(msg), nil
	case turnMsg:
		return m.onTurn(msg)
	case revealMsg:
		return m.onReveal()
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.approval {
			return m.onApprovalKey(msg)
		}
		return m.onKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) onResize(msg tea.WindowSizeMsg) chatModel {
	m.width, m.height = msg.Width, msg.Height
	m.input.Width = max(10, m.width-4)
	m.md = newMarkdown(m.contentWidth())
	m.refresh()
	return m
}

func (m chatModel) onSession(msg sessionMsg) chatModel {
	switch {
	case msg.err != nil:
		m.fail(msg.err)
	case msg.found:
		m.state = msg.state
		m.bubbles = bubblesFrom(msg.state.Messages)
		m.pinned = true
		if m.backend.RequiresApproval(*m.state) {
			m.openApproval()
		}
		m.refresh()
	}
	return m
}

func (m chatModel) onTurn(msg turnMsg) (tea.Model, tea.Cmd) {
	m.busy = false
	if errors.Is(msg.err, agent.ErrAwaitingApproval) {
		// 会话仍在等待审批，重新读取后弹出审批框
		return m, fetchSession(m.ctx, m.backend, m.session)
	}
	if msg.err != nil {
		m.fail(msg.err)
		return m, nil
	}

	m.state = msg.state
	from := min(max(0, msg.seen), len(m.state.Messages))
	first := len(m.bubbles)
	m.bubbles = append(m.bubbles, bubblesFrom(m.state.Messages[from:])...)
	m.pinned = true

	if m.backend.RequiresApproval(*m.state) {
		m.openApproval()
		m.refresh()
		return m, nil
	}
	m.reveal = revealFrom(m.bubbles, first)
	m.refresh()
	if m.reveal.active() {
		return m, nextReveal()
	}
	return m, nil
}

func (m chatModel) onReveal() (tea.Model, tea.Cmd) {
	if !m.reveal.active() {
		return m, nil
	}
	m.reveal.shown = min(len(m.reveal.runes), m.reveal.shown+revealStep)
	m.refresh()
	if m.reveal.active() {
		return m, nextReveal()
	}
	return m, nil
}

func (m chatModel) onApprovalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab", "left", "right":
		m.approveFocus = !m.approveFocus
	case "1", "y":
		return m.decide(agent.DecisionApprove)
	case "2", "n", "esc":
		return m.decide(agent.DecisionReject)
	case "enter":
		if m.approveFocus {
			return m.decide(agent.DecisionApprove)
		}
		return m.decide(agent.DecisionReject)
	}
	return m, nil
}

func (m chatModel) onKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "pgup", "pageup":
		m.vp.PageUp()
		m.pinned = false
		return m, nil
	case "pgdown", "pagedown":
		m.vp.PageDown()
		m.pinned = m.vp.AtBottom()
		return m, nil
	}
	if msg.Type != tea.KeyEnter {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy {
		return m, nil
	}
	if ui.IsExit(text) {
		return m, tea.Quit
	}
	m.input.Reset()
	m.bubbles = append(m.bubbles, bubble{kind: bubbleUser, text: text})
	m.busy = true
	m.pinned = true
	m.refresh()

	// 用户消息已在本地显示，新结果从它之后开始
	return m, sendTurn(m.ctx, m.backend, m.session, text, m.messageCount()+1, m.opts.TurnTimeout)
}

// decide 提交审批结果，恢复或拒绝挂起的调用
func (m chatModel) decide(d agent.Decision) (tea.Model, tea.Cmd) {
	m.approval = false
	m.busy = true
	m.pinned = true
	m.bubbles = append(m.bubbles, bubble{kind: bubbleTool, text: strings.TrimSpace(ui.FormatApprovalResult(d))})
	m.refresh()
	return m, resumeTurn(m.ctx, m.backend, m.session, d, m.messageCount(), m.opts.TurnTimeout)
}

func (m *chatModel) openApproval() {
	calls := strings.TrimRight(ui.FormatCalls(ui.PendingCalls(m.state)), "\n")
	m.approvalText = "⚠️  SENSITIVE OPERATION - APPROVAL REQUIRED\n" + calls
	m.approval = true
	m.approveFocus = true
}

func (m *chatModel) fail(err error) {
	m.bubbles = append(m.bubbles, bubble{kind: bubbleError, text: ui.FormatError(err)})
	m.pinned = true
	m.refresh()
}

func (m chatModel) messageCount() int {
	if m.state == nil {
		return 0
	}
	return len(m.state.Messages)
}

// refresh 重新排版并渲染聊天区，跟随模式下滚动到底部
func (m *chatModel) refresh() {
	if m.width > 0 {
		// 标题与底栏各占一行
		m.vp.Width = m.width
		m.vp.Height = max(1, m.height-2-lipgloss.Height(m.bottomView()))
	}
	offset := m.vp.YOffset
	m.vp.SetContent(m.renderBubbles())
	if m.pinned {
		m.vp.GotoBottom()
	} else {
		m.vp.SetYOffset(offset)
	}
}

// bubblesFrom 把对话记录转换为气泡，工具调用和结果显示为工具气泡
func bubblesFrom(msgs agent.Transcript) []bubble {
	out := make([]bubble, 0, len(msgs))
	for _, msg := range msgs {
		switch v := msg.(type) {
		case agent.UserMessage:
			out = append(out, bubble{kind: bubbleUser, text: v.Content})
		case agent.AgentMessage:
			if strings.TrimSpace(v.Content) != "" {
				out = append(out, bubble{kind: bubbleAgent, author: string(v.Author), text: v.Content})
			}
			for _, tc := range v.ToolCalls {
				out = append(out, bubble{kind: bubbleTool, author: string(v.Author), text: "→ " + tc.Name + " " + tc.Arguments})
			}
		case agent.ToolResult:
			out = append(out, bubble{kind: bubbleTool, text: "← " + v.ToolName + ": " + clip(v.Content, 400)})
		}
	}
	return out
}

func revealFrom(bubbles []bubble, first int) *reveal {
	for i := max(0, first); i < len(bubbles); i++ {
		b := bubbles[i]
		if b.kind == bubbleAgent && strings.TrimSpace(b.text) != "" {
			r := &reveal{index: i, runes: []rune(b.text)}
			r.shown = min(len(r.runes), revealStep)
			return r
		}
	}
	return nil
}

func clip(s string, limit int) string {
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return s
}
