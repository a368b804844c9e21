package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/finlearnhub/supportdesk/internal/ui"
)

var (
	colorUser  = lipgloss.Color("205")
	colorAgent = lipgloss.Color("63")
	colorTool  = lipgloss.Color("240")
	colorError = lipgloss.Color("196")
	colorWarn  = lipgloss.Color("214")
	colorMuted = lipgloss.Color("245")
)

const defaultWidth = 80

// styles 界面用到的全部样式
type styles struct {
	title   lipgloss.Style
	frame   lipgloss.Style
	label   lipgloss.Style
	toolTxt lipgloss.Style
	btnOn   lipgloss.Style
	btnOff  lipgloss.Style
}

func newStyles() styles {
	frame := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(colorAgent),
		frame:   frame,
		label:   lipgloss.NewStyle().Bold(true),
		toolTxt: lipgloss.NewStyle().Foreground(colorMuted),
		btnOn:   frame.BorderForeground(colorUser).Padding(0, 2).Bold(true),
		btnOff:  frame.BorderForeground(colorTool).Padding(0, 2),
	}
}

func (m chatModel) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.st.title.Render(ui.Title),
		m.vp.View(),
		m.bottomView(),
		m.statusLine(),
	)
}

// bottomView 输入框，审批时换成审批框
func (m chatModel) bottomView() string {
	if m.approval {
		approve, reject := m.st.btnOff, m.st.btnOn
		if m.approveFocus {
			approve, reject = m.st.btnOn, m.st.btnOff
		}
		buttons := lipgloss.JoinHorizontal(lipgloss.Top, approve.Render("Approve"), " ", reject.Render("Reject"))
		body := lipgloss.NewStyle().Width(m.contentWidth()).Render(m.approvalText)
		return m.st.frame.BorderForeground(colorWarn).Render(body + "\n\n" + buttons)
	}
	return m.st.frame.Width(max(1, m.input.Width+2)).Render(m.input.View())
}

func (m chatModel) statusLine() string {
	hint := "Enter send · PgUp/PgDn scroll · Ctrl+C quit"
	status := ""
	switch {
	case m.approval:
		status = "Tab switch · Enter confirm · 1/y approve · 2/n/Esc reject"
	case m.busy:
		status = m.spin.View() + " Thinking..."
	}
	gap := max(1, m.width-lipgloss.Width(hint)-lipgloss.Width(status)-2)
	return " " + hint + strings.Repeat(" ", gap) + status
}

// renderBubbles 渲染所有气泡，正在逐段显示的回复只显示已到达的部分
func (m chatModel) renderBubbles() string {
	parts := make([]string, 0, len(m.bubbles))
	for i, b := range m.bubbles {
		text := b.text
		if m.reveal.active() && m.reveal.index == i {
			text = m.reveal.text()
		}
		parts = append(parts, m.renderBubble(b, strings.TrimRight(text, "\n")))
	}
	return strings.Join(parts, "\n\n")
}

func (m chatModel) renderBubble(b bubble, text string) string {
	width := m.width
	if width <= 0 {
		width = defaultWidth
	}
	box := m.st.frame.MaxWidth(max(20, width-4))

	switch b.kind {
	case bubbleUser:
		out := box.BorderForeground(colorUser).Render(m.fit(text))
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, out)
	case bubbleAgent:
		label := m.st.label.Foreground(colorAgent).Render(b.author)
		return box.BorderForeground(colorAgent).Render(label + "\n" + m.fit(m.markdown(text)))
	case bubbleError:
		return box.BorderForeground(colorError).Inherit(m.st.toolTxt).Render("ERROR\n" + m.fit(orPlaceholder(text)))
	default:
		return box.BorderForeground(colorTool).Inherit(m.st.toolTxt).Render("TOOL\n" + m.fit(orPlaceholder(text)))
	}
}

// fit 按最长一行收窄气泡，最宽不超过可用宽度
func (m chatModel) fit(s string) string {
	widest := 0
	for _, line := range strings.Split(s, "\n") {
		widest = max(widest, lipgloss.Width(strings.TrimRight(line, " ")))
	}
	return lipgloss.NewStyle().Width(min(m.contentWidth(), max(10, widest))).Render(s)
}

func (m chatModel) markdown(s string) string {
	if m.md == nil || strings.TrimSpace(s) == "" {
		return s
	}
	out, err := m.md.Render(s)
	if err != nil {
		return s
	}
	return strings.TrimRight(out, "\n")
}

func (m chatModel) contentWidth() int {
	if m.width <= 0 {
		return defaultWidth - 8
	}
	return max(20, m.width-8)
}

func newMarkdown(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return nil
	}
	return r
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(no output)"
	}
	return s
}
