package tui

import (
	"context"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/finlearnhub/supportdesk/internal/agent"
	"github.com/finlearnhub/supportdesk/internal/ui"
)

type (
	doneMsg   struct{}
	revealMsg struct{}

	sessionMsg struct {
		state *agent.ConversationState
		found bool
		err   error
	}

	// turnMsg 一轮对话的结果，seen 之前的消息已在界面上
	turnMsg struct {
		state *agent.ConversationState
		seen  int
		err   error
	}
)

func untilDone(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return doneMsg{}
	}
}

func nextReveal() tea.Cmd {
	return tea.Tick(40*time.Millisecond, func(time.Time) tea.Msg { return revealMsg{} })
}

func fetchSession(ctx context.Context, backend ui.ChatBackend, session string) tea.Cmd {
	return func() tea.Msg {
		defer muteStdio()()
		st, found, err := backend.Session(ctx, session)
		return sessionMsg{state: st, found: found, err: err}
	}
}

func sendTurn(ctx context.Context, backend ui.ChatBackend, session, text string, seen int, timeout time.Duration) tea.Cmd {
	return turn(ctx, seen, timeout, func(ctx context.Context) (*agent.ConversationState, error) {
		return backend.Send(ctx, session, text)
	})
}

func resumeTurn(ctx context.Context, backend ui.ChatBackend, session string, d agent.Decision, seen int, timeout time.Duration) tea.Cmd {
	return turn(ctx, seen, timeout, func(ctx context.Context) (*agent.ConversationState, error) {
		return backend.Resume(ctx, session, d)
	})
}

func turn(ctx context.Context, seen int, timeout time.Duration, run func(context.Context) (*agent.ConversationState, error)) tea.Cmd {
	return func() tea.Msg {
		turnCtx, cancel := ui.TurnContext(ctx, timeout)
		defer cancel()
		defer muteStdio()()
		st, err := run(turnCtx)
		return turnMsg{state: st, seen: seen, err: err}
	}
}

var (
	muteMu    sync.Mutex
	muteDepth int
	savedOut  *os.File
	savedErr  *os.File
	devNull   *os.File
)

// muteStdio 在全屏界面运行期间把 stdout/stderr 指向空设备，返回恢复函数。
// 可重入，最后一个调用者恢复时才还原。
func muteStdio() func() {
	muteMu.Lock()
	defer muteMu.Unlock()
	if muteDepth == 0 {
		f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return func() {}
		}
		devNull, savedOut, savedErr = f, os.Stdout, os.Stderr
		os.Stdout, os.Stderr = f, f
	}
	muteDepth++

	return func() {
		muteMu.Lock()
		defer muteMu.Unlock()
		muteDepth--
		if muteDepth == 0 {
			os.Stdout, os.Stderr = savedOut, savedErr
			_ = devNull.Close()
		}
	}
}
