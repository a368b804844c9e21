package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/finlearnhub/supportdesk/internal/agent"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error {
	if u.In == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	if u.Out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}
	out := u.Out
	reader := bufio.NewReader(u.In)

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	fmt.Fprintln(out, Title)
	fmt.Fprintln(out, ExitHint)
	fmt.Fprintln(out)

	// 恢复的会话可能停在审批前
	st, found, err := backend.Session(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if found && backend.RequiresApproval(*st) {
		if err := u.settle(ctx, reader, backend, sessionID, opts, st); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, GoodbyeText)
			return nil
		default:
		}

		fmt.Fprint(out, "You: ")
		line, err := readLine(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if IsExit(line) {
			fmt.Fprintln(out, GoodbyeText)
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		turnCtx, cancel := TurnContext(ctx, opts.TurnTimeout)
		st, err := backend.Send(turnCtx, sessionID, line)
		cancel()
		if errors.Is(err, agent.ErrAwaitingApproval) {
			// 上次审批未完成，先处理挂起的操作
			st, found, err = backend.Session(ctx, sessionID)
			if err == nil && !found {
				err = agent.ErrSessionNotFound
			}
		}
		if err != nil {
			fmt.Fprintf(out, "%s\n\n", FormatError(err))
			continue
		}
		if err := u.settle(ctx, reader, backend, sessionID, opts, st); err != nil {
			return err
		}
	}
}

// settle 处理挂起的审批直到会话不再等待，然后输出最终回复
func (u *ConsoleChatUI) settle(ctx context.Context, reader *bufio.Reader, backend ChatBackend, sessionID string, opts ChatOptions, st *agent.ConversationState) error {
	out := u.Out
	for backend.RequiresApproval(*st) {
		fmt.Fprint(out, FormatApproval(PendingCalls(st)))

		decision, err := u.readDecision(reader)
		if err != nil {
			return err
		}
		fmt.Fprint(out, FormatApprovalResult(decision))

		turnCtx, cancel := TurnContext(ctx, opts.TurnTimeout)
		next, err := backend.Resume(turnCtx, sessionID, decision)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "%s\n\n", FormatError(err))
			return nil
		}
		st = next
	}

	if reply := strings.TrimSpace(st.LastReply()); reply != "" {
		fmt.Fprintf(out, "Assistant: %s\n", reply)
	} else {
		fmt.Fprintln(out, "Assistant: (no reply)")
	}
	fmt.Fprintln(out)
	return nil
}

// readDecision 无效输入时重新提示，不限次数
func (u *ConsoleChatUI) readDecision(reader *bufio.Reader) (agent.Decision, error) {
	for {
		fmt.Fprint(u.Out, ChoicePrompt)
		line, err := readLine(reader)
		if err != nil {
			return "", fmt.Errorf("read approval: %w", err)
		}
		d, err := agent.ParseDecision(line)
		if err == nil {
			return d, nil
		}
		fmt.Fprintln(u.Out, InvalidChoice)
	}
}

// readLine 最后一行没有换行符时也返回内容
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
