package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finlearnhub/supportdesk/internal/checkpoint"
	"github.com/finlearnhub/supportdesk/internal/knowledge"
	"github.com/finlearnhub/supportdesk/internal/metrics"
	"github.com/finlearnhub/supportdesk/internal/storage"
)

const refundArgsJSON = `{"emails":["18c3f21b5d6e789","18c3f21b5d6e790"]}`

func newTestDesk(t *testing.T, opts Options) *Desk {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	d, err := NewDesk(context.Background(), opts)
	require.NoError(t, err)
	return d
}

func openTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "desk.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func refundScript(final ...string) *scriptedModel {
	responses := []*schema.Message{
		reply("I'll transfer you to our refund processing team."),
		classify("REFUND"),
		callTool("c1", ToolGetEmails, "{}"),
		callTool("c2", ToolRefundProcessing, refundArgsJSON),
	}
	for _, f := range final {
		responses = append(responses, reply(f))
	}
	return newScriptedModel(responses...)
}

func TestDesk_DiscountQuestion(t *testing.T) {
	store := openTestStorage(t)
	fake := newScriptedModel(
		reply("Let me transfer you to our marketing team."),
		classify("MARKETING"),
		callTool("call_1", ToolOffersQuery, "{}"),
		reply("You can use WINTER25 for 25% off all courses."),
	)
	collector := metrics.NewCollector()
	desk := newTestDesk(t, Options{Model: fake, Audit: store, Metrics: collector})

	st, err := desk.Send(context.Background(), "thread-1", "Are there any discounts available?")
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, st.Run.Kind)
	assert.Equal(t, LabelMarketing, st.NextRepresentative)
	assert.Equal(t, 1, st.ToolRounds)
	require.Len(t, st.Messages, 5)
	assert.IsType(t, UserMessage{}, st.Messages[0])
	assert.Equal(t, AgentFrontDesk, st.Messages[1].(AgentMessage).Author)
	assert.Equal(t, "call_1", st.Messages[2].(AgentMessage).ToolCalls[0].ID)

	result := st.Messages[3].(ToolResult)
	assert.Equal(t, "call_1", result.CallID)
	assert.Equal(t, ToolOffersQuery, result.ToolName)
	assert.Contains(t, result.Content, "WINTER25")
	assert.Contains(t, result.Content, "EARLY_BIRDS_DISCOUNT")
	assert.Equal(t, "You can use WINTER25 for 25% off all courses.", st.LastReply())

	calls := fake.calls()
	require.Len(t, calls, 4)
	assert.Equal(t, []string{ToolOffersQuery}, calls[2].tools)
	// 专家第一次调用看不到前台的转接回复
	assert.Len(t, calls[2].input, 2)
	assert.Equal(t, MarketingPrompt, calls[2].input[0].Content)
	// 工具结果之后看到完整历史
	assert.Len(t, calls[3].input, 5)

	audits, err := store.QueryAuditRecords(context.Background(), storage.AuditQuery{SessionID: "thread-1"})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, ToolOffersQuery, audits[0].Action)
	assert.Equal(t, "success", audits[0].Status)
	assert.NotEmpty(t, audits[0].TraceID)

	got, ok, err := desk.Session(context.Background(), "thread-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Messages, 5)
}

const learningCatalog = `CFA Level 1 covers ethics, quantitative methods and financial reporting.

Candidates should plan 300 hours of study before the CFA exam.

Course certificates are issued after the final assessment.`

func TestDesk_LearningQuestion(t *testing.T) {
	ctx := context.Background()
	store := openTestStorage(t)
	indexer, err := knowledge.NewIndexer(ctx, store, knowledge.NewSplitter(80, 0), nil)
	require.NoError(t, err)
	n, err := indexer.IndexText(ctx, "catalog.md", learningCatalog)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	chat := newScriptedModel(
		reply("I'll connect you with our learning support team."),
		callTool("k1", ToolLearningKnowledge, `{"query":"how many hours of study for the CFA exam"}`),
		reply("Plan about 300 hours of study before the CFA exam."),
	)
	// 分类走独立的模型
	classifier := newScriptedModel(classify("LEARNING"))
	desk := newTestDesk(t, Options{
		Model:      chat,
		Classifier: classifier,
		Retriever:  knowledge.NewRetriever(store, 2, nil),
		TopK:       1,
		Audit:      store,
	})

	st, err := desk.Send(ctx, "thread-learn", "How long should I study for CFA Level 1?")
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, st.Run.Kind)
	assert.Equal(t, LabelLearning, st.NextRepresentative)
	assert.Equal(t, 1, st.ToolRounds)
	require.Len(t, st.Messages, 5)
	assert.Equal(t, AgentLearning, st.Messages[2].(AgentMessage).Author)

	result := st.Messages[3].(ToolResult)
	assert.Equal(t, "k1", result.CallID)
	assert.Equal(t, ToolLearningKnowledge, result.ToolName)
	assert.Contains(t, result.Content, "300 hours of study")
	assert.NotContains(t, result.Content, "ethics")
	assert.Equal(t, "Plan about 300 hours of study before the CFA exam.", st.LastReply())

	require.Len(t, classifier.calls(), 1)
	calls := chat.calls()
	require.Len(t, calls, 3)
	assert.Empty(t, calls[0].tools)
	assert.Equal(t, []string{ToolLearningKnowledge}, calls[1].tools)
	assert.Equal(t, LearningPrompt, calls[1].input[0].Content)

	audits, err := store.QueryAuditRecords(ctx, storage.AuditQuery{SessionID: "thread-learn"})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, ToolLearningKnowledge, audits[0].Action)
	assert.Equal(t, "success", audits[0].Status)
}

func TestIsUserFacing(t *testing.T) {
	assert.True(t, IsUserFacing(fmt.Errorf("send: %w", ErrAwaitingApproval)))
	assert.True(t, IsUserFacing(ErrNotSuspended))
	assert.True(t, IsUserFacing(ErrSessionNotFound))
	assert.False(t, IsUserFacing(ErrModelInvoke))
	assert.False(t, IsUserFacing(errors.New("boom")))
}

func TestDesk_RespondEndsAfterFrontDesk(t *testing.T) {
	fake := newScriptedModel(reply("Hi! How can I help?"), classify("RESPOND"))
	desk := newTestDesk(t, Options{Model: fake})

	st, err := desk.Send(context.Background(), "s", "hello")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, st.Run.Kind)
	assert.Len(t, st.Messages, 2)
	assert.Equal(t, 0, fake.remaining())
}

func TestDesk_RefundSuspendsBeforeProcessing(t *testing.T) {
	refunds := &MemoryRefundRecorder{}
	fake := refundScript("Your refunds have been processed.")
	desk := newTestDesk(t, Options{Model: fake, Refunds: refunds})
	ctx := context.Background()

	st, err := desk.Send(ctx, "thread-1", "Please process the pending refund requests")
	require.NoError(t, err)

	// 读取邮件不需要审批，自动恢复；处理退款前挂起
	require.True(t, st.Run.IsSuspended())
	assert.Equal(t, NodeRefundTools, st.Run.Node)
	require.Len(t, st.Run.Pending, 1)
	assert.Equal(t, ToolRefundProcessing, st.Run.Pending[0].Name)
	assert.True(t, desk.RequiresApproval(*st))
	assert.Empty(t, refunds.Processed())
	assert.Equal(t, 1, st.ToolRounds)

	_, err = desk.Send(ctx, "thread-1", "hello?")
	assert.ErrorIs(t, err, ErrAwaitingApproval)

	st, err = desk.Resume(ctx, "thread-1", DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, st.Run.Kind)
	assert.Equal(t, []string{"18c3f21b5d6e789", "18c3f21b5d6e790"}, refunds.Processed())
	assert.Equal(t, "Your refunds have been processed.", st.LastReply())
	assert.NoError(t, st.Messages.Validate())

	// 拿到退款结果后不再绑定工具
	calls := fake.calls()
	require.Len(t, calls, 5)
	assert.Equal(t, []string{ToolGetEmails, ToolRefundProcessing}, calls[3].tools)
	assert.Empty(t, calls[4].tools)
}

func TestDesk_RejectNeverExecutesRefund(t *testing.T) {
	store := openTestStorage(t)
	fake := refundScript()
	fake.script.responses = append(fake.script.responses, reply("Anything else I can help with?"), classify("RESPOND"))
	desk := newTestDesk(t, Options{Model: fake, Refunds: NewStorageRefundRecorder(store), Audit: store})
	ctx := context.Background()

	_, err := desk.Send(ctx, "thread-2", "refund my course")
	require.NoError(t, err)

	st, err := desk.Resume(ctx, "thread-2", DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, RunRejected, st.Run.Kind)

	n := len(st.Messages)
	rejected := st.Messages[n-2].(ToolResult)
	assert.Equal(t, "c2", rejected.CallID)
	assert.Equal(t, ToolRejectedResult, rejected.Content)
	assert.Equal(t, AgentMessage{Author: AgentRefund, Content: RefundRejectedNotice}, st.Messages[n-1])
	assert.NoError(t, st.Messages.Validate())

	count, err := store.CountRefundRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	audits, err := store.QueryAuditRecords(ctx, storage.AuditQuery{Action: ToolRefundProcessing})
	require.NoError(t, err)
	assert.Empty(t, audits)

	_, err = desk.Resume(ctx, "thread-2", DecisionApprove)
	assert.ErrorIs(t, err, ErrNotSuspended)

	// 拒绝后会话可以继续
	st, err = desk.Send(ctx, "thread-2", "ok thanks")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, st.Run.Kind)
}

func TestDesk_ResumeUnknownSession(t *testing.T) {
	desk := newTestDesk(t, Options{Model: newScriptedModel()})
	_, err := desk.Resume(context.Background(), "nope", DecisionApprove)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDesk_SuspensionSurvivesRestart(t *testing.T) {
	store := openTestStorage(t)
	cps, err := checkpoint.NewSQLStore(store)
	require.NoError(t, err)

	fake := refundScript("Done, both refunds are processed.")
	refunds := NewStorageRefundRecorder(store)
	first := newTestDesk(t, Options{Model: fake, Checkpoints: cps, Refunds: refunds})

	_, err = first.Send(context.Background(), "thread-9", "refund please")
	require.NoError(t, err)

	rec, ok, err := cps.Get(context.Background(), "thread-9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(RunSuspended), rec.Status)
	assert.Equal(t, string(NodeRefundTools), rec.Node)

	// 新进程：同一个检查点存储、同一个模型脚本
	second := newTestDesk(t, Options{Model: fake, Checkpoints: cps, Refunds: refunds})
	st, err := second.Resume(context.Background(), "thread-9", DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, st.Run.Kind)

	rows, err := store.QueryRefundRecords(context.Background(), storage.RefundQuery{SessionID: "thread-9"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestDesk_ToolRoundLimit(t *testing.T) {
	fake := newScriptedModel(
		reply("Transferring you to marketing."),
		classify("MARKETING"),
		callTool("a", ToolOffersQuery, "{}"),
		callTool("b", ToolOffersQuery, "{}"),
		callTool("c", ToolOffersQuery, "{}"),
	)
	desk := newTestDesk(t, Options{Model: fake, MaxToolRounds: 2})

	st, err := desk.Send(context.Background(), "loop", "discounts?")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, st.Run.Kind)
	assert.Equal(t, 2, st.ToolRounds)

	n := len(st.Messages)
	assert.Equal(t, ToolResult{CallID: "c", ToolName: ToolOffersQuery, Content: ToolLimitResult}, st.Messages[n-2])
	assert.Equal(t, AgentMessage{Author: AgentMarketing, Content: ToolLimitNotice}, st.Messages[n-1])
	assert.NoError(t, st.Messages.Validate())
}

func TestDesk_FailedTurnIsNotCheckpointed(t *testing.T) {
	fake := newScriptedModel(reply("Hi!"), classify("RESPOND"))
	desk := newTestDesk(t, Options{Model: fake})
	ctx := context.Background()

	_, err := desk.Send(ctx, "s", "hello")
	require.NoError(t, err)

	fake.script.err = errors.New("rate limited")
	_, err = desk.Send(ctx, "s", "second message")
	assert.ErrorIs(t, err, ErrModelInvoke)

	st, ok, err := desk.Session(ctx, "s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, st.Messages, 2)

	_, ok, err = desk.Session(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDesk_ConcurrentSessionsAreIsolated(t *testing.T) {
	desk := newTestDesk(t, Options{Model: echoModel{}})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				_, err := desk.Send(ctx, fmt.Sprintf("session-%d", i), fmt.Sprintf("message %d-%d", i, j))
				errs <- err
			}(i, j)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < 10; i++ {
		st, ok, err := desk.Session(ctx, fmt.Sprintf("session-%d", i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, st.Messages, 4)
		for _, m := range st.Messages {
			assert.Contains(t, m.Text(), fmt.Sprintf("message %d-", i))
		}
	}
}

func TestDesk_InvalidSessionID(t *testing.T) {
	desk := newTestDesk(t, Options{Model: newScriptedModel()})
	_, err := desk.Send(context.Background(), " ", "hi")
	assert.ErrorIs(t, err, checkpoint.ErrInvalidSession)
}
