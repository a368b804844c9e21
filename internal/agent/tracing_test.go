package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/finlearnhub/supportdesk/internal/storage"
)

func TestDesk_TurnSpansShareAuditTraceID(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	store := openTestStorage(t)
	desk := newTestDesk(t, Options{Model: refundScript(), Audit: store})

	st, err := desk.Send(context.Background(), "traced", "I want a refund")
	require.NoError(t, err)
	require.True(t, st.Run.IsSuspended())

	names := map[string]int{}
	var root sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		names[s.Name()]++
		if s.Name() == "desk.send" {
			root = s
		}
	}
	require.NotNil(t, root)
	assert.Equal(t, 1, names["node "+string(NodeFrontDesk)])
	// 读取邮件的挂起自动恢复，同一个 desk.send 下运行两次编排图
	assert.GreaterOrEqual(t, names["node "+string(NodeRefundProcessingSupport)], 2)
	assert.Equal(t, 1, names["node "+string(NodeRefundTools)])
	assert.GreaterOrEqual(t, names["tool "+ToolGetEmails], 1)

	for _, s := range rec.Ended() {
		assert.Equal(t, root.SpanContext().TraceID(), s.SpanContext().TraceID(), s.Name())
	}

	audits, err := store.QueryAuditRecords(context.Background(), storage.AuditQuery{Action: ToolGetEmails})
	require.NoError(t, err)
	require.NotEmpty(t, audits)
	assert.Equal(t, root.SpanContext().TraceID().String(), audits[0].TraceID)
}
