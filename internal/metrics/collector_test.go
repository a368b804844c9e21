package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()

	c.ObserveNode("frontDeskSupport", 10*time.Millisecond, nil)
	c.ObserveNode("frontDeskSupport", 10*time.Millisecond, errors.New("boom"))
	c.IncToolCall("offers_query_tool", "success")
	c.IncApproval("approve")
	c.IncTurn("completed")
	c.IncRoute("MARKETING")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeExecutions.WithLabelValues("frontDeskSupport", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeExecutions.WithLabelValues("frontDeskSupport", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCalls.WithLabelValues("offers_query_tool", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.approvals.WithLabelValues("approve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turns.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.routes.WithLabelValues("MARKETING")))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveNode("x", time.Second, nil)
		c.IncToolCall("x", "y")
		c.IncApproval("reject")
		c.IncTurn("rejected")
		c.IncRoute("RESPOND")
	})
	assert.Nil(t, c.Registry())
}
