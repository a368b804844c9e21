// Package metrics 暴露编排图的 Prometheus 指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "supportdesk"

// Collector 指标收集器。所有方法对 nil 接收者安全，未启用指标时直接传 nil。
type Collector struct {
	registry *prometheus.Registry

	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
	approvals      *prometheus.CounterVec
	turns          *prometheus.CounterVec
	routes         *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.nodeExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "node_executions_total",
		Help:      "Graph node executions by node and result",
	}, []string{"node", "result"})

	c.nodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "node_duration_seconds",
		Help:      "Graph node latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"node"})

	c.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool and status",
	}, []string{"tool", "status"})

	c.approvals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "approval_decisions_total",
		Help:      "Operator decisions at the approval gate",
	}, []string{"decision"})

	c.turns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Conversation turns by final run state",
	}, []string{"outcome"})

	c.routes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "front_desk_routes_total",
		Help:      "Front desk classification labels",
	}, []string{"label"})

	c.registry.MustRegister(c.nodeExecutions, c.nodeDuration, c.toolCalls, c.approvals, c.turns, c.routes)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveNode(node string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.nodeExecutions.WithLabelValues(node, result).Inc()
	c.nodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

func (c *Collector) IncToolCall(tool, status string) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(tool, status).Inc()
}

func (c *Collector) IncApproval(decision string) {
	if c == nil {
		return
	}
	c.approvals.WithLabelValues(decision).Inc()
}

func (c *Collector) IncTurn(outcome string) {
	if c == nil {
		return
	}
	c.turns.WithLabelValues(outcome).Inc()
}

func (c *Collector) IncRoute(label string) {
	if c == nil {
		return
	}
	c.routes.WithLabelValues(label).Inc()
}

// Serve 在 addr 上暴露 /metrics，直到 ctx 取消。
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if c == nil {
		return errors.New("metrics collector is nil")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
