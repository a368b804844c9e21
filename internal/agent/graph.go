package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/finlearnhub/supportdesk/internal/metrics"
)

const (
	defaultMaxToolRounds = 6
	defaultMaxRunSteps   = 40
	graphName            = "supportdesk.orchestrator"
)

// specialistAgents 专家节点对应的代理名
var specialistAgents = map[NodeID]AgentName{
	NodeMarketingSupport:        AgentMarketing,
	NodeLearningSupport:         AgentLearning,
	NodeRefundProcessingSupport: AgentRefund,
}

// GraphDeps 构建编排图所需的依赖
type GraphDeps struct {
	Model model.ToolCallingChatModel
	// Classifier 前台分类用的模型，为空时使用 Model
	Classifier     model.BaseChatModel
	Tools          ToolDeps
	Audit          AuditStore
	SensitiveTools []string
	// MaxToolRounds 单轮对话内工具节点的最大执行次数
	MaxToolRounds int
	// MaxRunSteps 传给 eino 的步数上限
	MaxRunSteps int
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

type orchestrator struct {
	frontDesk     *FrontDesk
	specialists   map[NodeID]*Specialist
	stages        map[NodeID]*toolStage
	suspendBefore map[NodeID]bool
	maxToolRounds int
	logger        *zap.Logger
	metrics       *metrics.Collector
}

func newOrchestrator(ctx context.Context, deps GraphDeps) (*orchestrator, error) {
	if deps.Model == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxToolRounds <= 0 {
		deps.MaxToolRounds = defaultMaxToolRounds
	}
	if deps.SensitiveTools == nil {
		deps.SensitiveTools = DefaultSensitiveTools()
	}

	o := &orchestrator{
		frontDesk:     NewFrontDesk(deps.Model, deps.Classifier, deps.Logger),
		specialists:   make(map[NodeID]*Specialist, 3),
		stages:        make(map[NodeID]*toolStage, 3),
		suspendBefore: make(map[NodeID]bool),
		maxToolRounds: deps.MaxToolRounds,
		logger:        deps.Logger.With(zap.String("component", "orchestrator")),
		metrics:       deps.Metrics,
	}

	configs := []specialistConfig{
		{name: AgentMarketing, node: NodeMarketingSupport, prompt: MarketingPrompt, tools: MarketingTools()},
		{name: AgentLearning, node: NodeLearningSupport, prompt: LearningPrompt, tools: LearningTools(deps.Tools)},
		{name: AgentRefund, node: NodeRefundProcessingSupport, prompt: RefundPrompt, tools: RefundTools(deps.Tools), finalizeAfter: ToolRefundProcessing},
	}

	sensitive := sensitiveSet(deps.SensitiveTools)
	for _, cfg := range configs {
		wrapped := make([]tool.BaseTool, 0, len(cfg.tools))
		for _, t := range cfg.tools {
			wrapped = append(wrapped, wrapWithAudit(t, deps.Audit, deps.Metrics, deps.Logger))
		}
		cfg.tools = wrapped

		sp, err := newSpecialist(ctx, deps.Model, cfg)
		if err != nil {
			return nil, err
		}
		o.specialists[cfg.node] = sp

		toolNode := specialistTools[cfg.node]
		stage, err := newToolStage(ctx, toolNode, cfg.tools)
		if err != nil {
			return nil, err
		}
		o.stages[toolNode] = stage

		// 工具节点只要持有敏感工具，进入前就挂起
		infos, err := GetToolsInfo(ctx, cfg.tools)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			if sensitive[info.Name] {
				o.suspendBefore[toolNode] = true
			}
		}
	}
	return o, nil
}

// BuildGraph 构建前台 → 专家 → 工具的编排图
func BuildGraph(ctx context.Context, deps GraphDeps) (compose.Runnable[ConversationState, ConversationState], error) {
	o, err := newOrchestrator(ctx, deps)
	if err != nil {
		return nil, err
	}
	maxSteps := deps.MaxRunSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxRunSteps
	}
	return o.compile(ctx, maxSteps)
}

func (o *orchestrator) compile(ctx context.Context, maxSteps int) (compose.Runnable[ConversationState, ConversationState], error) {
	g := compose.NewGraph[ConversationState, ConversationState]()

	// 1. 节点
	if err := g.AddLambdaNode(string(NodeFrontDesk), o.lambda(NodeFrontDesk, o.runFrontDesk)); err != nil {
		return nil, err
	}
	for node, sp := range o.specialists {
		if err := g.AddLambdaNode(string(node), o.lambda(node, sp.Run)); err != nil {
			return nil, err
		}
	}
	for node, stage := range o.stages {
		if err := g.AddLambdaNode(string(node), o.lambda(node, o.runToolStage(stage))); err != nil {
			return nil, err
		}
	}

	// 2. START 分支：正常进入前台，审批通过后直接回到挂起的工具节点
	startTargets := map[string]bool{string(NodeFrontDesk): true}
	for node := range o.stages {
		startTargets[string(node)] = true
	}
	err := g.AddBranch(compose.START, compose.NewGraphBranch(func(ctx context.Context, st ConversationState) (string, error) {
		return string(Transition(NodeStart, st)), nil
	}, startTargets))
	if err != nil {
		return nil, err
	}

	// 3. 前台分支
	err = g.AddBranch(string(NodeFrontDesk), compose.NewGraphBranch(routeNext, map[string]bool{
		string(NodeMarketingSupport):        true,
		string(NodeLearningSupport):         true,
		string(NodeRefundProcessingSupport): true,
		compose.END:                         true,
	}))
	if err != nil {
		return nil, err
	}

	// 4. 专家分支：有工具调用去工具节点，否则结束；工具节点执行完回到专家
	for node := range o.specialists {
		toolNode := specialistTools[node]
		err = g.AddBranch(string(node), compose.NewGraphBranch(routeNext, map[string]bool{
			string(toolNode): true,
			compose.END:      true,
		}))
		if err != nil {
			return nil, err
		}
		if err := g.AddEdge(string(toolNode), string(node)); err != nil {
			return nil, err
		}
	}

	return g.Compile(ctx,
		compose.WithGraphName(graphName),
		compose.WithMaxRunSteps(maxSteps),
	)
}

// routeNext 分支只读取节点执行后计算好的下一跳
func routeNext(_ context.Context, st ConversationState) (string, error) {
	if st.next == "" {
		return compose.END, nil
	}
	return string(st.next), nil
}

type stageFunc func(ctx context.Context, st ConversationState) (ConversationState, error)

// lambda 统一处理节点耗时、错误记录与下一跳计算
func (o *orchestrator) lambda(node NodeID, run stageFunc) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, st ConversationState) (ConversationState, error) {
		started := time.Now()
		ctx, span := startSpan(ctx, "node "+string(node), attribute.String("agent.node", string(node)))
		out, err := run(ctx, st)
		endSpan(span, err)
		o.metrics.ObserveNode(string(node), time.Since(started), err)
		if err != nil {
			recordRunErr(ctx, err)
			return st, err
		}
		out = o.advance(node, out)
		o.logger.Debug("node finished",
			zap.String("session_id", out.SessionID),
			zap.String("node", string(node)),
			zap.String("next", string(out.next)),
			zap.Duration("elapsed", time.Since(started)),
		)
		return out, nil
	})
}

func (o *orchestrator) runFrontDesk(ctx context.Context, st ConversationState) (ConversationState, error) {
	out, err := o.frontDesk.Run(ctx, st)
	if err != nil {
		return st, err
	}
	o.metrics.IncRoute(string(out.NextRepresentative))
	return out, nil
}

func (o *orchestrator) runToolStage(stage *toolStage) stageFunc {
	return func(ctx context.Context, st ConversationState) (ConversationState, error) {
		out, err := stage.Run(ctx, st)
		if err != nil {
			return st, err
		}
		out.ToolRounds++
		out.ResumeAt = ""
		return out, nil
	}
}

// advance 根据路由函数计算下一跳，并叠加挂起与工具轮数上限
func (o *orchestrator) advance(from NodeID, st ConversationState) ConversationState {
	next := Transition(from, st)

	if IsToolNode(next) {
		switch {
		case st.ToolRounds >= o.maxToolRounds:
			o.logger.Warn("tool round limit reached",
				zap.String("session_id", st.SessionID),
				zap.String("node", string(from)),
				zap.Int("rounds", st.ToolRounds),
			)
			st = closePending(st, from)
			next = NodeEnd
		case o.suspendBefore[next]:
			st.Run = Suspended(next, st.Messages.PendingToolCalls())
			next = NodeEnd
		}
	}

	if next == NodeEnd && st.Run.Kind == RunRunning {
		st.Run = Completed()
	}
	st.next = next
	return st
}

// closePending 为未执行的工具调用补上结果，并追加一条致歉说明
func closePending(st ConversationState, owner NodeID) ConversationState {
	for _, tc := range st.Messages.PendingToolCalls() {
		st.Messages = append(st.Messages, ToolResult{CallID: tc.ID, ToolName: tc.Name, Content: ToolLimitResult})
	}
	st.Messages = append(st.Messages, AgentMessage{Author: specialistAgents[owner], Content: ToolLimitNotice})
	return st
}
