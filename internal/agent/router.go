package agent

import (
	"strings"

	"github.com/cloudwego/eino/compose"
)

// Label 是前台分类结果
type Label string

const (
	LabelNone      Label = ""
	LabelMarketing Label = "MARKETING"
	LabelLearning  Label = "LEARNING"
	LabelRefund    Label = "REFUND"
	LabelRespond   Label = "RESPOND"
)

// labelOrder 决定子串匹配的优先级
var labelOrder = []Label{LabelMarketing, LabelLearning, LabelRefund, LabelRespond}

// ParseLabel 按 MARKETING、LEARNING、REFUND、RESPOND 的顺序做子串匹配，都不命中时返回 RESPOND
func ParseLabel(s string) Label {
	upper := strings.ToUpper(s)
	for _, l := range labelOrder {
		if strings.Contains(upper, string(l)) {
			return l
		}
	}
	return LabelRespond
}

// NodeID 是编排图中的节点
type NodeID string

const (
	NodeStart                   NodeID = compose.START
	NodeEnd                     NodeID = compose.END
	NodeFrontDesk               NodeID = "frontDeskSupport"
	NodeMarketingSupport        NodeID = "marketingSupport"
	NodeLearningSupport         NodeID = "learningSupport"
	NodeRefundProcessingSupport NodeID = "refundProcessingSupport"
	NodeMarketingTools          NodeID = "marketingTools"
	NodeLearningTools           NodeID = "learningTools"
	NodeRefundTools             NodeID = "refundTools"
)

// specialistTools 专家节点与其工具节点一一对应
var specialistTools = map[NodeID]NodeID{
	NodeMarketingSupport:        NodeMarketingTools,
	NodeLearningSupport:         NodeLearningTools,
	NodeRefundProcessingSupport: NodeRefundTools,
}

var toolOwners = map[NodeID]NodeID{
	NodeMarketingTools: NodeMarketingSupport,
	NodeLearningTools:  NodeLearningSupport,
	NodeRefundTools:    NodeRefundProcessingSupport,
}

var labelTargets = map[Label]NodeID{
	LabelMarketing: NodeMarketingSupport,
	LabelLearning:  NodeLearningSupport,
	LabelRefund:    NodeRefundProcessingSupport,
}

func IsToolNode(n NodeID) bool {
	_, ok := toolOwners[n]
	return ok
}

func IsSpecialist(n NodeID) bool {
	_, ok := specialistTools[n]
	return ok
}

// ToolNodeOwner 返回工具节点所属的专家节点
func ToolNodeOwner(n NodeID) (NodeID, bool) {
	owner, ok := toolOwners[n]
	return owner, ok
}

// Transition 是纯路由函数：只读取 from 与状态，不做任何副作用
func Transition(from NodeID, st ConversationState) NodeID {
	switch {
	case from == NodeStart:
		if st.ResumeAt != "" {
			return st.ResumeAt
		}
		return NodeFrontDesk
	case from == NodeFrontDesk:
		if target, ok := labelTargets[st.NextRepresentative]; ok {
			return target
		}
		return NodeEnd
	case IsSpecialist(from):
		if len(st.Messages.PendingToolCalls()) > 0 {
			return specialistTools[from]
		}
		return NodeEnd
	case IsToolNode(from):
		return toolOwners[from]
	default:
		return NodeEnd
	}
}

// RunKind 是一次运行的结局
type RunKind string

const (
	RunRunning   RunKind = "running"
	RunSuspended RunKind = "suspended"
	RunCompleted RunKind = "completed"
	RunRejected  RunKind = "rejected"
)

// RunState 记录运行状态；Suspended 时 Node 为将要进入的节点，Pending 为待执行的工具调用
type RunState struct {
	Kind    RunKind    `json:"kind"`
	Node    NodeID     `json:"node,omitempty"`
	Pending []ToolCall `json:"pending,omitempty"`
}

func Running() RunState   { return RunState{Kind: RunRunning} }
func Completed() RunState { return RunState{Kind: RunCompleted} }
func Rejected() RunState  { return RunState{Kind: RunRejected} }

func Suspended(node NodeID, pending []ToolCall) RunState {
	return RunState{Kind: RunSuspended, Node: node, Pending: pending}
}

func (r RunState) IsSuspended() bool { return r.Kind == RunSuspended }
