package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/finlearnhub/supportdesk/internal/storage"
)

const (
	ToolOffersQuery       = "offers_query_tool"
	ToolLearningKnowledge = "retrieve_learning_knowledge_base"
	ToolGetEmails         = "get_emails_tool"

	defaultRetrieveTopK = 4
)

// OffersQueryTool 返回当前可用的优惠码
type OffersQueryTool struct {
	coupons []Coupon
}

func NewOffersQueryTool() *OffersQueryTool {
	return &OffersQueryTool{coupons: defaultCoupons()}
}

func (t *OffersQueryTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        ToolOffersQuery,
		Desc:        "Use this tool to query the offers and discounts available for the user",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

func (t *OffersQueryTool) InvokableRun(_ context.Context, _ string, _ ...tool.Option) (string, error) {
	data, err := json.Marshal(t.coupons)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

// KnowledgeBaseTool 在学习资料知识库中检索
type KnowledgeBaseTool struct {
	retriever retriever.Retriever
	topK      int
}

func NewKnowledgeBaseTool(r retriever.Retriever, topK int) *KnowledgeBaseTool {
	if topK <= 0 {
		topK = defaultRetrieveTopK
	}
	return &KnowledgeBaseTool{retriever: r, topK: topK}
}

func (t *KnowledgeBaseTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolLearningKnowledge,
		Desc: "Search and return information about courses, syllabus coverage, learning paths and study strategies offered by FinLearn Hub.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "The search query",
				Type:     schema.String,
				Required: true,
			},
		}),
	}, nil
}

type knowledgeArgs struct {
	Query string `json:"query"`
}

func (t *KnowledgeBaseTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args knowledgeArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("query is required")
	}
	if t.retriever == nil {
		return "The learning knowledge base is not available.", nil
	}

	docs, err := t.retriever.Retrieve(ctx, args.Query, retriever.WithTopK(t.topK))
	if err != nil {
		return "", fmt.Errorf("retrieve knowledge: %w", err)
	}
	if len(docs) == 0 {
		return "No relevant learning material found.", nil
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}

// GetEmailsTool 读取支持邮箱
type GetEmailsTool struct {
	inbox []Email
}

func NewGetEmailsTool() *GetEmailsTool {
	return &GetEmailsTool{inbox: defaultInbox()}
}

func (t *GetEmailsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        ToolGetEmails,
		Desc:        "Retrieve the emails in the support inbox. Returns id, threadId, labels, snippet, sender, subject and date of each email.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

func (t *GetEmailsTool) InvokableRun(_ context.Context, _ string, _ ...tool.Option) (string, error) {
	data, err := json.Marshal(map[string]any{"messages": t.inbox})
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

// RefundRecorder 记录已处理的退款
type RefundRecorder interface {
	RecordRefunds(ctx context.Context, emailIDs []string) error
}

// StorageRefundRecorder 把退款写入 SQLite
type StorageRefundRecorder struct {
	store *storage.Storage
}

func NewStorageRefundRecorder(store *storage.Storage) *StorageRefundRecorder {
	return &StorageRefundRecorder{store: store}
}

func (r *StorageRefundRecorder) RecordRefunds(ctx context.Context, emailIDs []string) error {
	recs := make([]storage.RefundRecord, 0, len(emailIDs))
	for _, id := range emailIDs {
		recs = append(recs, storage.RefundRecord{
			EmailID:   id,
			SessionID: GetSessionID(ctx),
			TraceID:   GetTraceID(ctx),
			Status:    "processed",
		})
	}
	return r.store.InsertRefundRecords(ctx, recs)
}

// MemoryRefundRecorder 在内存中记录退款，未配置存储时使用
type MemoryRefundRecorder struct {
	mu      sync.Mutex
	emailID []string
}

func (r *MemoryRefundRecorder) RecordRefunds(_ context.Context, emailIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emailID = append(r.emailID, emailIDs...)
	return nil
}

// Processed 返回已记录的邮件 ID（按记录顺序，可重复）
func (r *MemoryRefundRecorder) Processed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.emailID...)
}

// RefundProcessingTool 为指定邮件办理退款，属于敏感操作
type RefundProcessingTool struct {
	recorder RefundRecorder
}

func NewRefundProcessingTool(recorder RefundRecorder) *RefundProcessingTool {
	if recorder == nil {
		recorder = &MemoryRefundRecorder{}
	}
	return &RefundProcessingTool{recorder: recorder}
}

func (t *RefundProcessingTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolRefundProcessing,
		Desc: "Process refunds for the given email ids. Only pass ids of emails that contain refund requests.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"emails": {
				Desc:     "Ids of the emails that request a refund",
				Type:     schema.Array,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
				Required: true,
			},
		}),
	}, nil
}

type refundArgs struct {
	Emails []string `json:"emails"`
}

type refundResult struct {
	Status    string   `json:"status"`
	Processed []string `json:"processed"`
	Count     int      `json:"count"`
}

func (t *RefundProcessingTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args refundArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	ids := make([]string, 0, len(args.Emails))
	for _, id := range args.Emails {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return `{"status":"skipped","processed":[],"count":0}`, nil
	}

	if err := t.recorder.RecordRefunds(ctx, ids); err != nil {
		return "", fmt.Errorf("record refunds: %w", err)
	}

	data, err := json.Marshal(refundResult{Status: "processed", Processed: ids, Count: len(ids)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

// ToolDeps 构建工具所需的外部依赖
type ToolDeps struct {
	Retriever retriever.Retriever
	TopK      int
	Refunds   RefundRecorder
}

// MarketingTools / LearningTools / RefundTools 各专家的工具集互不相交
func MarketingTools() []tool.BaseTool {
	return []tool.BaseTool{NewOffersQueryTool()}
}

func LearningTools(deps ToolDeps) []tool.BaseTool {
	return []tool.BaseTool{NewKnowledgeBaseTool(deps.Retriever, deps.TopK)}
}

func RefundTools(deps ToolDeps) []tool.BaseTool {
	return []tool.BaseTool{NewGetEmailsTool(), NewRefundProcessingTool(deps.Refunds)}
}

// GetToolsInfo 获取工具描述，用于绑定到 ChatModel
func GetToolsInfo(ctx context.Context, tools []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("get tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
