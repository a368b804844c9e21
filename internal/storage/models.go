package storage

import "time"

// StatusSuspended 等待审批的会话状态，按时间清理时保留
const StatusSuspended = "suspended"

// SessionCheckpoint 保存一个会话最近一次的运行快照。
//
// 每个 SessionID 只保留一行（upsert），Payload 为序列化后的会话状态，
// Status/Node 冗余存放运行状态，便于不反序列化就能列出“等待审批”的会话。
type SessionCheckpoint struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// SessionID 为会话标识（thread id），唯一。
	SessionID string `gorm:"size:128;not null;uniqueIndex"`
	// Status 为运行状态（running/suspended/completed/rejected）。
	Status string `gorm:"size:32;not null;index"`
	// Node 为挂起时的重入节点，非挂起状态为空。
	Node string `gorm:"size:64"`
	// Payload 为会话状态 JSON。
	Payload   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime;index"`
}

// AuditRecord 记录一次工具调用及其结果，用于审计与追溯。
//
// 一条审计记录对应一次 Agent 发起的工具调用（例如：查询优惠、检索知识库、处理退款）。
// 入参/输出统一以 JSON 字符串存放。
type AuditRecord struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// TraceID 串联一次用户输入触发的整轮编排。
	TraceID string `gorm:"size:64;index"`
	// SessionID 为发起调用的会话。
	SessionID string `gorm:"size:128;index"`
	// Action 为工具名，例如 refund_processing_tool。
	Action string `gorm:"size:128;not null;index"`
	// ParamsJSON 存放工具调用参数。
	ParamsJSON string `gorm:"type:text"`
	// ResultJSON 存放工具输出（可能被截断）。
	ResultJSON string `gorm:"type:text"`
	// Status 表示执行状态（running/success/failed）。
	Status string `gorm:"size:32;not null;index"`
	// ErrorMessage 存放失败时的错误信息。
	ErrorMessage string `gorm:"type:text"`
	// StartedAt/FinishedAt 表示调用起止时间。
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time `gorm:"index"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime;index"`
}

// RefundRecord 是 refund_processing_tool 的落库结果，每个邮件 ID 一行。
// 不做去重：同一邮件被重复批准会产生多行。
type RefundRecord struct {
	ID        uint64    `gorm:"primaryKey"`
	EmailID   string    `gorm:"size:128;not null;index"`
	SessionID string    `gorm:"size:128;index"`
	TraceID   string    `gorm:"size:64;index"`
	Status    string    `gorm:"size:32;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}

// KnowledgeChunk 为学习支持知识库中的一个文本片段。
type KnowledgeChunk struct {
	ID uint64 `gorm:"primaryKey"`
	// Source 为来源文档（文件路径），同一来源重新索引时整体替换。
	Source string `gorm:"size:512;not null;index:idx_knowledge_source_seq,priority:1"`
	// Seq 为片段在来源文档中的序号。
	Seq     int    `gorm:"not null;index:idx_knowledge_source_seq,priority:2"`
	Content string `gorm:"type:text;not null"`
	// Vector 为片段的嵌入向量，以 JSON 数组存放；未配置向量化模型时为空
	Vector    []float64 `gorm:"type:text;serializer:json"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}
