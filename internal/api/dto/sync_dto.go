package dto

import (
	"github.com/shopspring/decimal"
)

// ==================== 同步结果 DTO ====================

// SyncError 单实体/单批次级别的失败记录
// 同步是部分成功语义：失败逐条记账，不中断整轮
type SyncError struct {
	ExternalID string `json:"external_id,omitempty"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

// SyncCatalogResponse 目录同步结果
type SyncCatalogResponse struct {
	RunID            string      `json:"run_id"` // 单次同步运行标识，日志串联用
	Processed        int         `json:"processed"`
	Created          int         `json:"created"`
	Updated          int         `json:"updated"`
	DiscoveryBlocked bool        `json:"discovery_blocked"` // discovery 通道本轮是否被政策封禁
	FallbackUsed     bool        `json:"fallback_used"`     // 是否走了订单回退通道
	Errors           []SyncError `json:"errors"`
}

// SyncOrdersResponse 订单同步结果
type SyncOrdersResponse struct {
	Processed int             `json:"processed"`
	Created   int             `json:"created"`
	Updated   int             `json:"updated"`
	TotalGMV  decimal.Decimal `json:"total_gmv"`
	Errors    []SyncError     `json:"errors"`
}

// SyncMetricsResponse 指标聚合结果
type SyncMetricsResponse struct {
	ListingsProcessed int         `json:"listings_processed"`
	RowsUpserted      int         `json:"rows_upserted"`
	MinDate           string      `json:"min_date"`
	MaxDate           string      `json:"max_date"`
	Errors            []SyncError `json:"errors"`
}

// ReconcileResponse 访问状态对账结果
type ReconcileResponse struct {
	Checked         int `json:"checked"`
	Updated         int `json:"updated"`
	BlockedByPolicy int `json:"blocked_by_policy"`
	Unauthorized    int `json:"unauthorized"`
}
