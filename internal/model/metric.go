package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 指标写入来源常量
// 两个子聚合各自拥有自己的列，互不覆盖
const (
	MetricSourceTraffic = "traffic" // 平台流量接口
	MetricSourceOrders  = "orders"  // 本地订单台账
	MetricSourceMixed   = "mixed"   // 两者都已写入
)

// ListingDailyMetric 每商品每日指标行
// 唯一键 (tenant_id, listing_id, date)
//
// Visits 的语义是整个聚合器的核心约束：
//   - nil  = 未知（接口失败或响应中没有这一天）
//   - 0    = 平台明确返回了 0，已确认无流量
// 绝不允许把"未知"写成 0
type ListingDailyMetric struct {
	BaseModel

	TenantID  int64     `gorm:"uniqueIndex:idx_tenant_listing_date;not null"`
	ListingID int64     `gorm:"uniqueIndex:idx_tenant_listing_date;not null"`
	Date      time.Time `gorm:"uniqueIndex:idx_tenant_listing_date;type:date;not null"`

	// --- 流量子聚合拥有的列 ---
	Visits *int

	// --- 订单子聚合拥有的列（总是有数值） ---
	Orders int             `gorm:"default:0"`
	GMV    decimal.Decimal `gorm:"type:decimal(14,2);default:0"`

	// --- 元信息 ---
	Source     string `gorm:"size:20"`
	PeriodDays int    `gorm:"default:0"` // 本次聚合窗口大小（天）
}

func (ListingDailyMetric) TableName() string {
	return "listing_daily_metrics"
}
