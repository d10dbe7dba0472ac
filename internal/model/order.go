package model

import (
	"time"

	"gorm.io/datatypes"
)

// Order 平台侧状态常量
const (
	OrderStatusConfirmed = "confirmed"
	OrderStatusPaid      = "paid"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Order 订单台账
// 唯一键 (tenant_id, external_order_id)；状态/金额变化时原地更新
type Order struct {
	BaseModel

	// --- 归属与身份 ---
	TenantID        int64  `gorm:"uniqueIndex:idx_tenant_order;not null"`
	ExternalOrderID int64  `gorm:"uniqueIndex:idx_tenant_order;not null"` // 平台订单号
	SiteID          string `gorm:"size:10"`

	// --- 买家 ---
	BuyerID       int64  `gorm:"index"`
	BuyerNickname string `gorm:"size:100"`

	// --- 状态与金额 ---
	Status      string  `gorm:"index;size:30"`
	TotalAmount float64 `gorm:"type:decimal(14,2);default:0"`
	PaidAmount  float64 `gorm:"type:decimal(14,2);default:0"`
	Currency    string  `gorm:"size:5"`

	// --- 时间线 ---
	DateCreated *time.Time `gorm:"index"` // 平台下单时间
	PaidAt      *time.Time `gorm:"index"` // 支付时间（指标按天分桶优先用它）
	ClosedAt    *time.Time

	// --- 原始数据留档 ---
	RawPayload datatypes.JSON `gorm:"type:jsonb"`
	SyncedAt   *time.Time

	// --- 关联关系 ---
	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string {
	return "meli_orders"
}

// BucketDate 指标分桶日期：优先支付时间，缺失回退下单时间
func (o *Order) BucketDate() *time.Time {
	if o.PaidAt != nil {
		return o.PaidAt
	}
	return o.DateCreated
}

// OrderItem 订单行
// 入库时按 external id 解析到本地 Listing（可能为 0：商品尚未入库）
type OrderItem struct {
	BaseModel

	OrderID int64  `gorm:"index;not null"`
	Order   *Order `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`

	TenantID          int64  `gorm:"index;not null"`
	ListingID         int64  `gorm:"index"` // 本地 Listing 主键，解析失败为 0
	ListingExternalID string `gorm:"index;size:30;not null"`

	Title     string  `gorm:"size:255"`
	Quantity  int     `gorm:"default:0"`
	UnitPrice float64 `gorm:"type:decimal(14,2);default:0"`
	Total     float64 `gorm:"type:decimal(14,2);default:0"` // quantity * unit_price
	Currency  string  `gorm:"size:5"`

	VariationID int64          `gorm:"default:0"`
	RawPayload  datatypes.JSON `gorm:"type:jsonb"`
}

func (OrderItem) TableName() string {
	return "meli_order_items"
}
