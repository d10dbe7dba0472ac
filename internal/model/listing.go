package model

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Listing 业务状态常量（跟随平台 status）
const (
	ListingStateActive = "active"
	ListingStatePaused = "paused"
	ListingStateClosed = "closed"
)

// Listing 访问状态常量（访问状态机）
const (
	AccessStatusAccessible   = "accessible"        // 可正常拉取
	AccessStatusUnauthorized = "unauthorized"      // 鉴权类失败
	AccessStatusBlocked      = "blocked_by_policy" // 平台政策封禁 (非 token 问题)
)

// Provenance 数据来源常量
const (
	ProvenanceSearch         = "search"          // 正常 discovery 通道
	ProvenanceOrdersFallback = "orders_fallback" // 订单历史回退通道
)

// Listing 租户在 Mercado Libre 的商品快照
// 唯一键 (tenant_id, external_id)；逻辑删除通过 State，永不物理删除
type Listing struct {
	BaseModel

	// --- 归属与身份 ---
	TenantID     int64       `gorm:"uniqueIndex:idx_tenant_external;not null"`
	ExternalID   string      `gorm:"uniqueIndex:idx_tenant_external;size:30;not null"` // 如 MLA123456789
	ConnectionID int64       `gorm:"index"`                                            // 最近一次写入该行的连接
	Connection   *Connection `gorm:"foreignKey:ConnectionID"`

	// --- 商品基本信息（每次同步强制刷新） ---
	Title      string  `gorm:"size:255"`
	Price      *float64
	Stock      int    `gorm:"default:0"`
	State      string `gorm:"index;size:20"` // active, paused, closed
	CategoryID string `gorm:"size:30"`
	Permalink  string `gorm:"size:512"`

	// --- 条件刷新字段（快照缺失时保留旧值） ---
	Description    string         `gorm:"type:text"`
	ThumbnailURL   string         `gorm:"size:512"`
	PictureCount   int            `gorm:"default:0"`
	Pictures       datatypes.JSON `gorm:"type:jsonb"`
	SoldQuantity   int            `gorm:"default:0"`
	RecentVisits   int            `gorm:"default:0"`
	VariationCount int            `gorm:"default:0"`
	Tags           pq.StringArray `gorm:"type:text[]"`

	// --- 粘性布尔（一旦 true 不再回退；null 表示未知，创建时绝不默认 false） ---
	HasVideo *bool
	HasClips *bool

	// --- 价格/促销解析结果 ---
	PriceFinal         *float64   // 买家实际可见价
	OriginalPrice      *float64   // 划线原价
	DiscountPercent    *int       // 折扣百分比
	HasPromotion       bool       `gorm:"default:false"`
	PromotionCheckedAt *time.Time // 权威比价接口最近一次真实调用时间 (TTL 闸门)

	// --- 访问状态机 ---
	AccessStatus      string     `gorm:"size:30;default:'accessible'"`
	AccessBlockedCode string     `gorm:"size:50"`
	AccessBlockedAt   *time.Time

	// --- 数据来源 ---
	Provenance       string `gorm:"size:20;default:'search'"`
	DiscoveryBlocked bool   `gorm:"default:false"` // 创建/更新时 discovery 通道是否被封

	// --- 原始数据留档 ---
	RawPayload datatypes.JSON `gorm:"type:jsonb"`
	SyncedAt   *time.Time
}

func (Listing) TableName() string {
	return "listings"
}

// IsBlocked 当前是否处于政策封禁状态
func (l *Listing) IsBlocked() bool {
	return l.AccessStatus == AccessStatusBlocked
}
