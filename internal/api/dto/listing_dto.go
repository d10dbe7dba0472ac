package dto

import "time"

// ==================== 商品查询 DTO ====================

// ListListingsRequest 商品列表查询参数
type ListListingsRequest struct {
	TenantID     int64  `form:"tenant_id" binding:"required"`
	State        string `form:"state"`
	AccessStatus string `form:"access_status"`
	Provenance   string `form:"provenance"`
	Keyword      string `form:"keyword"`
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
}

// ListingListItem 商品列表项
type ListingListItem struct {
	ID              int64      `json:"id"`
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	State           string     `json:"state"`
	Price           *float64   `json:"price"`
	PriceFinal      *float64   `json:"price_final"`
	OriginalPrice   *float64   `json:"original_price"`
	DiscountPercent *int       `json:"discount_percent"`
	HasPromotion    bool       `json:"has_promotion"`
	Stock           int        `json:"stock"`
	SoldQuantity    int        `json:"sold_quantity"`
	HasVideo        *bool      `json:"has_video"`
	AccessStatus    string     `json:"access_status"`
	Provenance      string     `json:"provenance"`
	SyncedAt        *time.Time `json:"synced_at"`
}

// ListListingsResponse 商品列表响应
type ListListingsResponse struct {
	Total int64             `json:"total"`
	List  []ListingListItem `json:"list"`
}

// ==================== 连接查询 DTO ====================

// ConnectionListItem 连接列表项
// Token 本体绝不出网，只暴露状态与时间
type ConnectionListItem struct {
	ID             int64      `json:"id"`
	TenantID       int64      `json:"tenant_id"`
	MeliUserID     int64      `json:"meli_user_id"`
	Nickname       string     `json:"nickname"`
	SiteID         string     `json:"site_id"`
	Status         string     `json:"status"`
	TokenExpiresAt time.Time  `json:"token_expires_at"`
	LastErrorCode  string     `json:"last_error_code,omitempty"`
	LastErrorAt    *time.Time `json:"last_error_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ==================== 指标查询 DTO ====================

// MetricRangeRequest 指标区间查询参数
type MetricRangeRequest struct {
	TenantID  int64  `form:"tenant_id" binding:"required"`
	ListingID int64  `form:"listing_id" binding:"required"`
	From      string `form:"from" binding:"required"` // 2006-01-02
	To        string `form:"to" binding:"required"`
}

// MetricRow 指标行
type MetricRow struct {
	Date   string `json:"date"`
	Visits *int   `json:"visits"` // null=未知, 0=确认无流量
	Orders int    `json:"orders"`
	GMV    string `json:"gmv"`
	Source string `json:"source"`
}
