package meli

import "encoding/json"

// ==========================================
// DTO: 用于接收 Mercado Libre API 返回的原始 JSON 数据
// ==========================================

// jsonUnmarshalLoose 错误响应体解析：体为空或非 JSON 时不报错，保持已有零值
func jsonUnmarshalLoose(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Paging 通用分页信息
type Paging struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// SellerItemsResp 卖家商品 ID 列表响应
// GET /users/{user_id}/items/search
type SellerItemsResp struct {
	SellerID string   `json:"seller_id"`
	Results  []string `json:"results"` // 商品 external id 列表，如 MLA123456789
	Paging   Paging   `json:"paging"`
}

// ItemPicture 商品图片
type ItemPicture struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	SecureURL string `json:"secure_url"`
	Size      string `json:"size"`
}

// ItemAttribute 商品属性
type ItemAttribute struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ValueName string `json:"value_name"`
}

// ItemVariation 商品变体
type ItemVariation struct {
	ID                int64    `json:"id"`
	Price             float64  `json:"price"`
	AvailableQuantity int      `json:"available_quantity"`
	AttributeIDs      []string `json:"attribute_combinations,omitempty"`
}

// ItemDetail 商品详情响应
// GET /items/{id} 以及 multiget body
//
// 价格相关字段在不同端点下出现与否并不一致，全部用指针建模：
// nil 表示该字段本次响应里根本没出现，不能当 0 处理
type ItemDetail struct {
	ID                string          `json:"id"`
	SiteID            string          `json:"site_id"`
	Title             string          `json:"title"`
	CategoryID        string          `json:"category_id"`
	Price             *float64        `json:"price"`
	BasePrice         *float64        `json:"base_price"`
	OriginalPrice     *float64        `json:"original_price"`
	SalePrice         *SalePrice      `json:"sale_price"`
	CurrencyID        string          `json:"currency_id"`
	AvailableQuantity int             `json:"available_quantity"`
	SoldQuantity      int             `json:"sold_quantity"`
	Status            string          `json:"status"` // active, paused, closed
	Permalink         string          `json:"permalink"`
	Thumbnail         string          `json:"thumbnail"`
	Pictures          []ItemPicture   `json:"pictures"`
	Description       *string         `json:"description,omitempty"` // 单独端点才有，multiget 缺失
	VideoID           *string         `json:"video_id"`
	Tags              []string        `json:"tags"`
	Attributes        []ItemAttribute `json:"attributes"`
	Variations        []ItemVariation `json:"variations"`
	Visits            *int            `json:"visits,omitempty"`
}

// SalePrice 显式促销价结构
type SalePrice struct {
	Amount        float64  `json:"amount"`
	RegularAmount *float64 `json:"regular_amount"`
	Type          string   `json:"type"`
}

// HasClipsTag 从 tags 判断是否挂载了 clips 视频
// tags 缺失时返回 (false, false)：不可判定，不能当 false 落库
func (d *ItemDetail) HasClipsTag() (value, determinate bool) {
	if d.Tags == nil {
		return false, false
	}
	for _, t := range d.Tags {
		if t == "has_clips" || t == "clips_enabled" {
			return true, true
		}
	}
	return false, true
}

// MultigetEntry 批量详情响应中的单条
// GET /items?ids=a,b,c 返回 [{code, body}]，单条失败不影响整批
type MultigetEntry struct {
	Code int        `json:"code"`
	Body ItemDetail `json:"body"`
}

// ItemResult 单商品拉取结果（带标签的值，而不是 error）
// 批量操作逐条消费该结构，某一条失败不中断整批
type ItemResult struct {
	ExternalID string
	OK         bool
	ErrType    ErrorType
	Status     int
	Code       string
	Message    string
	Item       *ItemDetail
}

// ==========================================
// 比价端点
// ==========================================

// PriceEntry 结构化价格表中的一条
type PriceEntry struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"` // standard / promotion
	Amount        float64  `json:"amount"`
	RegularAmount *float64 `json:"regular_amount"`
	CurrencyID    string   `json:"currency_id"`
}

// ReferencePrice 参考价（划线价候选）
type ReferencePrice struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

// ItemPricesResp 权威比价接口响应
// GET /items/{id}/prices
type ItemPricesResp struct {
	ItemID          string           `json:"id"`
	Prices          []PriceEntry     `json:"prices"`
	ReferencePrices []ReferencePrice `json:"reference_prices"`
	// 平台直接给出的折扣百分比（present 时覆盖本地计算）
	DiscountPercent *int `json:"discount_percentage,omitempty"`
}

// ==========================================
// 流量端点
// ==========================================

// VisitEntry 单日访问量
type VisitEntry struct {
	Date  string `json:"date"` // 2026-08-30T00:00:00Z 或 2026-08-30
	Total int    `json:"total"`
}

// VisitsWindowResp 时间窗口访问量响应
// GET /items/{id}/visits/time_window?last=N&unit=day
type VisitsWindowResp struct {
	ItemID  string       `json:"item_id"`
	Last    int          `json:"last"`
	Unit    string       `json:"unit"`
	Results []VisitEntry `json:"results"`
}

// ==========================================
// 订单端点
// ==========================================

// OrderBuyer 买家信息
type OrderBuyer struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
}

// OrderItemData 订单行
type OrderItemData struct {
	Item struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		VariationID int64  `json:"variation_id"`
	} `json:"item"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	FullUnit  float64 `json:"full_unit_price"`
}

// OrderPayment 支付记录
type OrderPayment struct {
	ID           int64    `json:"id"`
	Status       string   `json:"status"`
	TotalPaid    float64  `json:"total_paid_amount"`
	DateApproved *string  `json:"date_approved"`
}

// OrderData 订单响应
type OrderData struct {
	ID           int64           `json:"id"`
	Status       string          `json:"status"`
	DateCreated  string          `json:"date_created"`
	DateClosed   *string         `json:"date_closed"`
	TotalAmount  float64         `json:"total_amount"`
	PaidAmount   float64         `json:"paid_amount"`
	CurrencyID   string          `json:"currency_id"`
	Buyer        OrderBuyer      `json:"buyer"`
	OrderItems   []OrderItemData `json:"order_items"`
	Payments     []OrderPayment  `json:"payments"`
}

// OrdersSearchResp 订单搜索响应
// GET /orders/search?seller={id}
type OrdersSearchResp struct {
	Results []OrderData `json:"results"`
	Paging  Paging      `json:"paging"`
}

// ==========================================
// OAuth 端点
// ==========================================

// TokenResp OAuth Token 响应
// POST /oauth/token (authorization_code / refresh_token)
type TokenResp struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	UserID       int64  `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
}

// ErrorResp 平台通用错误响应
type ErrorResp struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Cause   []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"cause"`
}

// ErrCode 优先取 cause 里的第一个错误码
func (e *ErrorResp) ErrCode() string {
	if len(e.Cause) > 0 && e.Cause[0].Code != "" {
		return e.Cause[0].Code
	}
	return e.Error
}
