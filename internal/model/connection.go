package model

import (
	"time"
)

// Connection 状态常量
const (
	ConnStatusActive       = "active"          // 正常
	ConnStatusExpired      = "expired"         // Access Token 已过期（可刷新）
	ConnStatusRevoked      = "revoked"         // 授权已被撤销
	ConnStatusReauthNeeded = "reauth_required" // 刷新被拒，需要用户重新授权
)

// TokenSafetyMargin Token 过期安全边界
// 距离过期小于该边界的 Token 一律视为过期，提前触发刷新
const TokenSafetyMargin = 60 * time.Second

// Connection 租户与 Mercado Libre 的授权连接
// 一个租户可能存在多条历史连接（断开重连会新建记录），永不物理删除
// "当前连接" 由 ConnectionService.Resolve 的确定性规则选出
type Connection struct {
	BaseModel

	// 1. 归属
	TenantID int64 `gorm:"index:idx_tenant_status;not null"` // 多租户隔离核心

	// 2. 平台侧身份
	MeliUserID int64  `gorm:"index"` // 对应 Mercado Libre 平台的 user_id (卖家)
	Nickname   string `gorm:"size:100"`
	SiteID     string `gorm:"size:10;default:'MLA'"` // 站点 (MLA/MLB/MLM...)

	// 3. OAuth 凭证
	AccessToken    string    `gorm:"size:512"`
	RefreshToken   string    `gorm:"size:512"`
	TokenExpiresAt time.Time // Token 具体的过期时间点

	// 4. 连接状态
	Status        string     `gorm:"index:idx_tenant_status;size:20;default:'active'"`
	LastErrorCode string     `gorm:"size:50"` // 最近一次失败的平台错误码
	LastErrorAt   *time.Time
}

func (Connection) TableName() string {
	return "meli_connections"
}

// HasValidToken Access Token 是否仍然可用（含安全边界）
func (c *Connection) HasValidToken(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.TokenExpiresAt.After(now.Add(TokenSafetyMargin))
}

// HasRefreshToken 是否具备刷新能力
func (c *Connection) HasRefreshToken() bool {
	return c.RefreshToken != ""
}
