package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"meli_sync_v1_202608/internal/model"
	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/pkg/meli"
	"meli_sync_v1_202608/pkg/utils"
)

// AuthService OAuth 授权流程
// 断开重连永远新建连接记录，历史连接保留不物理删除
type AuthService struct {
	connRepo repository.ConnectionRepository
	client   *meli.Client
	oauth    *meli.OAuthConfig
	authHost string // 站点授权域名，按站点切换 (auth.mercadolibre.com.ar/.com.br/...)
}

// NewAuthService 工厂方法
func NewAuthService(connRepo repository.ConnectionRepository, client *meli.Client, oauth *meli.OAuthConfig, authHost string) *AuthService {
	return &AuthService{
		connRepo: connRepo,
		client:   client,
		oauth:    oauth,
		authHost: authHost,
	}
}

// GenerateLoginURL 生成授权链接
// state 与租户绑定后进缓存，回调时据此还原归属
func (s *AuthService) GenerateLoginURL(ctx context.Context, tenantID int64) (string, error) {
	if tenantID <= 0 {
		return "", fmt.Errorf("租户 ID 非法: %d", tenantID)
	}

	state, err := utils.GenerateRandomString(16)
	if err != nil {
		return "", fmt.Errorf("生成 state 失败: %w", err)
	}
	utils.BindState(state, tenantID)

	return s.oauth.AuthorizeURL(s.authHost, state), nil
}

// HandleCallback 处理平台回调 -> 换 Token -> 新建连接
func (s *AuthService) HandleCallback(ctx context.Context, code, state string) (*model.Connection, error) {
	// 1. 校验并消费 State
	tenantID, ok := utils.TakeState(state)
	if !ok {
		return nil, fmt.Errorf("授权超时或 State 无效，请重新发起")
	}

	// 2. 授权码换 Token
	tokenResp, err := s.client.ExchangeCode(ctx, s.oauth, code)
	if err != nil {
		return nil, fmt.Errorf("换取 Token 失败: %w", err)
	}

	// 3. 新建连接记录
	conn := &model.Connection{
		TenantID:       tenantID,
		MeliUserID:     tokenResp.UserID,
		AccessToken:    tokenResp.AccessToken,
		RefreshToken:   tokenResp.RefreshToken,
		TokenExpiresAt: time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		Status:         model.ConnStatusActive,
	}
	if err := s.connRepo.Create(ctx, conn); err != nil {
		return nil, fmt.Errorf("连接入库失败: %w", err)
	}

	log.Printf("[AuthService] 租户 %d 授权成功，连接 %d (meli user %d)", tenantID, conn.ID, conn.MeliUserID)
	return conn, nil
}
