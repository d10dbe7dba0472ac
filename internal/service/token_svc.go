package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"meli_sync_v1_202608/internal/model"
	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/pkg/meli"
)

// ==================== TokenService Token 生命周期管理 ====================

// ValidToken GetValidToken 的返回值
type ValidToken struct {
	Token       string
	UsedRefresh bool
	ExpiresAt   time.Time
}

// TokenService 管理连接级 OAuth Token 的有效性与刷新
type TokenService struct {
	connRepo repository.ConnectionRepository
	client   *meli.Client // token 端点不需要 TokenSource，裸 client 即可
	oauth    *meli.OAuthConfig
}

// NewTokenService 创建 Token 服务
func NewTokenService(connRepo repository.ConnectionRepository, client *meli.Client, oauth *meli.OAuthConfig) *TokenService {
	return &TokenService{
		connRepo: connRepo,
		client:   client,
		oauth:    oauth,
	}
}

// GetValidToken 获取连接当前可用的 Access Token
//
// 距过期超过 60 秒安全边界直接返回，零网络调用；
// 否则走刷新：
//   - 无 refresh token      → 终止，落 reauth_required，返回 AUTH_REVOKED
//   - 刷新被鉴权类 4xx 拒绝 → 同上
//   - 网络/服务端失败       → 可重试错误，连接状态保持不变
func (s *TokenService) GetValidToken(ctx context.Context, connID int64) (*ValidToken, error) {
	conn, err := s.connRepo.GetByID(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("连接不存在: %w", err)
	}

	if conn.HasValidToken(time.Now()) {
		return &ValidToken{
			Token:       conn.AccessToken,
			UsedRefresh: false,
			ExpiresAt:   conn.TokenExpiresAt,
		}, nil
	}

	return s.refresh(ctx, conn)
}

// ForceRefresh 无视剩余有效期强制刷新（鉴权重试的二次尝试用）
func (s *TokenService) ForceRefresh(ctx context.Context, connID int64) (*ValidToken, error) {
	conn, err := s.connRepo.GetByID(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("连接不存在: %w", err)
	}
	return s.refresh(ctx, conn)
}

// refresh 执行刷新并持久化结果
func (s *TokenService) refresh(ctx context.Context, conn *model.Connection) (*ValidToken, error) {
	tokenResp, err := s.client.RefreshToken(ctx, s.oauth, conn.RefreshToken)
	if err != nil {
		if meli.IsAuthRevoked(err) {
			// 平台明确拒绝：标记需要重新授权，错误元数据留档
			apiErr, _ := meli.AsApiError(err)
			code := "refresh_rejected"
			if apiErr != nil && apiErr.Code != "" {
				code = apiErr.Code
			}
			if markErr := s.connRepo.MarkReauthRequired(ctx, conn.ID, code); markErr != nil {
				log.Printf("[TokenService] 连接 %d 标记 reauth_required 失败: %v", conn.ID, markErr)
			}
			return nil, fmt.Errorf("连接 %d 授权已失效: %w", conn.ID, err)
		}
		// 瞬时失败：不动连接状态，调用方可重试
		return nil, fmt.Errorf("连接 %d token 刷新失败: %w", conn.ID, err)
	}

	expiresAt := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	if err := s.connRepo.UpdateTokens(ctx, conn.ID, tokenResp.AccessToken, tokenResp.RefreshToken, expiresAt); err != nil {
		return nil, fmt.Errorf("连接 %d token 入库失败: %w", conn.ID, err)
	}

	return &ValidToken{
		Token:       tokenResp.AccessToken,
		UsedRefresh: true,
		ExpiresAt:   expiresAt,
	}, nil
}

// ==================== TokenSource 适配 ====================

// connTokenSource 把 TokenService 适配成某个连接的 meli.TokenSource
// force=true 对应 executeWithAuthRetry 的二次尝试
type connTokenSource struct {
	tokens *TokenService
	connID int64
}

func (s *connTokenSource) AccessToken(ctx context.Context, force bool) (string, error) {
	var vt *ValidToken
	var err error
	if force {
		vt, err = s.tokens.ForceRefresh(ctx, s.connID)
	} else {
		vt, err = s.tokens.GetValidToken(ctx, s.connID)
	}
	if err != nil {
		return "", err
	}
	return vt.Token, nil
}

// SourceFor 返回绑定到指定连接的 TokenSource
func (s *TokenService) SourceFor(connID int64) meli.TokenSource {
	return &connTokenSource{tokens: s, connID: connID}
}
