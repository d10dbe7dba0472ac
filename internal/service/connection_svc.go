package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meli_sync_v1_202608/internal/model"
	"meli_sync_v1_202608/internal/repository"
)

// ErrNoActiveConnection 租户没有任何 active 连接（终止错误，引导重新授权）
var ErrNoActiveConnection = errors.New("no active connection for tenant")

// ==================== ConnectionService 连接解析 ====================

// ConnectionService 在租户（可能多条历史）连接中确定"当前连接"
type ConnectionService struct {
	connRepo repository.ConnectionRepository
}

// NewConnectionService 创建连接解析服务
func NewConnectionService(connRepo repository.ConnectionRepository) *ConnectionService {
	return &ConnectionService{connRepo: connRepo}
}

// Resolve 确定性选出租户当前可用的连接
//
// 在 active 连接中按优先级选取：
//  1. Access Token 未过期（含安全边界）的，最近更新优先
//  2. 否则，refresh token 非空的，最近更新优先
//  3. 否则，最近更新的那一条
//
// 仓储层排序固定为 updated_at DESC, token_expires_at DESC，
// 相同输入状态下结果必然一致
func (s *ConnectionService) Resolve(ctx context.Context, tenantID int64) (*model.Connection, error) {
	conns, err := s.connRepo.ListActiveByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("查询租户 %d 连接失败: %w", tenantID, err)
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("租户 %d: %w", tenantID, ErrNoActiveConnection)
	}

	now := time.Now()

	// 1. 有效 token 优先
	for i := range conns {
		if conns[i].HasValidToken(now) {
			return &conns[i], nil
		}
	}

	// 2. 可刷新的其次
	for i := range conns {
		if conns[i].HasRefreshToken() {
			return &conns[i], nil
		}
	}

	// 3. 兜底取最近更新
	return &conns[0], nil
}

// ListByTenant 连接状态查询（给控制器用）
func (s *ConnectionService) ListByTenant(ctx context.Context, tenantID int64) ([]model.Connection, error) {
	return s.connRepo.ListByTenant(ctx, tenantID)
}
