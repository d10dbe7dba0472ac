package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"meli_sync_v1_202608/internal/model"
)

// ==================== 接口定义 ====================

// ConnectionRepository 授权连接仓储接口
type ConnectionRepository interface {
	Create(ctx context.Context, conn *model.Connection) error
	GetByID(ctx context.Context, id int64) (*model.Connection, error)
	Update(ctx context.Context, conn *model.Connection) error

	// ListByTenant 返回租户的全部连接（含历史），排序必须确定：
	// updated_at DESC, token_expires_at DESC —— Resolve 的确定性依赖这里
	ListByTenant(ctx context.Context, tenantID int64) ([]model.Connection, error)
	ListActiveByTenant(ctx context.Context, tenantID int64) ([]model.Connection, error)

	// UpdateTokens 刷新成功后持久化新凭证并恢复 active
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error

	// MarkReauthRequired 刷新被平台拒绝后落终止状态及错误元数据
	MarkReauthRequired(ctx context.Context, id int64, errCode string) error

	// FindExpiring 保活任务用：active 且临近过期、具备刷新能力的连接
	FindExpiring(ctx context.Context, within time.Duration) ([]model.Connection, error)

	// DistinctActiveTenantIDs 定时任务扇出用：存在 active 连接的租户清单
	DistinctActiveTenantIDs(ctx context.Context) ([]int64, error)
}

// ==================== 仓储实现 ====================

type connectionRepo struct {
	db *gorm.DB
}

// NewConnectionRepository 创建连接仓储
func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepo{db: db}
}

func (r *connectionRepo) Create(ctx context.Context, conn *model.Connection) error {
	return r.db.WithContext(ctx).Create(conn).Error
}

func (r *connectionRepo) GetByID(ctx context.Context, id int64) (*model.Connection, error) {
	var conn model.Connection
	if err := r.db.WithContext(ctx).First(&conn, id).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepo) Update(ctx context.Context, conn *model.Connection) error {
	return r.db.WithContext(ctx).Save(conn).Error
}

func (r *connectionRepo) ListByTenant(ctx context.Context, tenantID int64) ([]model.Connection, error) {
	var conns []model.Connection
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("updated_at DESC, token_expires_at DESC").
		Find(&conns).Error
	return conns, err
}

func (r *connectionRepo) ListActiveByTenant(ctx context.Context, tenantID int64) ([]model.Connection, error) {
	var conns []model.Connection
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, model.ConnStatusActive).
		Order("updated_at DESC, token_expires_at DESC").
		Find(&conns).Error
	return conns, err
}

func (r *connectionRepo) DistinctActiveTenantIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Connection{}).
		Where("status = ?", model.ConnStatusActive).
		Distinct("tenant_id").
		Order("tenant_id").
		Pluck("tenant_id", &ids).Error
	return ids, err
}

func (r *connectionRepo) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Connection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
			"status":           model.ConnStatusActive,
			"last_error_code":  "",
			"last_error_at":    nil,
		}).Error
}

func (r *connectionRepo) MarkReauthRequired(ctx context.Context, id int64, errCode string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.Connection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          model.ConnStatusReauthNeeded,
			"last_error_code": errCode,
			"last_error_at":   &now,
		}).Error
}

func (r *connectionRepo) FindExpiring(ctx context.Context, within time.Duration) ([]model.Connection, error) {
	var conns []model.Connection
	deadline := time.Now().Add(within)
	err := r.db.WithContext(ctx).
		Where("status = ? AND refresh_token <> '' AND token_expires_at < ?",
			model.ConnStatusActive, deadline).
		Find(&conns).Error
	return conns, err
}
