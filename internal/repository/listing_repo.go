package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"meli_sync_v1_202608/internal/model"
)

// ==================== 接口定义 ====================

// ListingFilter 商品过滤条件
type ListingFilter struct {
	TenantID     int64
	State        string
	AccessStatus string
	Provenance   string
	Keyword      string
	Page         int
	PageSize     int
}

// ListingRepository 商品仓储接口
type ListingRepository interface {
	Create(ctx context.Context, listing *model.Listing) error
	Update(ctx context.Context, listing *model.Listing) error
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error

	GetByID(ctx context.Context, id int64) (*model.Listing, error)
	// GetByExternalID 不存在时返回 (nil, nil)，调用方据此区分创建/更新
	GetByExternalID(ctx context.Context, tenantID int64, externalID string) (*model.Listing, error)

	List(ctx context.Context, filter ListingFilter) ([]model.Listing, int64, error)
	// ListSyncable 指标聚合与对账的候选集：该租户所有未关闭的商品
	ListSyncable(ctx context.Context, tenantID int64) ([]model.Listing, error)
	// ListExternalIDs 返回租户全部商品 external id
	ListExternalIDs(ctx context.Context, tenantID int64) ([]string, error)

	CountByTenant(ctx context.Context, tenantID int64) (int64, error)
}

// ==================== 仓储实现 ====================

type listingRepo struct {
	db *gorm.DB
}

// NewListingRepository 创建商品仓储
func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepo{db: db}
}

func (r *listingRepo) Create(ctx context.Context, listing *model.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

func (r *listingRepo) Update(ctx context.Context, listing *model.Listing) error {
	return r.db.WithContext(ctx).Save(listing).Error
}

func (r *listingRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.Listing{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *listingRepo) GetByID(ctx context.Context, id int64) (*model.Listing, error) {
	var listing model.Listing
	if err := r.db.WithContext(ctx).First(&listing, id).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *listingRepo) GetByExternalID(ctx context.Context, tenantID int64, externalID string) (*model.Listing, error) {
	var listing model.Listing
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *listingRepo) List(ctx context.Context, filter ListingFilter) ([]model.Listing, int64, error) {
	var listings []model.Listing
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Listing{})

	if filter.TenantID > 0 {
		query = query.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if filter.AccessStatus != "" {
		query = query.Where("access_status = ?", filter.AccessStatus)
	}
	if filter.Provenance != "" {
		query = query.Where("provenance = ?", filter.Provenance)
	}
	if filter.Keyword != "" {
		query = query.Where("title LIKE ?", "%"+filter.Keyword+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	offset := (filter.Page - 1) * filter.PageSize
	err := query.
		Order("updated_at DESC").
		Limit(filter.PageSize).
		Offset(offset).
		Find(&listings).Error

	return listings, total, err
}

func (r *listingRepo) ListSyncable(ctx context.Context, tenantID int64) ([]model.Listing, error) {
	var listings []model.Listing
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND state <> ?", tenantID, model.ListingStateClosed).
		Order("id ASC").
		Find(&listings).Error
	return listings, err
}

func (r *listingRepo) ListExternalIDs(ctx context.Context, tenantID int64) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Listing{}).
		Where("tenant_id = ?", tenantID).
		Pluck("external_id", &ids).Error
	return ids, err
}

func (r *listingRepo) CountByTenant(ctx context.Context, tenantID int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Listing{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error
	return total, err
}
