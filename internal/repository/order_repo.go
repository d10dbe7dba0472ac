package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"meli_sync_v1_202608/internal/model"
)

// ==================== 接口定义 ====================

// DailyOrderAggregate 订单子聚合产出的一行
// 分桶规则：COALESCE(paid_at, date_created) 所在天
type DailyOrderAggregate struct {
	ListingID int64
	Date      string // 2006-01-02，由各数据库的 DATE() 产出，服务层再解析
	Orders    int64
	GMV       float64
}

// OrderRepository 订单仓储接口
type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	Update(ctx context.Context, order *model.Order) error
	// GetByExternalOrderID 不存在时返回 (nil, nil)
	GetByExternalOrderID(ctx context.Context, tenantID, externalOrderID int64) (*model.Order, error)

	// ReplaceItems 以事务整体替换订单行（订单更新时行集合可能变化）
	ReplaceItems(ctx context.Context, orderID int64, items []model.OrderItem) error

	// DistinctListingExternalIDs 订单回退通道的候选目录：
	// 回看窗口内订单行引用过的去重商品 external id
	DistinctListingExternalIDs(ctx context.Context, tenantID int64, since time.Time) ([]string, error)

	// DailyAggregates 本地订单子聚合：按天桶统计去重订单数与 GMV
	DailyAggregates(ctx context.Context, tenantID int64, from, to time.Time) ([]DailyOrderAggregate, error)

	CountByTenant(ctx context.Context, tenantID int64) (int64, error)
}

// ==================== 仓储实现 ====================

type orderRepo struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepo{db: db}
}

func (r *orderRepo) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepo) Update(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *orderRepo) GetByExternalOrderID(ctx context.Context, tenantID, externalOrderID int64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_order_id = ?", tenantID, externalOrderID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepo) ReplaceItems(ctx context.Context, orderID int64, items []model.OrderItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).Delete(&model.OrderItem{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].OrderID = orderID
		}
		return tx.Create(&items).Error
	})
}

func (r *orderRepo) DistinctListingExternalIDs(ctx context.Context, tenantID int64, since time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.OrderItem{}).
		Distinct("meli_order_items.listing_external_id").
		Joins("JOIN meli_orders ON meli_orders.id = meli_order_items.order_id").
		Where("meli_order_items.tenant_id = ?", tenantID).
		Where("COALESCE(meli_orders.paid_at, meli_orders.date_created) >= ?", since).
		Where("meli_orders.status <> ?", model.OrderStatusCancelled).
		Pluck("meli_order_items.listing_external_id", &ids).Error
	return ids, err
}

func (r *orderRepo) DailyAggregates(ctx context.Context, tenantID int64, from, to time.Time) ([]DailyOrderAggregate, error) {
	var rows []DailyOrderAggregate
	// 分桶键取支付时间，缺失回退下单时间；取消单不参与 GMV
	err := r.db.WithContext(ctx).
		Model(&model.OrderItem{}).
		Select(
			"meli_order_items.listing_id AS listing_id, " +
				"DATE(COALESCE(meli_orders.paid_at, meli_orders.date_created)) AS date, " +
				"COUNT(DISTINCT meli_orders.id) AS orders, " +
				"SUM(meli_order_items.total) AS gmv",
		).
		Joins("JOIN meli_orders ON meli_orders.id = meli_order_items.order_id").
		Where("meli_order_items.tenant_id = ?", tenantID).
		Where("meli_order_items.listing_id > 0").
		Where("meli_orders.status <> ?", model.OrderStatusCancelled).
		Where("COALESCE(meli_orders.paid_at, meli_orders.date_created) >= ?", from).
		Where("COALESCE(meli_orders.paid_at, meli_orders.date_created) < ?", to).
		Group("meli_order_items.listing_id, DATE(COALESCE(meli_orders.paid_at, meli_orders.date_created))").
		Scan(&rows).Error
	return rows, err
}

func (r *orderRepo) CountByTenant(ctx context.Context, tenantID int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error
	return total, err
}
