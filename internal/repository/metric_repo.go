package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"meli_sync_v1_202608/internal/model"
)

// ==================== 接口定义 ====================

// MetricRepository 每日指标仓储接口
//
// 两个 Upsert 各自只更新自己拥有的列（列级 read-modify-write）：
// 流量聚合和订单聚合可能并发写同一 (tenant, listing, date) 行，
// 列级更新保证互不覆盖，无需进程内再加锁
type MetricRepository interface {
	// UpsertTraffic 流量子聚合写入：只拥有 visits / period_days
	UpsertTraffic(ctx context.Context, rows []model.ListingDailyMetric) error

	// UpsertOrders 订单子聚合写入：只拥有 orders / gmv
	UpsertOrders(ctx context.Context, rows []model.ListingDailyMetric) error

	GetByKey(ctx context.Context, tenantID, listingID int64, date time.Time) (*model.ListingDailyMetric, error)
	ListByRange(ctx context.Context, tenantID, listingID int64, from, to time.Time) ([]model.ListingDailyMetric, error)
}

// ==================== 仓储实现 ====================

type metricRepo struct {
	db *gorm.DB
}

// NewMetricRepository 创建指标仓储
func NewMetricRepository(db *gorm.DB) MetricRepository {
	return &metricRepo{db: db}
}

// conflictKey (tenant_id, listing_id, date) 唯一键
var metricConflictColumns = []clause.Column{
	{Name: "tenant_id"}, {Name: "listing_id"}, {Name: "date"},
}

// mergedSource 两个子聚合都写过的行标记为 mixed
func mergedSource(incoming string) clause.Expr {
	return gorm.Expr(
		"CASE WHEN listing_daily_metrics.source <> '' AND listing_daily_metrics.source <> ? THEN 'mixed' ELSE ? END",
		incoming, incoming,
	)
}

func (r *metricRepo) UpsertTraffic(ctx context.Context, rows []model.ListingDailyMetric) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: metricConflictColumns,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"visits":      gorm.Expr("excluded.visits"),
			"period_days": gorm.Expr("excluded.period_days"),
			"source":      mergedSource(model.MetricSourceTraffic),
			"updated_at":  time.Now(),
		}),
	}).Create(&rows).Error
}

func (r *metricRepo) UpsertOrders(ctx context.Context, rows []model.ListingDailyMetric) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: metricConflictColumns,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"orders":     gorm.Expr("excluded.orders"),
			"gmv":        gorm.Expr("excluded.gmv"),
			"source":     mergedSource(model.MetricSourceOrders),
			"updated_at": time.Now(),
		}),
	}).Create(&rows).Error
}

func (r *metricRepo) GetByKey(ctx context.Context, tenantID, listingID int64, date time.Time) (*model.ListingDailyMetric, error) {
	var row model.ListingDailyMetric
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND listing_id = ? AND date = ?", tenantID, listingID, date).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *metricRepo) ListByRange(ctx context.Context, tenantID, listingID int64, from, to time.Time) ([]model.ListingDailyMetric, error) {
	var rows []model.ListingDailyMetric
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND listing_id = ? AND date >= ? AND date <= ?",
			tenantID, listingID, from, to).
		Order("date ASC").
		Find(&rows).Error
	return rows, err
}
