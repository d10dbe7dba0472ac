package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"meli_sync_v1_202608/internal/api/dto"
	"meli_sync_v1_202608/internal/model"
	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/pkg/meli"
)

// 流量接口的并发上限
const trafficConcurrency = 5

// MetricService 每日指标聚合
//
// 两个子聚合各自拥有自己的列，列级 upsert 保证互不覆盖：
//   - 流量子聚合：visits / period_days（平台时间窗口接口）
//   - 订单子聚合：orders / gmv（本地订单台账）
//
// Visits 的 nil/0 区分是硬约束：接口失败或响应缺日 → nil（未知），
// 平台明确返回 0 → 0（已确认无流量）
type MetricService struct {
	connSvc     *ConnectionService
	listingRepo repository.ListingRepository
	orderRepo   repository.OrderRepository
	metricRepo  repository.MetricRepository
	newClient   func(connID int64) *meli.Client
}

// NewMetricService 创建指标聚合服务
func NewMetricService(
	connSvc *ConnectionService,
	tokenSvc *TokenService,
	listingRepo repository.ListingRepository,
	orderRepo repository.OrderRepository,
	metricRepo repository.MetricRepository,
	baseURL string,
) *MetricService {
	return &MetricService{
		connSvc:     connSvc,
		listingRepo: listingRepo,
		orderRepo:   orderRepo,
		metricRepo:  metricRepo,
		newClient: func(connID int64) *meli.Client {
			return meli.NewClient(baseURL, tokenSvc.SourceFor(connID))
		},
	}
}

// SyncMetrics 聚合时间窗口内的每日指标
// 每个商品每天恰好一行；窗口内每一天都落行，缺数据的天 visits 为 nil
func (s *MetricService) SyncMetrics(ctx context.Context, tenantID int64, from, to time.Time) (*dto.SyncMetricsResponse, error) {
	from = dateOnly(from)
	to = dateOnly(to)
	if to.Before(from) {
		return nil, fmt.Errorf("时间窗口非法: from=%s to=%s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	conn, err := s.connSvc.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn.ID)

	listings, err := s.listingRepo.ListSyncable(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("查询待聚合商品失败: %w", err)
	}

	days := daysBetween(from, to)
	result := &dto.SyncMetricsResponse{
		MinDate: from.Format("2006-01-02"),
		MaxDate: to.Format("2006-01-02"),
		Errors:  []dto.SyncError{},
	}

	// ==================== 流量子聚合 ====================
	// 每个商品对时间窗口接口恰好一次调用，信号量限流
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		sem     = make(chan struct{}, trafficConcurrency)
		stop    = false // 授权吊销后停止派发
		stopErr error
	)

	for i := range listings {
		mu.Lock()
		if stop {
			mu.Unlock()
			break
		}
		mu.Unlock()

		listing := &listings[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			rows, fErr := s.trafficRows(ctx, client, tenantID, listing, days)
			if uErr := s.metricRepo.UpsertTraffic(ctx, rows); uErr != nil {
				mu.Lock()
				result.Errors = append(result.Errors, dto.SyncError{
					ExternalID: listing.ExternalID,
					Message:    fmt.Sprintf("流量行写入失败: %v", uErr),
				})
				mu.Unlock()
				return
			}

			mu.Lock()
			defer mu.Unlock()
			result.ListingsProcessed++
			result.RowsUpserted += len(rows)
			if fErr != nil {
				if meli.IsAuthRevoked(fErr) {
					stop = true
					stopErr = fErr
				}
				result.Errors = append(result.Errors, dto.SyncError{
					ExternalID: listing.ExternalID,
					Type:       errTypeOf(fErr),
					Message:    fErr.Error(),
				})
			}
		}()
	}
	wg.Wait()

	if stop {
		// 错误链保留 ApiError，调用方据此提示重新授权
		return result, fmt.Errorf("租户 %d 指标聚合中止，授权已吊销: %w", tenantID, stopErr)
	}

	// ==================== 订单子聚合 ====================
	rows, err := s.orderRows(ctx, tenantID, from, to, days)
	if err != nil {
		result.Errors = append(result.Errors, dto.SyncError{Message: err.Error()})
	} else if len(rows) > 0 {
		if err := s.metricRepo.UpsertOrders(ctx, rows); err != nil {
			result.Errors = append(result.Errors, dto.SyncError{Message: fmt.Sprintf("订单行写入失败: %v", err)})
		}
	}

	log.Printf("[MetricService] 租户 %d 指标聚合完成: listings=%d rows=%d window=%s..%s errors=%d",
		tenantID, result.ListingsProcessed, result.RowsUpserted, result.MinDate, result.MaxDate, len(result.Errors))
	return result, nil
}

// trafficRows 单商品的流量行
// 拉取失败时行照样生成（visits 全 nil），错误随行返回给调用方记账
func (s *MetricService) trafficRows(ctx context.Context, client *meli.Client, tenantID int64, listing *model.Listing, days []time.Time) ([]model.ListingDailyMetric, error) {
	byDay := make(map[string]int)
	// 窗口锚定到调用方给的最后一天，历史区间回填才能拿到对应日期的数据
	resp, err := client.GetVisitsWindow(ctx, listing.ExternalID, len(days), days[len(days)-1])
	if err == nil {
		for _, entry := range resp.Results {
			byDay[visitDateKey(entry.Date)] = entry.Total
		}
	}

	rows := make([]model.ListingDailyMetric, 0, len(days))
	for _, day := range days {
		row := model.ListingDailyMetric{
			TenantID:   tenantID,
			ListingID:  listing.ID,
			Date:       day,
			Source:     model.MetricSourceTraffic,
			PeriodDays: len(days),
		}
		// 响应里没有这一天（或整次拉取失败）→ 未知，保持 nil
		if err == nil {
			if total, ok := byDay[day.Format("2006-01-02")]; ok {
				v := total
				row.Visits = &v
			}
		}
		rows = append(rows, row)
	}
	return rows, err
}

// orderRows 订单子聚合：本地台账按天分桶
func (s *MetricService) orderRows(ctx context.Context, tenantID int64, from, to time.Time, days []time.Time) ([]model.ListingDailyMetric, error) {
	aggs, err := s.orderRepo.DailyAggregates(ctx, tenantID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("订单聚合查询失败: %w", err)
	}

	rows := make([]model.ListingDailyMetric, 0, len(aggs))
	for _, agg := range aggs {
		if agg.ListingID == 0 {
			// 订单行尚未解析到本地商品，无法挂指标
			continue
		}
		day, pErr := time.Parse("2006-01-02", agg.Date)
		if pErr != nil {
			continue
		}
		rows = append(rows, model.ListingDailyMetric{
			TenantID:   tenantID,
			ListingID:  agg.ListingID,
			Date:       day,
			Orders:     int(agg.Orders),
			GMV:        decimal.NewFromFloat(agg.GMV).Round(2),
			Source:     model.MetricSourceOrders,
			PeriodDays: len(days),
		})
	}
	return rows, nil
}

// dateOnly 截断到 UTC 零点
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween from..to 闭区间内的每一天
func daysBetween(from, to time.Time) []time.Time {
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// visitDateKey 平台返回的日期可能带时间与时区后缀，只取日期部分
func visitDateKey(raw string) string {
	if idx := strings.IndexAny(raw, "T "); idx > 0 {
		raw = raw[:idx]
	}
	return raw
}
