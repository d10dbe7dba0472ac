package task

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"meli_sync_v1_202608/internal/api/dto"
	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/internal/service"
)

// ==================== MetricSyncTask 指标聚合任务 ====================

// 每日聚合回看 7 天：平台流量数据会晚到修正，窄窗口会漏
const metricLookbackDays = 7

// MetricSyncTask 每日指标聚合定时任务
type MetricSyncTask struct {
	connRepo      repository.ConnectionRepository
	metricService *service.MetricService
	cron          *cron.Cron

	// 并发控制
	concurrencyLimit int
	sleepTime        time.Duration
}

// NewMetricSyncTask 创建指标聚合任务
func NewMetricSyncTask(
	connRepo repository.ConnectionRepository,
	metricService *service.MetricService,
) *MetricSyncTask {
	return &MetricSyncTask{
		connRepo:         connRepo,
		metricService:    metricService,
		cron:             cron.New(cron.WithSeconds()),
		concurrencyLimit: 2,
		sleepTime:        500 * time.Millisecond,
	}
}

// SetConcurrency 设置并发参数
func (t *MetricSyncTask) SetConcurrency(limit int, sleep time.Duration) {
	t.concurrencyLimit = limit
	t.sleepTime = sleep
}

// Start 启动定时任务
func (t *MetricSyncTask) Start() {
	// 每日 4 点，排在 3 点的访问对账之后
	_, err := t.cron.AddFunc("0 0 4 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Minute)
		defer cancel()
		t.aggregateAllTenants(ctx)
	})
	if err != nil {
		log.Printf("[MetricSyncTask] 定时任务启动失败: %v", err)
		return
	}

	t.cron.Start()
	log.Println("[MetricSyncTask] 已启动 (每日4点)")
}

// Stop 停止任务
func (t *MetricSyncTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[MetricSyncTask] 已停止")
}

// aggregateAllTenants 聚合所有租户的每日指标
func (t *MetricSyncTask) aggregateAllTenants(ctx context.Context) {
	tenants, err := t.connRepo.DistinctActiveTenantIDs(ctx)
	if err != nil {
		log.Printf("[MetricSyncTask] 获取租户列表失败: %v", err)
		return
	}
	if len(tenants) == 0 {
		log.Println("[MetricSyncTask] 无活跃租户需要聚合")
		return
	}

	to := time.Now()
	from := to.AddDate(0, 0, -metricLookbackDays+1)

	sem := make(chan struct{}, t.concurrencyLimit)
	var wg sync.WaitGroup

	var (
		mu          sync.Mutex
		totalRows   int
		totalErrors int
	)

	log.Printf("[MetricSyncTask] 开始处理 %d 个租户", len(tenants))

	for _, tenantID := range tenants {
		select {
		case <-ctx.Done():
			log.Println("[MetricSyncTask] 任务超时停止")
			wg.Wait()
			return
		default:
		}

		sem <- struct{}{}
		wg.Add(1)
		time.Sleep(t.sleepTime)

		go func(tenantID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := t.metricService.SyncMetrics(ctx, tenantID, from, to)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("[MetricSyncTask] 租户 %d 聚合失败: %v", tenantID, err)
				totalErrors++
				return
			}
			totalRows += resp.RowsUpserted
			totalErrors += len(resp.Errors)
		}(tenantID)
	}

	wg.Wait()
	log.Printf("[MetricSyncTask] 聚合完成: 租户 %d, 指标行 %d, 错误 %d",
		len(tenants), totalRows, totalErrors)
}

// ==================== 手动触发 ====================

// SyncTenantNow 立即聚合单个租户指标
func (t *MetricSyncTask) SyncTenantNow(ctx context.Context, tenantID int64, from, to time.Time) (*dto.SyncMetricsResponse, error) {
	return t.metricService.SyncMetrics(ctx, tenantID, from, to)
}

// SyncAllNow 立即聚合所有租户指标
func (t *MetricSyncTask) SyncAllNow() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Minute)
		defer cancel()
		t.aggregateAllTenants(ctx)
	}()
}
