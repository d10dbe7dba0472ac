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

// ==================== OrderSyncTask 订单同步任务 ====================

// 定时增量同步的回看窗口：重复拉到的订单靠幂等 upsert 吸收
const orderSyncLookback = 48 * time.Hour

// OrderSyncTask 订单同步定时任务
type OrderSyncTask struct {
	connRepo     repository.ConnectionRepository
	orderService *service.OrderSyncService
	cron         *cron.Cron

	// 并发控制
	concurrencyLimit int
	sleepTime        time.Duration
}

// NewOrderSyncTask 创建订单同步任务
func NewOrderSyncTask(
	connRepo repository.ConnectionRepository,
	orderService *service.OrderSyncService,
) *OrderSyncTask {
	return &OrderSyncTask{
		connRepo:         connRepo,
		orderService:     orderService,
		cron:             cron.New(cron.WithSeconds()),
		concurrencyLimit: 5,
		sleepTime:        200 * time.Millisecond,
	}
}

// SetConcurrency 设置并发参数
func (t *OrderSyncTask) SetConcurrency(limit int, sleep time.Duration) {
	t.concurrencyLimit = limit
	t.sleepTime = sleep
}

// Start 启动定时任务
func (t *OrderSyncTask) Start() {
	// 每小时执行
	_, err := t.cron.AddFunc("0 0 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
		defer cancel()
		t.syncAllTenants(ctx)
	})
	if err != nil {
		log.Printf("[OrderSyncTask] 定时任务启动失败: %v", err)
		return
	}

	t.cron.Start()
	log.Println("[OrderSyncTask] 已启动 (每小时)")
}

// Stop 停止任务
func (t *OrderSyncTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[OrderSyncTask] 已停止")
}

// syncAllTenants 同步所有租户的订单
func (t *OrderSyncTask) syncAllTenants(ctx context.Context) {
	tenants, err := t.connRepo.DistinctActiveTenantIDs(ctx)
	if err != nil {
		log.Printf("[OrderSyncTask] 获取租户列表失败: %v", err)
		return
	}
	if len(tenants) == 0 {
		log.Println("[OrderSyncTask] 无活跃租户需要同步")
		return
	}

	to := time.Now()
	from := to.Add(-orderSyncLookback)

	sem := make(chan struct{}, t.concurrencyLimit)
	var wg sync.WaitGroup

	var (
		mu           sync.Mutex
		totalNew     int
		totalUpdated int
		totalErrors  int
	)

	log.Printf("[OrderSyncTask] 开始处理 %d 个租户", len(tenants))

	for _, tenantID := range tenants {
		select {
		case <-ctx.Done():
			log.Println("[OrderSyncTask] 任务超时停止")
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

			resp, err := t.orderService.SyncOrders(ctx, tenantID, from, to)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("[OrderSyncTask] 租户 %d 同步失败: %v", tenantID, err)
				totalErrors++
				return
			}

			totalNew += resp.Created
			totalUpdated += resp.Updated
			totalErrors += len(resp.Errors)

			if resp.Created > 0 || resp.Updated > 0 {
				log.Printf("[OrderSyncTask] 租户 %d: 新增 %d, 更新 %d, GMV %s",
					tenantID, resp.Created, resp.Updated, resp.TotalGMV.StringFixed(2))
			}
		}(tenantID)
	}

	wg.Wait()
	log.Printf("[OrderSyncTask] 同步完成: 租户 %d, 新增 %d, 更新 %d, 错误 %d",
		len(tenants), totalNew, totalUpdated, totalErrors)
}

// ==================== 手动触发 ====================

// SyncTenantNow 立即同步单个租户订单
func (t *OrderSyncTask) SyncTenantNow(ctx context.Context, tenantID int64, from, to time.Time) (*dto.SyncOrdersResponse, error) {
	return t.orderService.SyncOrders(ctx, tenantID, from, to)
}

// SyncAllNow 立即同步所有租户订单
func (t *OrderSyncTask) SyncAllNow() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
		defer cancel()
		t.syncAllTenants(ctx)
	}()
}
