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

// ==================== CatalogSyncTask 目录同步任务 ====================

// CatalogSyncTask 目录同步定时任务
// 每 6 小时全量目录同步，每日凌晨 3 点做一轮访问状态对账
type CatalogSyncTask struct {
	connRepo       repository.ConnectionRepository
	catalogService *service.CatalogService
	cron           *cron.Cron

	// 并发控制
	concurrencyLimit int
	sleepTime        time.Duration
}

// NewCatalogSyncTask 创建目录同步任务
func NewCatalogSyncTask(
	connRepo repository.ConnectionRepository,
	catalogService *service.CatalogService,
) *CatalogSyncTask {
	return &CatalogSyncTask{
		connRepo:         connRepo,
		catalogService:   catalogService,
		cron:             cron.New(cron.WithSeconds()),
		concurrencyLimit: 3,
		sleepTime:        300 * time.Millisecond,
	}
}

// SetConcurrency 设置并发参数
func (t *CatalogSyncTask) SetConcurrency(limit int, sleep time.Duration) {
	t.concurrencyLimit = limit
	t.sleepTime = sleep
}

// Start 启动定时任务
func (t *CatalogSyncTask) Start() {
	// 每 30 分钟增量目录同步
	if _, err := t.cron.AddFunc("0 */30 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		t.syncAllTenants(ctx)
	}); err != nil {
		log.Printf("[CatalogSyncTask] 定时任务启动失败: %v", err)
		return
	}

	// 每日 3 点访问状态对账
	if _, err := t.cron.AddFunc("0 0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		t.reconcileAllTenants(ctx)
	}); err != nil {
		log.Printf("[CatalogSyncTask] 对账任务启动失败: %v", err)
		return
	}

	t.cron.Start()
	log.Println("[CatalogSyncTask] 已启动 (每30分钟同步, 每日3点对账)")
}

// Stop 停止任务
func (t *CatalogSyncTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[CatalogSyncTask] 已停止")
}

// syncAllTenants 同步所有租户的目录
func (t *CatalogSyncTask) syncAllTenants(ctx context.Context) {
	tenants, err := t.connRepo.DistinctActiveTenantIDs(ctx)
	if err != nil {
		log.Printf("[CatalogSyncTask] 获取租户列表失败: %v", err)
		return
	}
	if len(tenants) == 0 {
		log.Println("[CatalogSyncTask] 无活跃租户需要同步")
		return
	}

	sem := make(chan struct{}, t.concurrencyLimit)
	var wg sync.WaitGroup

	var (
		mu           sync.Mutex
		totalCreated int
		totalUpdated int
		totalErrors  int
	)

	log.Printf("[CatalogSyncTask] 开始处理 %d 个租户", len(tenants))

	for _, tenantID := range tenants {
		select {
		case <-ctx.Done():
			log.Println("[CatalogSyncTask] 任务超时停止")
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

			resp, err := t.catalogService.SyncCatalog(ctx, tenantID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("[CatalogSyncTask] 租户 %d 同步失败: %v", tenantID, err)
				totalErrors++
				return
			}
			totalCreated += resp.Created
			totalUpdated += resp.Updated
			totalErrors += len(resp.Errors)
		}(tenantID)
	}

	wg.Wait()
	log.Printf("[CatalogSyncTask] 同步完成: 租户 %d, 新增 %d, 更新 %d, 错误 %d",
		len(tenants), totalCreated, totalUpdated, totalErrors)
}

// reconcileAllTenants 对所有租户做访问状态对账
func (t *CatalogSyncTask) reconcileAllTenants(ctx context.Context) {
	tenants, err := t.connRepo.DistinctActiveTenantIDs(ctx)
	if err != nil {
		log.Printf("[CatalogSyncTask] 获取租户列表失败: %v", err)
		return
	}

	for _, tenantID := range tenants {
		select {
		case <-ctx.Done():
			return
		default:
		}
		resp, err := t.catalogService.ReconcileAccessAndStatus(ctx, tenantID)
		if err != nil {
			log.Printf("[CatalogSyncTask] 租户 %d 对账失败: %v", tenantID, err)
			continue
		}
		if resp.Updated > 0 {
			log.Printf("[CatalogSyncTask] 租户 %d 对账: 检查 %d, 状态变更 %d", tenantID, resp.Checked, resp.Updated)
		}
	}
}

// ==================== 手动触发 ====================

// SyncTenantNow 立即同步单个租户目录
func (t *CatalogSyncTask) SyncTenantNow(ctx context.Context, tenantID int64) (*dto.SyncCatalogResponse, error) {
	return t.catalogService.SyncCatalog(ctx, tenantID)
}

// ReconcileTenantNow 立即对单个租户做访问对账
func (t *CatalogSyncTask) ReconcileTenantNow(ctx context.Context, tenantID int64) (*dto.ReconcileResponse, error) {
	return t.catalogService.ReconcileAccessAndStatus(ctx, tenantID)
}

// SyncAllNow 立即同步所有租户目录
func (t *CatalogSyncTask) SyncAllNow() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		t.syncAllTenants(ctx)
	}()
}
