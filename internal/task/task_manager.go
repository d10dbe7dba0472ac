package task

import (
	"context"
	"log"
	"time"

	"meli_sync_v1_202608/internal/api/dto"
	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/internal/service"
)

// ==================== TaskManager 业务同步任务管理器 ====================

// TaskManager 统一管理业务同步任务
// 管理范围：目录、订单、指标聚合
// 不包含：Token 保活（基础设施层独立管理）
type TaskManager struct {
	catalogTask *CatalogSyncTask
	orderTask   *OrderSyncTask
	metricTask  *MetricSyncTask
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	// Repositories
	ConnRepo repository.ConnectionRepository

	// Services
	CatalogService *service.CatalogService
	OrderService   *service.OrderSyncService
	MetricService  *service.MetricService
}

// TaskManagerConfig 任务管理器配置
type TaskManagerConfig struct {
	// 目录同步
	CatalogEnabled     bool
	CatalogConcurrency int

	// 订单同步
	OrderEnabled     bool
	OrderConcurrency int

	// 指标聚合
	MetricEnabled     bool
	MetricConcurrency int
}

// DefaultConfig 默认配置
func DefaultConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		CatalogEnabled:     true,
		CatalogConcurrency: 3,

		OrderEnabled:     true,
		OrderConcurrency: 5,

		MetricEnabled:     true,
		MetricConcurrency: 2,
	}
}

// NewTaskManager 创建任务管理器
func NewTaskManager(deps *TaskManagerDeps, cfg *TaskManagerConfig) *TaskManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tm := &TaskManager{}

	// 目录同步任务
	if cfg.CatalogEnabled && deps.CatalogService != nil {
		tm.catalogTask = NewCatalogSyncTask(deps.ConnRepo, deps.CatalogService)
		tm.catalogTask.SetConcurrency(cfg.CatalogConcurrency, 300*time.Millisecond)
	}

	// 订单同步任务
	if cfg.OrderEnabled && deps.OrderService != nil {
		tm.orderTask = NewOrderSyncTask(deps.ConnRepo, deps.OrderService)
		tm.orderTask.SetConcurrency(cfg.OrderConcurrency, 200*time.Millisecond)
	}

	// 指标聚合任务
	if cfg.MetricEnabled && deps.MetricService != nil {
		tm.metricTask = NewMetricSyncTask(deps.ConnRepo, deps.MetricService)
		tm.metricTask.SetConcurrency(cfg.MetricConcurrency, 500*time.Millisecond)
	}

	return tm
}

// ==================== 生命周期管理 ====================

// Start 启动所有任务
func (tm *TaskManager) Start() {
	log.Println("[TaskManager] 正在启动业务同步任务...")

	if tm.catalogTask != nil {
		tm.catalogTask.Start()
	}
	if tm.orderTask != nil {
		tm.orderTask.Start()
	}
	if tm.metricTask != nil {
		tm.metricTask.Start()
	}

	log.Println("[TaskManager] 业务同步任务已全部启动")
}

// Stop 停止所有任务
func (tm *TaskManager) Stop() {
	log.Println("[TaskManager] 正在停止业务同步任务...")

	if tm.catalogTask != nil {
		tm.catalogTask.Stop()
	}
	if tm.orderTask != nil {
		tm.orderTask.Stop()
	}
	if tm.metricTask != nil {
		tm.metricTask.Stop()
	}

	log.Println("[TaskManager] 业务同步任务已全部停止")
}

// ==================== 手动触发接口 ====================

// TriggerCatalogSync 触发目录同步
func (tm *TaskManager) TriggerCatalogSync(ctx context.Context, tenantID int64) (*dto.SyncCatalogResponse, error) {
	if tm.catalogTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.catalogTask.SyncTenantNow(ctx, tenantID)
}

// TriggerReconcile 触发访问状态对账
func (tm *TaskManager) TriggerReconcile(ctx context.Context, tenantID int64) (*dto.ReconcileResponse, error) {
	if tm.catalogTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.catalogTask.ReconcileTenantNow(ctx, tenantID)
}

// TriggerOrderSync 触发订单同步
func (tm *TaskManager) TriggerOrderSync(ctx context.Context, tenantID int64, from, to time.Time) (*dto.SyncOrdersResponse, error) {
	if tm.orderTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.orderTask.SyncTenantNow(ctx, tenantID, from, to)
}

// TriggerMetricSync 触发指标聚合
func (tm *TaskManager) TriggerMetricSync(ctx context.Context, tenantID int64, from, to time.Time) (*dto.SyncMetricsResponse, error) {
	if tm.metricTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.metricTask.SyncTenantNow(ctx, tenantID, from, to)
}

// TriggerAllCatalogsSync 触发所有租户目录同步
func (tm *TaskManager) TriggerAllCatalogsSync() {
	if tm.catalogTask != nil {
		tm.catalogTask.SyncAllNow()
	}
}

// TriggerAllOrdersSync 触发所有租户订单同步
func (tm *TaskManager) TriggerAllOrdersSync() {
	if tm.orderTask != nil {
		tm.orderTask.SyncAllNow()
	}
}

// ==================== 状态查询 ====================

// Status 获取任务状态
func (tm *TaskManager) Status() map[string]bool {
	return map[string]bool{
		"catalog": tm.catalogTask != nil,
		"order":   tm.orderTask != nil,
		"metric":  tm.metricTask != nil,
	}
}

// ==================== 错误定义 ====================

type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrTaskDisabled TaskError = "task is disabled"
)
