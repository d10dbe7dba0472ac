package controller

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"meli_sync_v1_202608/internal/task"
	"meli_sync_v1_202608/pkg/meli"
)

// SyncController 同步控制器
type SyncController struct {
	taskManager *task.TaskManager
}

// NewSyncController 创建同步控制器
func NewSyncController(taskManager *task.TaskManager) *SyncController {
	return &SyncController{taskManager: taskManager}
}

// ==================== Handler 实现 ====================

// SyncCatalog 同步单个租户目录
// @Summary 手动同步单个租户目录
// @Tags Sync
// @Param tenant_id path int true "租户 ID"
// @Success 200 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{} "限流中"
// @Router /api/v1/sync/catalog/{tenant_id} [post]
func (c *SyncController) SyncCatalog(ctx *gin.Context) {
	tenantID := parseID(ctx, "tenant_id")
	if tenantID == 0 {
		return
	}

	resp, err := c.taskManager.TriggerCatalogSync(ctx.Request.Context(), tenantID)
	if err != nil {
		respondSyncError(ctx, err)
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "目录同步完成",
		"data":    resp,
	})
}

// SyncOrders 同步单个租户订单
// @Summary 手动同步单个租户订单
// @Tags Sync
// @Param tenant_id path int true "租户 ID"
// @Param from query string false "开始日期 2006-01-02，默认回看48小时"
// @Param to query string false "结束日期 2006-01-02，默认当前时间"
// @Success 200 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{} "限流中"
// @Router /api/v1/sync/orders/{tenant_id} [post]
func (c *SyncController) SyncOrders(ctx *gin.Context) {
	tenantID := parseID(ctx, "tenant_id")
	if tenantID == 0 {
		return
	}

	to := time.Now()
	from := to.Add(-48 * time.Hour)
	if v := ctx.Query("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			ctx.JSON(400, gin.H{"code": 400, "message": "from 日期格式无效"})
			return
		}
		from = t
	}
	if v := ctx.Query("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			ctx.JSON(400, gin.H{"code": 400, "message": "to 日期格式无效"})
			return
		}
		// 闭区间语义：包含 to 当天
		to = t.AddDate(0, 0, 1)
	}

	resp, err := c.taskManager.TriggerOrderSync(ctx.Request.Context(), tenantID, from, to)
	if err != nil {
		respondSyncError(ctx, err)
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "订单同步完成",
		"data":    resp,
	})
}

// SyncMetrics 聚合单个租户指标
// @Summary 手动聚合单个租户每日指标
// @Tags Sync
// @Param tenant_id path int true "租户 ID"
// @Param from query string false "开始日期 2006-01-02，默认回看7天"
// @Param to query string false "结束日期 2006-01-02，默认今天"
// @Success 200 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{} "限流中"
// @Router /api/v1/sync/metrics/{tenant_id} [post]
func (c *SyncController) SyncMetrics(ctx *gin.Context) {
	tenantID := parseID(ctx, "tenant_id")
	if tenantID == 0 {
		return
	}

	to := time.Now()
	from := to.AddDate(0, 0, -6)
	if v := ctx.Query("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			ctx.JSON(400, gin.H{"code": 400, "message": "from 日期格式无效"})
			return
		}
		from = t
	}
	if v := ctx.Query("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			ctx.JSON(400, gin.H{"code": 400, "message": "to 日期格式无效"})
			return
		}
		to = t
	}

	resp, err := c.taskManager.TriggerMetricSync(ctx.Request.Context(), tenantID, from, to)
	if err != nil {
		respondSyncError(ctx, err)
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "指标聚合完成",
		"data":    resp,
	})
}

// Reconcile 访问状态对账
// @Summary 手动触发单个租户访问状态对账
// @Tags Sync
// @Param tenant_id path int true "租户 ID"
// @Success 200 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{} "限流中"
// @Router /api/v1/sync/reconcile/{tenant_id} [post]
func (c *SyncController) Reconcile(ctx *gin.Context) {
	tenantID := parseID(ctx, "tenant_id")
	if tenantID == 0 {
		return
	}

	resp, err := c.taskManager.TriggerReconcile(ctx.Request.Context(), tenantID)
	if err != nil {
		respondSyncError(ctx, err)
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "访问对账完成",
		"data":    resp,
	})
}

// SyncAllCatalogs 同步所有租户目录
// @Summary 手动同步所有租户目录
// @Tags Sync
// @Success 200 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{} "限流中"
// @Router /api/v1/sync/catalog [post]
func (c *SyncController) SyncAllCatalogs(ctx *gin.Context) {
	c.taskManager.TriggerAllCatalogsSync()

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "所有租户目录同步任务已启动",
	})
}

// Status 任务状态
// @Summary 查询同步任务启用状态
// @Tags Sync
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sync/status [get]
func (c *SyncController) Status(ctx *gin.Context) {
	ctx.JSON(200, gin.H{
		"code": 200,
		"data": c.taskManager.Status(),
	})
}

// ==================== 辅助函数 ====================

// respondSyncError 同步失败统一出口
// 授权吊销是连接级终止错误，必须明确提示重新授权，不能混进普通 500
func respondSyncError(ctx *gin.Context, err error) {
	if meli.IsAuthRevoked(err) {
		ctx.JSON(409, gin.H{
			"code":    409,
			"message": "授权已吊销，请重新授权连接",
			"data":    gin.H{"reconnect_required": true},
		})
		return
	}
	ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
}

func parseID(ctx *gin.Context, key string) int64 {
	idStr := ctx.Param(key)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(400, gin.H{"code": 400, "message": "无效的 ID"})
		return 0
	}
	return id
}
