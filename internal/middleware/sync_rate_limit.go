package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// SyncRateLimit 手动同步触发的冷却中间件
// 维度是 租户 × 同步类型；路径上没有 tenant_id 时退化为该类型的全局冷却。
// interval 传 0 使用该类型的默认冷却时间。
func SyncRateLimit(syncType SyncType, interval time.Duration) gin.HandlerFunc {
	if interval == 0 {
		interval = GetInterval(syncType)
	}

	return func(c *gin.Context) {
		key := GlobalSyncKey(syncType)

		tenantIDStr := c.Param("tenant_id")
		if tenantIDStr == "" {
			tenantIDStr = c.Query("tenant_id")
		}
		if tenantIDStr != "" {
			tenantID, err := strconv.ParseInt(tenantIDStr, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "无效的租户 ID"})
				c.Abort()
				return
			}
			key = TenantSyncKey(tenantID, syncType)
		}

		result := GetLimiter().Check(key, interval)
		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"message": fmt.Sprintf("同步冷却中，请 %d 秒后重试", int(result.RetryAfter.Seconds())),
				"data": gin.H{
					"retry_after": int(result.RetryAfter.Seconds()),
					"sync_type":   syncType,
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
