package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"meli_sync_v1_202608/internal/api/dto"
	"meli_sync_v1_202608/internal/service"
)

// ConnectionController 连接控制器
type ConnectionController struct {
	connSvc *service.ConnectionService
}

// NewConnectionController 创建连接控制器
func NewConnectionController(connSvc *service.ConnectionService) *ConnectionController {
	return &ConnectionController{connSvc: connSvc}
}

// List 租户连接列表
// @Summary 租户的全部连接（含历史）
// @Tags Connection
// @Param tenant_id query int true "租户 ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/connections [get]
func (c *ConnectionController) List(ctx *gin.Context) {
	tenantIDStr := ctx.Query("tenant_id")
	tenantID, err := strconv.ParseInt(tenantIDStr, 10, 64)
	if err != nil || tenantID <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id 必须是正整数"})
		return
	}

	conns, err := c.connSvc.ListByTenant(ctx.Request.Context(), tenantID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	list := make([]dto.ConnectionListItem, len(conns))
	for i, conn := range conns {
		list[i] = dto.ConnectionListItem{
			ID:             conn.ID,
			TenantID:       conn.TenantID,
			MeliUserID:     conn.MeliUserID,
			Nickname:       conn.Nickname,
			SiteID:         conn.SiteID,
			Status:         conn.Status,
			TokenExpiresAt: conn.TokenExpiresAt,
			LastErrorCode:  conn.LastErrorCode,
			LastErrorAt:    conn.LastErrorAt,
			CreatedAt:      conn.CreatedAt,
		}
	}

	ctx.JSON(http.StatusOK, gin.H{"data": list})
}

// Current 当前连接
// @Summary 解析租户当前生效的连接
// @Tags Connection
// @Param tenant_id query int true "租户 ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string "无可用连接"
// @Router /api/v1/connections/current [get]
func (c *ConnectionController) Current(ctx *gin.Context) {
	tenantIDStr := ctx.Query("tenant_id")
	tenantID, err := strconv.ParseInt(tenantIDStr, 10, 64)
	if err != nil || tenantID <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id 必须是正整数"})
		return
	}

	conn, err := c.connSvc.Resolve(ctx.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveConnection) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "租户没有可用连接，请重新授权"})
			return
		}
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"data": dto.ConnectionListItem{
			ID:             conn.ID,
			TenantID:       conn.TenantID,
			MeliUserID:     conn.MeliUserID,
			Nickname:       conn.Nickname,
			SiteID:         conn.SiteID,
			Status:         conn.Status,
			TokenExpiresAt: conn.TokenExpiresAt,
			LastErrorCode:  conn.LastErrorCode,
			LastErrorAt:    conn.LastErrorAt,
			CreatedAt:      conn.CreatedAt,
		},
	})
}
