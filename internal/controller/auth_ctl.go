package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"meli_sync_v1_202608/internal/service"
)

type AuthController struct {
	authService  *service.AuthService
	tokenService *service.TokenService
}

func NewAuthController(authSvc *service.AuthService, tokenSvc *service.TokenService) *AuthController {
	return &AuthController{authService: authSvc, tokenService: tokenSvc}
}

// Login
// @Summary 获取 Mercado Libre 授权链接
// @Description 为租户生成 OAuth 授权跳转链接
// @Tags Auth (授权模块)
// @Accept json
// @Produce json
// @Param tenant_id query int true "租户 ID，必填字段"
// @Success 200 {object} map[string]interface{} "授权链接"
// @Failure 400 {string} string "错误信息"
// @Router /api/oauth/login [get]
func (ctrl *AuthController) Login(c *gin.Context) {
	tenantIDStr := c.Query("tenant_id")
	if tenantIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id 为空"})
		return
	}
	tenantID, err := strconv.ParseInt(tenantIDStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id 必须是数字"})
		return
	}

	url, err := ctrl.authService.GenerateLoginURL(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "生成失败",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "获取成功",
		"auth_url": url,
	})
}

// Callback
// @Summary Mercado Libre 授权回调
// @Description 接收平台返回的 code 和 state，换取 Token 并新建连接
// @Tags Auth (授权模块)
// @Accept json
// @Produce json
// @Param code query string true "授权码"
// @Param state query string true "安全校验码"
// @Success 200 {object} map[string]interface{} "授权成功信息"
// @Failure 400 {object} map[string]string "拒绝授权/参数错误"
// @Router /api/oauth/callback [get]
func (ctrl *AuthController) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	errParam := c.Query("error")

	if errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "用户拒绝了授权", "meli_msg": errParam})
		return
	}

	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少必要参数 code 或 state"})
		return
	}

	conn, err := ctrl.authService.HandleCallback(c.Request.Context(), code, state)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "授权失败",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "连接绑定成功",
		"connection_id": conn.ID,
		"meli_user_id":  conn.MeliUserID,
		"expire_at":     conn.TokenExpiresAt,
	})
}

// RefreshToken 手动强制刷新 Token
// @Summary 刷新连接 Token
// @Description 手动强制刷新指定连接的 Access Token
// @Tags Auth (授权模块)
// @Accept json
// @Produce json
// @Param connection_id query int true "连接 ID (Database Primary Key)"
// @Success 200 {object} map[string]interface{} "成功消息+下一次过期时间"
// @Failure 400 {string} string "错误信息"
// @Router /api/oauth/refresh [post]
func (ctrl *AuthController) RefreshToken(c *gin.Context) {
	connIDStr := c.Query("connection_id")
	if connIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 connection_id 参数"})
		return
	}

	id, err := strconv.ParseInt(connIDStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id 必须是数字"})
		return
	}

	token, err := ctrl.tokenService.ForceRefresh(c.Request.Context(), id)
	if err != nil {
		c.JSON(500, gin.H{"error": "刷新失败: " + err.Error()})
		return
	}

	c.JSON(200, gin.H{
		"message":    "Token 刷新成功",
		"new_expiry": token.ExpiresAt.Format("2006-01-02 15:04:05"),
	})
}
