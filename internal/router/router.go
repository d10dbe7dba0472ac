package router

import (
	"github.com/gin-gonic/gin"

	"meli_sync_v1_202608/internal/controller"
	"meli_sync_v1_202608/internal/middleware"
)

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine,
	authCtl *controller.AuthController,
	connCtl *controller.ConnectionController,
	listingCtl *controller.ListingController,
	syncCtl *controller.SyncController) {

	// 1. OAuth 路由（回调地址需与平台后台配置一致）
	oauth := r.Group("/api/oauth")
	{
		// GET /api/oauth/login
		oauth.GET("/login", authCtl.Login)

		// GET /api/oauth/callback
		oauth.GET("/callback", authCtl.Callback)

		// POST /api/oauth/refresh
		// 前端不应依赖手动刷新，保活任务会自动续期；此接口仅作运维兜底
		oauth.POST("/refresh", authCtl.RefreshToken)
	}

	// 2. 业务 API 路由组
	api := r.Group("/api/v1")
	{
		// 连接管理
		conns := api.Group("/connections")
		{
			conns.GET("", connCtl.List)
			conns.GET("/current", connCtl.Current)
		}

		// 商品查询
		listings := api.Group("/listings")
		{
			listings.GET("", listingCtl.List)
			listings.GET("/metrics", listingCtl.Metrics)
		}

		// 手动同步触发（带租户级冷却限流）
		sync := api.Group("/sync")
		{
			sync.GET("/status", syncCtl.Status)

			sync.POST("/catalog",
				middleware.SyncRateLimit(middleware.SyncTypeCatalog, 0),
				syncCtl.SyncAllCatalogs)
			sync.POST("/catalog/:tenant_id",
				middleware.SyncRateLimit(middleware.SyncTypeCatalog, 0),
				syncCtl.SyncCatalog)
			sync.POST("/orders/:tenant_id",
				middleware.SyncRateLimit(middleware.SyncTypeOrder, 0),
				syncCtl.SyncOrders)
			sync.POST("/metrics/:tenant_id",
				middleware.SyncRateLimit(middleware.SyncTypeMetric, 0),
				syncCtl.SyncMetrics)
			sync.POST("/reconcile/:tenant_id",
				middleware.SyncRateLimit(middleware.SyncTypeReconcile, 0),
				syncCtl.Reconcile)
		}
	}
}
