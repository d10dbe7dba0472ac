package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"meli_sync_v1_202608/internal/api/dto"
	"meli_sync_v1_202608/internal/repository"
)

// ListingController 商品控制器
type ListingController struct {
	listingRepo repository.ListingRepository
	metricRepo  repository.MetricRepository
}

// NewListingController 创建商品控制器
func NewListingController(listingRepo repository.ListingRepository, metricRepo repository.MetricRepository) *ListingController {
	return &ListingController{listingRepo: listingRepo, metricRepo: metricRepo}
}

// List 商品列表
// @Summary 商品列表
// @Tags Listing
// @Param tenant_id query int true "租户 ID"
// @Param state query string false "商品状态 active/paused/closed"
// @Param access_status query string false "访问状态 accessible/unauthorized/blocked_by_policy"
// @Param provenance query string false "数据来源 search/orders_fallback"
// @Param keyword query string false "标题关键字"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/listings [get]
func (c *ListingController) List(ctx *gin.Context) {
	var req dto.ListListingsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listings, total, err := c.listingRepo.List(ctx.Request.Context(), repository.ListingFilter{
		TenantID:     req.TenantID,
		State:        req.State,
		AccessStatus: req.AccessStatus,
		Provenance:   req.Provenance,
		Keyword:      req.Keyword,
		Page:         req.Page,
		PageSize:     req.PageSize,
	})
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	list := make([]dto.ListingListItem, len(listings))
	for i, l := range listings {
		list[i] = dto.ListingListItem{
			ID:              l.ID,
			ExternalID:      l.ExternalID,
			Title:           l.Title,
			State:           l.State,
			Price:           l.Price,
			PriceFinal:      l.PriceFinal,
			OriginalPrice:   l.OriginalPrice,
			DiscountPercent: l.DiscountPercent,
			HasPromotion:    l.HasPromotion,
			Stock:           l.Stock,
			SoldQuantity:    l.SoldQuantity,
			HasVideo:        l.HasVideo,
			AccessStatus:    l.AccessStatus,
			Provenance:      l.Provenance,
			SyncedAt:        l.SyncedAt,
		}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"data": dto.ListListingsResponse{
			Total: total,
			List:  list,
		},
	})
}

// Metrics 商品每日指标区间查询
// @Summary 单商品每日指标
// @Tags Listing
// @Param tenant_id query int true "租户 ID"
// @Param listing_id query int true "商品本地 ID"
// @Param from query string true "开始日期 2006-01-02"
// @Param to query string true "结束日期 2006-01-02"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/listings/metrics [get]
func (c *ListingController) Metrics(ctx *gin.Context) {
	var req dto.MetricRangeRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	from, err := time.Parse("2006-01-02", req.From)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "from 日期格式无效"})
		return
	}
	to, err := time.Parse("2006-01-02", req.To)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "to 日期格式无效"})
		return
	}

	rows, err := c.metricRepo.ListByRange(ctx.Request.Context(), req.TenantID, req.ListingID, from, to)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]dto.MetricRow, len(rows))
	for i, r := range rows {
		out[i] = dto.MetricRow{
			Date:   r.Date.Format("2006-01-02"),
			Visits: r.Visits,
			Orders: r.Orders,
			GMV:    r.GMV.StringFixed(2),
			Source: r.Source,
		}
	}

	ctx.JSON(http.StatusOK, gin.H{"data": out})
}
