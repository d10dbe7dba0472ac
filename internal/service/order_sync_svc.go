package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"meli_sync_v1_202608/internal/api/dto"
	"meli_sync_v1_202608/internal/model"
	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/pkg/meli"
)

// OrderSyncService 订单同步
// 按 (tenant_id, external_order_id) 幂等入库，状态/金额变化时原地更新
type OrderSyncService struct {
	connSvc     *ConnectionService
	orderRepo   repository.OrderRepository
	listingRepo repository.ListingRepository
	newClient   func(connID int64) *meli.Client
}

// NewOrderSyncService 创建订单同步服务
func NewOrderSyncService(
	connSvc *ConnectionService,
	tokenSvc *TokenService,
	orderRepo repository.OrderRepository,
	listingRepo repository.ListingRepository,
	baseURL string,
) *OrderSyncService {
	return &OrderSyncService{
		connSvc:     connSvc,
		orderRepo:   orderRepo,
		listingRepo: listingRepo,
		newClient: func(connID int64) *meli.Client {
			return meli.NewClient(baseURL, tokenSvc.SourceFor(connID))
		},
	}
}

// SyncOrders 同步时间窗口内的订单
//
// 部分成功语义：单订单失败记入 Errors 继续；授权吊销中止整轮
func (s *OrderSyncService) SyncOrders(ctx context.Context, tenantID int64, from, to time.Time) (*dto.SyncOrdersResponse, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("时间窗口非法: from=%s to=%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	conn, err := s.connSvc.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn.ID)

	result := &dto.SyncOrdersResponse{
		TotalGMV: decimal.Zero,
		Errors:   []dto.SyncError{},
	}

	offset := 0
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		page, err := client.SearchOrders(ctx, conn.MeliUserID, from, to, offset, meli.PageSizeCeiling)
		if err != nil {
			if meli.IsAuthRevoked(err) {
				return result, fmt.Errorf("租户 %d 订单同步中止，授权已吊销: %w", tenantID, err)
			}
			result.Errors = append(result.Errors, dto.SyncError{
				Type:    errTypeOf(err),
				Message: fmt.Sprintf("订单搜索第 %d 页失败: %v", offset/meli.PageSizeCeiling, err),
			})
			break
		}

		for i := range page.Results {
			od := &page.Results[i]
			result.Processed++

			created, gmv, sErr := s.syncSingleOrder(ctx, tenantID, conn.SiteID, od)
			if sErr != nil {
				result.Errors = append(result.Errors, dto.SyncError{
					ExternalID: fmt.Sprintf("%d", od.ID),
					Message:    sErr.Error(),
				})
				continue
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
			result.TotalGMV = result.TotalGMV.Add(gmv)
		}

		offset += len(page.Results)
		if len(page.Results) == 0 || offset >= page.Paging.Total {
			break
		}
	}

	log.Printf("[OrderSyncService] 租户 %d 订单同步完成: processed=%d created=%d updated=%d gmv=%s errors=%d",
		tenantID, result.Processed, result.Created, result.Updated, result.TotalGMV.StringFixed(2), len(result.Errors))
	return result, nil
}

// syncSingleOrder 单订单入库
// 返回 (是否新建, 本单 GMV)
func (s *OrderSyncService) syncSingleOrder(ctx context.Context, tenantID int64, siteID string, od *meli.OrderData) (bool, decimal.Decimal, error) {
	existing, err := s.orderRepo.GetByExternalOrderID(ctx, tenantID, od.ID)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("查询本地订单失败: %w", err)
	}

	order := existing
	created := order == nil
	if created {
		order = &model.Order{
			TenantID:        tenantID,
			ExternalOrderID: od.ID,
			SiteID:          siteID,
		}
	}

	order.Status = od.Status
	order.TotalAmount = od.TotalAmount
	order.PaidAmount = od.PaidAmount
	order.Currency = od.CurrencyID
	order.BuyerID = od.Buyer.ID
	order.BuyerNickname = od.Buyer.Nickname
	order.DateCreated = parseMeliTime(od.DateCreated)
	order.PaidAt = firstApprovedAt(od.Payments)
	if od.DateClosed != nil {
		order.ClosedAt = parseMeliTime(*od.DateClosed)
	}
	now := time.Now()
	order.SyncedAt = &now
	if raw, mErr := json.Marshal(od); mErr == nil {
		order.RawPayload = raw
	}

	if created {
		if err := s.orderRepo.Create(ctx, order); err != nil {
			return false, decimal.Zero, fmt.Errorf("创建订单失败: %w", err)
		}
	} else {
		if err := s.orderRepo.Update(ctx, order); err != nil {
			return false, decimal.Zero, fmt.Errorf("更新订单失败: %w", err)
		}
	}

	items := make([]model.OrderItem, 0, len(od.OrderItems))
	for _, line := range od.OrderItems {
		item := model.OrderItem{
			OrderID:           order.ID,
			TenantID:          tenantID,
			ListingExternalID: line.Item.ID,
			Title:             line.Item.Title,
			Quantity:          line.Quantity,
			UnitPrice:         line.UnitPrice,
			Total:             float64(line.Quantity) * line.UnitPrice,
			Currency:          od.CurrencyID,
			VariationID:       line.Item.VariationID,
		}
		// 尽力解析到本地商品；尚未入库则留 0，目录同步补齐后下一轮自然接上
		if listing, lErr := s.listingRepo.GetByExternalID(ctx, tenantID, line.Item.ID); lErr == nil && listing != nil {
			item.ListingID = listing.ID
		}
		if raw, mErr := json.Marshal(line); mErr == nil {
			item.RawPayload = raw
		}
		items = append(items, item)
	}
	if err := s.orderRepo.ReplaceItems(ctx, order.ID, items); err != nil {
		return false, decimal.Zero, fmt.Errorf("写入订单行失败: %w", err)
	}

	// GMV 口径：取消单不计入，其余按已支付金额（缺失回退订单总额）
	if od.Status == model.OrderStatusCancelled {
		return created, decimal.Zero, nil
	}
	gmv := decimal.NewFromFloat(od.PaidAmount)
	if gmv.IsZero() {
		gmv = decimal.NewFromFloat(od.TotalAmount)
	}
	return created, gmv, nil
}

// parseMeliTime 平台时间字符串解析（RFC3339，带毫秒与时区偏移）
func parseMeliTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// firstApprovedAt 第一笔已通过支付的时间
func firstApprovedAt(payments []meli.OrderPayment) *time.Time {
	for _, p := range payments {
		if p.Status == "approved" && p.DateApproved != nil {
			if t := parseMeliTime(*p.DateApproved); t != nil {
				return t
			}
		}
	}
	return nil
}
