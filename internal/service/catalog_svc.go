package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"meli_sync_v1_202608/internal/api/dto"
	"meli_sync_v1_202608/internal/model"
	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/pkg/meli"
)

// 订单回退通道的回看窗口
const fallbackLookback = 60 * 24 * time.Hour

// CatalogService 目录同步
//
// 两条发现通道：
//  1. 正常通道：卖家商品搜索接口分页翻完
//  2. 回退通道：搜索被政策封禁或返回空时，从本地订单台账反推商品清单
type CatalogService struct {
	connSvc     *ConnectionService
	tokenSvc    *TokenService
	mergeSvc    *MergeService
	priceSvc    *PriceService
	listingRepo repository.ListingRepository
	orderRepo   repository.OrderRepository
	newClient   func(connID int64) *meli.Client
}

// NewCatalogService 创建目录同步服务
func NewCatalogService(
	connSvc *ConnectionService,
	tokenSvc *TokenService,
	mergeSvc *MergeService,
	priceSvc *PriceService,
	listingRepo repository.ListingRepository,
	orderRepo repository.OrderRepository,
	baseURL string,
) *CatalogService {
	return &CatalogService{
		connSvc:     connSvc,
		tokenSvc:    tokenSvc,
		mergeSvc:    mergeSvc,
		priceSvc:    priceSvc,
		listingRepo: listingRepo,
		orderRepo:   orderRepo,
		newClient: func(connID int64) *meli.Client {
			return meli.NewClient(baseURL, tokenSvc.SourceFor(connID))
		},
	}
}

// SyncCatalog 同步一个租户的完整目录
//
// 部分成功语义：单个商品失败记入 Errors 继续跑，
// 只有授权吊销（或无可用连接）才中止整轮
func (s *CatalogService) SyncCatalog(ctx context.Context, tenantID int64) (*dto.SyncCatalogResponse, error) {
	conn, err := s.connSvc.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn.ID)

	result := &dto.SyncCatalogResponse{
		RunID:  uuid.NewString(),
		Errors: []dto.SyncError{},
	}

	// ==================== 阶段一：发现 ====================
	externalIDs, discoveryDone, err := s.discoverIDs(ctx, client, conn, result)
	if err != nil {
		return nil, err
	}

	// 订单回退只认两种触发：政策封禁、发现通道完整走完且确实为空。
	// 瞬时失败导致的空清单不算"空结果"，本轮不回退
	provenance := model.ProvenanceSearch
	if len(externalIDs) == 0 && (result.DiscoveryBlocked || discoveryDone) {
		fallbackIDs, fbErr := s.orderRepo.DistinctListingExternalIDs(ctx, tenantID, time.Now().Add(-fallbackLookback))
		if fbErr != nil {
			return nil, fmt.Errorf("订单回退通道查询失败: %w", fbErr)
		}
		if len(fallbackIDs) > 0 {
			log.Printf("[CatalogService] 租户 %d 发现通道为空，订单回退取到 %d 个商品", tenantID, len(fallbackIDs))
			externalIDs = fallbackIDs
			provenance = model.ProvenanceOrdersFallback
			result.FallbackUsed = true
		}
	}

	// ==================== 阶段二：批量详情 + 合并 ====================
	for start := 0; start < len(externalIDs); start += meli.MultigetBatchLimit {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		end := start + meli.MultigetBatchLimit
		if end > len(externalIDs) {
			end = len(externalIDs)
		}
		batch := externalIDs[start:end]

		items, batchErr := client.MultigetItems(ctx, batch)
		if batchErr != nil {
			if meli.IsAuthRevoked(batchErr) {
				return result, fmt.Errorf("租户 %d 目录同步中止，授权已吊销: %w", tenantID, batchErr)
			}
			return result, fmt.Errorf("批量详情拉取失败: %w", batchErr)
		}

		for _, ir := range items {
			result.Processed++
			if !ir.OK {
				if ir.ErrType == meli.ErrTypeAuthRevoked {
					return result, fmt.Errorf("租户 %d 目录同步中止 (%s): %w", tenantID, ir.ExternalID,
						&meli.ApiError{Type: meli.ErrTypeAuthRevoked, Status: ir.Status, Message: "授权已吊销"})
				}
				if mErr := s.mergeSvc.MarkAccessFailure(ctx, tenantID, ir.ExternalID, ir.ErrType, ir.Code); mErr != nil {
					log.Printf("[CatalogService] 标记访问失败出错 %s: %v", ir.ExternalID, mErr)
				}
				result.Errors = append(result.Errors, dto.SyncError{
					ExternalID: ir.ExternalID,
					Type:       string(ir.ErrType),
					Message:    ir.Message,
				})
				continue
			}

			if err := s.syncSingleItem(ctx, client, tenantID, conn.ID, ir.Item, provenance, result); err != nil {
				if meli.IsAuthRevoked(err) {
					return result, err
				}
				apiErr, _ := meli.AsApiError(err)
				se := dto.SyncError{ExternalID: ir.ExternalID, Message: err.Error()}
				if apiErr != nil {
					se.Type = string(apiErr.Type)
				}
				result.Errors = append(result.Errors, se)
			}
		}
	}

	log.Printf("[CatalogService] 租户 %d 目录同步完成 run=%s: processed=%d created=%d updated=%d errors=%d fallback=%v",
		tenantID, result.RunID, result.Processed, result.Created, result.Updated, len(result.Errors), result.FallbackUsed)
	return result, nil
}

// discoverIDs 正常通道分页发现
// 政策封禁不视为失败：置 DiscoveryBlocked 后返回空清单，交给回退通道。
// 第二个返回值表示发现通道是否完整走完：瞬时失败中途退出时为 false，
// 调用方据此区分"确认为空"和"没拉完"
func (s *CatalogService) discoverIDs(ctx context.Context, client *meli.Client, conn *model.Connection, result *dto.SyncCatalogResponse) ([]string, bool, error) {
	var ids []string
	offset := 0
	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		default:
		}

		page, err := client.SearchSellerItems(ctx, conn.MeliUserID, offset, meli.PageSizeCeiling)
		if err != nil {
			if meli.IsPolicyBlocked(err) {
				log.Printf("[CatalogService] 发现通道被政策封禁: %v", err)
				result.DiscoveryBlocked = true
				return nil, false, nil
			}
			if meli.IsAuthRevoked(err) {
				return nil, false, fmt.Errorf("发现通道授权已吊销: %w", err)
			}
			// 瞬时错误：已拿到的继续同步，失败记账
			result.Errors = append(result.Errors, dto.SyncError{
				Type:    errTypeOf(err),
				Message: fmt.Sprintf("发现通道第 %d 页失败: %v", offset/meli.PageSizeCeiling, err),
			})
			return ids, false, nil
		}

		ids = append(ids, page.Results...)
		offset += len(page.Results)
		if len(page.Results) == 0 || offset >= page.Paging.Total {
			break
		}
	}
	return ids, true, nil
}

// syncSingleItem 合并单个商品快照并按需刷新价格
func (s *CatalogService) syncSingleItem(ctx context.Context, client *meli.Client, tenantID, connID int64, item *meli.ItemDetail, provenance string, result *dto.SyncCatalogResponse) error {
	snap := SnapshotFromItem(item)
	outcome, err := s.mergeSvc.UpsertSnapshot(ctx, tenantID, connID, snap, provenance, result.DiscoveryBlocked)
	if err != nil {
		return err
	}
	if outcome.Created {
		result.Created++
	} else {
		result.Updated++
	}

	// 价格解析失败不影响目录主流程，记账即可
	if err := s.priceSvc.Refresh(ctx, client, outcome.Listing, item, false); err != nil {
		if meli.IsAuthRevoked(err) {
			return err
		}
		return fmt.Errorf("价格刷新失败: %w", err)
	}
	return nil
}

// errTypeOf 尽力从错误里取出分类标签
func errTypeOf(err error) string {
	if apiErr, ok := meli.AsApiError(err); ok {
		return string(apiErr.Type)
	}
	return ""
}

// ==================== 访问状态对账 ====================

// ReconcileAccessAndStatus 逐个重查已入库商品，校准访问状态机
//
// 成功拿到详情 → accessible（任何成功都自愈）
// 403 政策封禁 → blocked_by_policy；401 → unauthorized
func (s *CatalogService) ReconcileAccessAndStatus(ctx context.Context, tenantID int64) (*dto.ReconcileResponse, error) {
	conn, err := s.connSvc.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn.ID)

	listings, err := s.listingRepo.ListSyncable(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("查询待对账商品失败: %w", err)
	}

	resp := &dto.ReconcileResponse{}
	byExternal := make(map[string]*model.Listing, len(listings))
	var ids []string
	for i := range listings {
		byExternal[listings[i].ExternalID] = &listings[i]
		ids = append(ids, listings[i].ExternalID)
	}

	for start := 0; start < len(ids); start += meli.MultigetBatchLimit {
		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		default:
		}

		end := start + meli.MultigetBatchLimit
		if end > len(ids) {
			end = len(ids)
		}

		items, batchErr := client.MultigetItems(ctx, ids[start:end])
		if batchErr != nil {
			if meli.IsAuthRevoked(batchErr) {
				return resp, fmt.Errorf("对账中止，授权已吊销: %w", batchErr)
			}
			return resp, fmt.Errorf("对账批量拉取失败: %w", batchErr)
		}

		for _, ir := range items {
			resp.Checked++
			prior := byExternal[ir.ExternalID]

			if ir.OK {
				snap := SnapshotFromItem(ir.Item)
				// 对账是逐实体探测，不是 discovery 轮次：
				// 来源与回退标记保持原样，不得把 orders_fallback 洗成 search
				provenance := model.ProvenanceSearch
				blocked := false
				if prior != nil {
					provenance = prior.Provenance
					blocked = prior.DiscoveryBlocked
				}
				if _, uErr := s.mergeSvc.UpsertSnapshot(ctx, tenantID, conn.ID, snap, provenance, blocked); uErr != nil {
					log.Printf("[CatalogService] 对账合并失败 %s: %v", ir.ExternalID, uErr)
					continue
				}
				if prior != nil && prior.AccessStatus != model.AccessStatusAccessible {
					resp.Updated++
				}
				continue
			}

			if ir.ErrType == meli.ErrTypeAuthRevoked {
				return resp, fmt.Errorf("对账中止 (%s): %w", ir.ExternalID,
					&meli.ApiError{Type: meli.ErrTypeAuthRevoked, Status: ir.Status, Message: "授权已吊销"})
			}

			target := accessTargetFor(ir.ErrType)
			switch target {
			case model.AccessStatusBlocked:
				resp.BlockedByPolicy++
			case model.AccessStatusUnauthorized:
				resp.Unauthorized++
			}
			if mErr := s.mergeSvc.MarkAccessFailure(ctx, tenantID, ir.ExternalID, ir.ErrType, ir.Code); mErr != nil {
				log.Printf("[CatalogService] 对账标记失败 %s: %v", ir.ExternalID, mErr)
				continue
			}
			if prior != nil && target != "" && prior.AccessStatus != target {
				resp.Updated++
			}
		}
	}

	log.Printf("[CatalogService] 租户 %d 访问对账完成: checked=%d updated=%d blocked=%d unauthorized=%d",
		tenantID, resp.Checked, resp.Updated, resp.BlockedByPolicy, resp.Unauthorized)
	return resp, nil
}

func accessTargetFor(t meli.ErrorType) string {
	switch t {
	case meli.ErrTypePolicyBlocked:
		return model.AccessStatusBlocked
	case meli.ErrTypeAuthRevoked:
		return model.AccessStatusUnauthorized
	}
	return ""
}
