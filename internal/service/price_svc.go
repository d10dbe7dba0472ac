package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"meli_sync_v1_202608/internal/model"
	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/pkg/meli"
)

// ==================== PriceService 价格/促销解析 ====================

// PriceConfig 比价配置
type PriceConfig struct {
	// Enabled 权威比价接口总开关（关闭后仍会用快照自带来源解析）
	Enabled bool
	// TTL 权威比价的最小间隔，默认 12 小时
	TTL time.Duration
}

// DefaultPriceConfig 默认比价配置
func DefaultPriceConfig() PriceConfig {
	return PriceConfig{Enabled: true, TTL: 12 * time.Hour}
}

// PriceService 从多个可能缺失的来源解析买家可见价格与促销
// 权威比价接口限流敏感，通过 TTL 闸门把调用量压到每商品每窗口最多一次
type PriceService struct {
	listingRepo repository.ListingRepository
	cfg         PriceConfig
}

// NewPriceService 创建价格解析服务
func NewPriceService(listingRepo repository.ListingRepository, cfg PriceConfig) *PriceService {
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	return &PriceService{listingRepo: listingRepo, cfg: cfg}
}

// ShouldRefetchPricing 权威比价 TTL 闸门
// = 开关开启 AND (force OR 从未查过 OR 距上次 ≥ TTL)
func (s *PriceService) ShouldRefetchPricing(listing *model.Listing, now time.Time, force bool) bool {
	if !s.cfg.Enabled {
		return false
	}
	if force {
		return true
	}
	if listing.PromotionCheckedAt == nil {
		return true
	}
	return now.Sub(*listing.PromotionCheckedAt) >= s.cfg.TTL
}

// Refresh 解析并持久化单商品的价格字段
//
// 快照自带来源每轮都参与解析；只有 TTL 闸门放行时才调用权威比价接口，
// 且 PromotionCheckedAt 仅在权威调用真实发生后盖章 —— 同步频率再高，
// 单商品的权威调用也被压在每 TTL 窗口一次
//
// 权威接口失败不致命：降级为仅用快照来源解析，错误上抛由调用方记账
func (s *PriceService) Refresh(ctx context.Context, client *meli.Client, listing *model.Listing, item *meli.ItemDetail, force bool) error {
	now := time.Now()
	src := meli.PriceSource{Item: item}

	var fetchErr error
	var checkedAt *time.Time

	if s.ShouldRefetchPricing(listing, now, force) {
		prices, err := client.GetItemPrices(ctx, listing.ExternalID)
		if err != nil {
			if meli.IsAuthRevoked(err) {
				return err
			}
			// 瞬时失败：不盖章，下一轮还会再试
			fetchErr = fmt.Errorf("商品 %s 权威比价失败: %w", listing.ExternalID, err)
			log.Printf("[PriceService] %v", fetchErr)
		} else {
			src.Prices = prices
			checkedAt = &now
		}
	}

	quote := meli.ResolvePriceQuote(src)

	// 闸门拦下权威调用的 TTL 窗口内，窗口开头权威确立的促销仍然有效。
	// 快照没带自己的划线价证据时，不得用降级解析把它抹掉
	if checkedAt == nil && fetchErr == nil &&
		listing.PromotionCheckedAt != nil && listing.HasPromotion && quote.Original == nil {
		return nil
	}

	fields := map[string]interface{}{
		"price_final":      quote.Current,
		"original_price":   quote.Original,
		"discount_percent": quote.DiscountPercent,
		"has_promotion":    quote.HasPromotion,
	}
	if checkedAt != nil {
		fields["promotion_checked_at"] = checkedAt
	}

	if err := s.listingRepo.UpdateFields(ctx, listing.ID, fields); err != nil {
		return fmt.Errorf("商品 %s 价格字段入库失败: %w", listing.ExternalID, err)
	}

	// 同步内存对象，方便同一轮后续逻辑使用
	listing.PriceFinal = quote.Current
	listing.OriginalPrice = quote.Original
	listing.DiscountPercent = quote.DiscountPercent
	listing.HasPromotion = quote.HasPromotion
	if checkedAt != nil {
		listing.PromotionCheckedAt = checkedAt
	}

	return fetchErr
}
