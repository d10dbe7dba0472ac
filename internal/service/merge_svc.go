package service

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"meli_sync_v1_202608/internal/model"
	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/pkg/meli"
)

// ==================== 快照与三态信号 ====================

// BoolSignal 布尔信号三态
// 粘性布尔字段的输入必须区分"明确为假"和"本次不可判定"
type BoolSignal int

const (
	SignalUnknown BoolSignal = iota // 快照里没有可判定的证据
	SignalFalse                     // 平台明确给出 false
	SignalTrue                      // 平台明确给出 true
)

// ListingSnapshot 一次拉取得到的归一化商品快照
// 条件字段用指针建模：nil 表示本次快照缺失该字段（不是空值）
type ListingSnapshot struct {
	ExternalID string

	// --- 强制刷新字段 ---
	Title      string
	Price      *float64
	Stock      int
	State      string
	CategoryID string
	Permalink  string

	// --- 条件刷新字段 ---
	Description    *string
	ThumbnailURL   *string
	PictureCount   *int
	Pictures       []byte // 原始图片列表 JSON
	SoldQuantity   *int
	RecentVisits   *int
	VariationCount *int
	Tags           []string

	// --- 粘性布尔信号 ---
	HasVideo BoolSignal
	HasClips BoolSignal

	Raw []byte // 原始响应留档
}

// ==================== 字段合并策略表 ====================

// FieldPolicy 单字段合并策略
type FieldPolicy int

const (
	// PolicyAlwaysOverwrite 每次同步无条件覆盖
	PolicyAlwaysOverwrite FieldPolicy = iota
	// PolicyOverwriteIfPresent 快照带了才覆盖，缺失保留旧值；仅创建时落默认值
	PolicyOverwriteIfPresent
	// PolicyStickyTrue 一旦 true 永不回退；不可判定信号创建时落 null 绝不落 false
	PolicyStickyTrue
)

// fieldRule 策略表中的一行
// 合并引擎只遍历这张表，不允许在别处散落字段级 if/else
type fieldRule struct {
	name    string
	policy  FieldPolicy
	present func(s *ListingSnapshot) bool                 // OverwriteIfPresent：快照是否带了该字段
	copy    func(dst *model.Listing, s *ListingSnapshot)  // Always / IfPresent：执行覆盖
	signal  func(s *ListingSnapshot) BoolSignal           // StickyTrue：取输入信号
	sticky  func(dst *model.Listing) **bool               // StickyTrue：目标字段指针
}

// listingFieldPolicies Listing 的全量字段合并策略
var listingFieldPolicies = []fieldRule{
	// --- 无条件覆盖 ---
	{name: "title", policy: PolicyAlwaysOverwrite,
		copy: func(d *model.Listing, s *ListingSnapshot) { d.Title = s.Title }},
	{name: "price", policy: PolicyAlwaysOverwrite,
		copy: func(d *model.Listing, s *ListingSnapshot) { d.Price = s.Price }},
	{name: "stock", policy: PolicyAlwaysOverwrite,
		copy: func(d *model.Listing, s *ListingSnapshot) { d.Stock = s.Stock }},
	{name: "state", policy: PolicyAlwaysOverwrite,
		copy: func(d *model.Listing, s *ListingSnapshot) { d.State = s.State }},
	{name: "category_id", policy: PolicyAlwaysOverwrite,
		copy: func(d *model.Listing, s *ListingSnapshot) { d.CategoryID = s.CategoryID }},
	{name: "permalink", policy: PolicyAlwaysOverwrite,
		copy: func(d *model.Listing, s *ListingSnapshot) { d.Permalink = s.Permalink }},

	// --- 快照带了才覆盖 ---
	{name: "description", policy: PolicyOverwriteIfPresent,
		present: func(s *ListingSnapshot) bool { return s.Description != nil },
		copy:    func(d *model.Listing, s *ListingSnapshot) { d.Description = *s.Description }},
	{name: "thumbnail_url", policy: PolicyOverwriteIfPresent,
		present: func(s *ListingSnapshot) bool { return s.ThumbnailURL != nil },
		copy:    func(d *model.Listing, s *ListingSnapshot) { d.ThumbnailURL = *s.ThumbnailURL }},
	{name: "picture_count", policy: PolicyOverwriteIfPresent,
		present: func(s *ListingSnapshot) bool { return s.PictureCount != nil },
		copy:    func(d *model.Listing, s *ListingSnapshot) { d.PictureCount = *s.PictureCount }},
	{name: "pictures", policy: PolicyOverwriteIfPresent,
		present: func(s *ListingSnapshot) bool { return len(s.Pictures) > 0 },
		copy:    func(d *model.Listing, s *ListingSnapshot) { d.Pictures = datatypes.JSON(s.Pictures) }},
	{name: "sold_quantity", policy: PolicyOverwriteIfPresent,
		present: func(s *ListingSnapshot) bool { return s.SoldQuantity != nil },
		copy:    func(d *model.Listing, s *ListingSnapshot) { d.SoldQuantity = *s.SoldQuantity }},
	{name: "recent_visits", policy: PolicyOverwriteIfPresent,
		present: func(s *ListingSnapshot) bool { return s.RecentVisits != nil },
		copy:    func(d *model.Listing, s *ListingSnapshot) { d.RecentVisits = *s.RecentVisits }},
	{name: "variation_count", policy: PolicyOverwriteIfPresent,
		present: func(s *ListingSnapshot) bool { return s.VariationCount != nil },
		copy:    func(d *model.Listing, s *ListingSnapshot) { d.VariationCount = *s.VariationCount }},
	{name: "tags", policy: PolicyOverwriteIfPresent,
		present: func(s *ListingSnapshot) bool { return s.Tags != nil },
		copy:    func(d *model.Listing, s *ListingSnapshot) { d.Tags = s.Tags }},

	// --- 粘性布尔 ---
	{name: "has_video", policy: PolicyStickyTrue,
		signal: func(s *ListingSnapshot) BoolSignal { return s.HasVideo },
		sticky: func(d *model.Listing) **bool { return &d.HasVideo }},
	{name: "has_clips", policy: PolicyStickyTrue,
		signal: func(s *ListingSnapshot) BoolSignal { return s.HasClips },
		sticky: func(d *model.Listing) **bool { return &d.HasClips }},
}

// applyFieldPolicies 按策略表合并快照到实体
func applyFieldPolicies(dst *model.Listing, snap *ListingSnapshot) {
	for _, rule := range listingFieldPolicies {
		switch rule.policy {
		case PolicyAlwaysOverwrite:
			rule.copy(dst, snap)
		case PolicyOverwriteIfPresent:
			if rule.present(snap) {
				rule.copy(dst, snap)
			}
			// 缺失：保留旧值；创建场景下就是零值，不需要额外默认
		case PolicyStickyTrue:
			applyStickyTrue(rule.sticky(dst), rule.signal(snap))
		}
	}
}

// applyStickyTrue 粘性布尔合并
//   - 已经 true：任何后续信号都不能回退
//   - 明确 true：置 true
//   - 明确 false：仅当此前不是 true 才落 false
//   - 不可判定：更新时不动；创建时保持 nil（绝不默认 false）
func applyStickyTrue(field **bool, sig BoolSignal) {
	prior := *field
	if prior != nil && *prior {
		return
	}
	switch sig {
	case SignalTrue:
		v := true
		*field = &v
	case SignalFalse:
		v := false
		*field = &v
	case SignalUnknown:
		// 保持原样
	}
}

// ==================== MergeService 合并引擎 ====================

// UpsertOutcome 单快照合并结果
type UpsertOutcome struct {
	Created bool
	Listing *model.Listing
}

// MergeService 幂等合并引擎：快照 → 持久化实体
type MergeService struct {
	listingRepo repository.ListingRepository
}

// NewMergeService 创建合并引擎
func NewMergeService(listingRepo repository.ListingRepository) *MergeService {
	return &MergeService{listingRepo: listingRepo}
}

// UpsertSnapshot 合并一份快照
//
// provenance 规则：
//   - 正常 discovery 通道向前覆盖（回退标记同时清除/设置）
//   - 回退通道绝不把已有的 search 来源降级成 orders_fallback
//
// 快照合并成功意味着详情拉取成功，访问状态机回到 accessible 并清除封禁元数据
func (s *MergeService) UpsertSnapshot(ctx context.Context, tenantID, connID int64, snap *ListingSnapshot, provenance string, discoveryBlocked bool) (*UpsertOutcome, error) {
	if snap == nil || snap.ExternalID == "" {
		return nil, fmt.Errorf("快照缺少 external id")
	}

	existing, err := s.listingRepo.GetByExternalID(ctx, tenantID, snap.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("查询商品 %s 失败: %w", snap.ExternalID, err)
	}

	now := time.Now()
	created := existing == nil

	var listing *model.Listing
	if created {
		listing = &model.Listing{
			TenantID:   tenantID,
			ExternalID: snap.ExternalID,
		}
	} else {
		listing = existing
	}

	applyFieldPolicies(listing, snap)

	// 来源标记
	if provenance == model.ProvenanceOrdersFallback && !created && listing.Provenance == model.ProvenanceSearch {
		// 回退通道不降级，保留 search
	} else {
		listing.Provenance = provenance
		listing.DiscoveryBlocked = discoveryBlocked
	}

	// 详情拉取成功 → 访问状态机回 accessible，清除封禁元数据
	listing.AccessStatus = model.AccessStatusAccessible
	listing.AccessBlockedCode = ""
	listing.AccessBlockedAt = nil

	listing.ConnectionID = connID
	listing.SyncedAt = &now
	if len(snap.Raw) > 0 {
		listing.RawPayload = datatypes.JSON(snap.Raw)
	}

	if created {
		if err := s.listingRepo.Create(ctx, listing); err != nil {
			return nil, fmt.Errorf("商品 %s 入库失败: %w", snap.ExternalID, err)
		}
	} else {
		if err := s.listingRepo.Update(ctx, listing); err != nil {
			return nil, fmt.Errorf("商品 %s 更新失败: %w", snap.ExternalID, err)
		}
	}

	return &UpsertOutcome{Created: created, Listing: listing}, nil
}

// ==================== 访问状态机 ====================

// MarkAccessFailure 单商品拉取失败时推进访问状态机
//
// POLICY_BLOCKED → blocked_by_policy（记录原因码与时间）
// AUTH_REVOKED   → unauthorized
// 其他瞬时错误不改变访问状态（不是访问性证据）
// 只会触碰 externalID 指到的这一个实体，绝不影响别的商品
func (s *MergeService) MarkAccessFailure(ctx context.Context, tenantID int64, externalID string, errType meli.ErrorType, code string) error {
	var status string
	switch errType {
	case meli.ErrTypePolicyBlocked:
		status = model.AccessStatusBlocked
	case meli.ErrTypeAuthRevoked:
		status = model.AccessStatusUnauthorized
	default:
		return nil
	}

	existing, err := s.listingRepo.GetByExternalID(ctx, tenantID, externalID)
	if err != nil {
		return err
	}
	if existing == nil {
		// 尚未入库的商品没有状态可推进
		return nil
	}

	now := time.Now()
	return s.listingRepo.UpdateFields(ctx, existing.ID, map[string]interface{}{
		"access_status":       status,
		"access_blocked_code": code,
		"access_blocked_at":   &now,
	})
}
