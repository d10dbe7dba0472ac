package service

import (
	"encoding/json"

	"meli_sync_v1_202608/pkg/meli"
)

// ==================== DTO → 快照转换 ====================

// SnapshotFromItem 把平台商品详情归一化成合并引擎的输入快照
//
// 指针字段的缺失语义在这里决定：响应里没出现的字段必须保持 nil，
// 让合并引擎的 OverwriteIfPresent 策略能正确跳过
func SnapshotFromItem(item *meli.ItemDetail) *ListingSnapshot {
	if item == nil {
		return nil
	}

	snap := &ListingSnapshot{
		ExternalID: item.ID,
		Title:      item.Title,
		Price:      item.Price,
		Stock:      item.AvailableQuantity,
		State:      item.Status,
		CategoryID: item.CategoryID,
		Permalink:  item.Permalink,
	}

	// --- 条件字段 ---
	snap.Description = item.Description
	if item.Thumbnail != "" {
		v := item.Thumbnail
		snap.ThumbnailURL = &v
	}
	if item.Pictures != nil {
		n := len(item.Pictures)
		snap.PictureCount = &n
		if raw, err := json.Marshal(item.Pictures); err == nil {
			snap.Pictures = raw
		}
	}
	if item.Visits != nil {
		v := *item.Visits
		snap.RecentVisits = &v
	}
	if item.Variations != nil {
		n := len(item.Variations)
		snap.VariationCount = &n
	}
	sold := item.SoldQuantity
	snap.SoldQuantity = &sold
	snap.Tags = item.Tags

	// --- 粘性布尔信号 ---
	snap.HasVideo = videoSignal(item)
	snap.HasClips = clipsSignal(item)

	if raw, err := json.Marshal(item); err == nil {
		snap.Raw = raw
	}
	return snap
}

// videoSignal video_id 三态判定
// 字段缺失 → 不可判定；空串 → 明确没有；非空 → 明确有
func videoSignal(item *meli.ItemDetail) BoolSignal {
	if item.VideoID == nil {
		return SignalUnknown
	}
	if *item.VideoID == "" {
		return SignalFalse
	}
	return SignalTrue
}

// clipsSignal clips 标签三态判定（tags 缺失时不可判定）
func clipsSignal(item *meli.ItemDetail) BoolSignal {
	value, determinate := item.HasClipsTag()
	if !determinate {
		return SignalUnknown
	}
	if value {
		return SignalTrue
	}
	return SignalFalse
}
