package meli

// ==========================================
// 价格来源归一化
//
// 同一个"当前价/原价"概念在不同端点下字段名和结构都不一样
// (sale_price 对象 / prices 列表 / base_price / price ...)
// 统一建模为按优先级排列的 shape matcher 列表，逐个尝试，
// 每个 matcher 产出一个归一化候选值；新增来源只需要加一个 matcher，
// 调用方无感知
// ==========================================

// PriceSource 一次解析可用的全部输入
// Prices 可能为 nil：权威比价接口受 TTL 闸门约束，多数同步轮不会调用
type PriceSource struct {
	Item   *ItemDetail
	Prices *ItemPricesResp
}

// PriceQuote 归一化的解析结果
type PriceQuote struct {
	Current         *float64
	Original        *float64
	DiscountPercent *int
	HasPromotion    bool
	CurrentSource   string // 命中的 matcher 名，便于排查
	OriginalSource  string
}

// priceMatcher 单个形状匹配器
// current 参数仅原价链需要（business price 候选要求严格大于已解析的当前价）
type priceMatcher struct {
	name  string
	match func(src PriceSource, current *float64) *float64
}

// ==================== 当前价候选链 ====================

// currentPriceMatchers 当前价匹配器，优先级从高到低：
// 显式促销价 > 结构化价格表最小值 > 基础挂牌价
var currentPriceMatchers = []priceMatcher{
	{
		name: "sale_price",
		match: func(src PriceSource, _ *float64) *float64 {
			if src.Item == nil || src.Item.SalePrice == nil {
				return nil
			}
			v := src.Item.SalePrice.Amount
			return &v
		},
	},
	{
		name: "price_list_min",
		match: func(src PriceSource, _ *float64) *float64 {
			if src.Prices == nil || len(src.Prices.Prices) == 0 {
				return nil
			}
			low := src.Prices.Prices[0].Amount
			for _, entry := range src.Prices.Prices[1:] {
				if entry.Amount < low {
					low = entry.Amount
				}
			}
			return &low
		},
	},
	{
		name: "base_list_price",
		match: func(src PriceSource, _ *float64) *float64 {
			if src.Item == nil || src.Item.Price == nil {
				return nil
			}
			v := *src.Item.Price
			return &v
		},
	},
}

// ==================== 原价候选链 ====================

// originalPriceMatchers 原价（划线价）匹配器，优先级从高到低：
// 显式 original_price > 促销价自带 regular_amount > 参考价表最大值
// > base_price 字段 > 业务现价（仅当严格大于已解析当前价）
var originalPriceMatchers = []priceMatcher{
	{
		name: "original_price",
		match: func(src PriceSource, _ *float64) *float64 {
			if src.Item == nil || src.Item.OriginalPrice == nil {
				return nil
			}
			v := *src.Item.OriginalPrice
			return &v
		},
	},
	{
		name: "sale_regular_amount",
		match: func(src PriceSource, _ *float64) *float64 {
			if src.Item == nil || src.Item.SalePrice == nil || src.Item.SalePrice.RegularAmount == nil {
				return nil
			}
			v := *src.Item.SalePrice.RegularAmount
			return &v
		},
	},
	{
		name: "reference_price_max",
		match: func(src PriceSource, _ *float64) *float64 {
			if src.Prices == nil || len(src.Prices.ReferencePrices) == 0 {
				return nil
			}
			high := src.Prices.ReferencePrices[0].Amount
			for _, ref := range src.Prices.ReferencePrices[1:] {
				if ref.Amount > high {
					high = ref.Amount
				}
			}
			return &high
		},
	},
	{
		name: "base_price_field",
		match: func(src PriceSource, _ *float64) *float64 {
			if src.Item == nil || src.Item.BasePrice == nil {
				return nil
			}
			v := *src.Item.BasePrice
			return &v
		},
	},
	{
		name: "business_price",
		match: func(src PriceSource, current *float64) *float64 {
			// 现价只能在严格大于已解析当前价时才当原价用，否则没有折扣可言
			if src.Item == nil || src.Item.Price == nil || current == nil {
				return nil
			}
			if *src.Item.Price > *current {
				v := *src.Item.Price
				return &v
			}
			return nil
		},
	},
}

// resolveChain 按优先级执行匹配器链，返回第一个命中的候选
func resolveChain(matchers []priceMatcher, src PriceSource, current *float64) (*float64, string) {
	for _, m := range matchers {
		if v := m.match(src, current); v != nil {
			return v, m.name
		}
	}
	return nil, ""
}

// promotionEntry 权威比价结果里的生效促销条目
func promotionEntry(prices *ItemPricesResp) *PriceEntry {
	if prices == nil {
		return nil
	}
	for i := range prices.Prices {
		if prices.Prices[i].Type == "promotion" {
			return &prices.Prices[i]
		}
	}
	return nil
}

// ResolvePriceQuote 解析买家可见当前价与促销
//
// 规则：
//  1. 权威比价结果含生效促销时直接覆盖所有其他候选
//  2. 否则按候选链解析当前价、原价
//  3. 仅当 原价 > 当前价 × 1.01 才认定促销（挡掉舍入噪声）
//  4. 折扣 = round(100 × (原 - 现) / 原)，平台显式折扣值优先
func ResolvePriceQuote(src PriceSource) PriceQuote {
	var quote PriceQuote

	if promo := promotionEntry(src.Prices); promo != nil {
		v := promo.Amount
		quote.Current = &v
		quote.CurrentSource = "authoritative_promotion"
		if promo.RegularAmount != nil {
			o := *promo.RegularAmount
			quote.Original = &o
			quote.OriginalSource = "authoritative_promotion"
		}
	}

	if quote.Current == nil {
		quote.Current, quote.CurrentSource = resolveChain(currentPriceMatchers, src, nil)
	}
	if quote.Original == nil {
		quote.Original, quote.OriginalSource = resolveChain(originalPriceMatchers, src, quote.Current)
	}

	if quote.Current == nil || quote.Original == nil {
		return quote
	}

	current, original := *quote.Current, *quote.Original
	if original <= current*1.01 {
		// 差距在 1% 以内当噪声，不认定促销，也不保留原价
		quote.Original = nil
		quote.OriginalSource = ""
		return quote
	}

	quote.HasPromotion = true
	if src.Prices != nil && src.Prices.DiscountPercent != nil {
		d := *src.Prices.DiscountPercent
		quote.DiscountPercent = &d
	} else {
		d := int(100*(original-current)/original + 0.5)
		quote.DiscountPercent = &d
	}
	return quote
}
