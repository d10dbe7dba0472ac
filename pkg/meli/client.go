package meli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// 平台硬限制常量
const (
	// PageSizeCeiling 平台分页接口的硬上限
	// 任何更大的 limit 都会被平台 400 拒绝，客户端统一在这里夹紧，调用方的翻页循环无感知
	PageSizeCeiling = 51

	// MultigetBatchLimit 批量详情接口单次最多 id 数
	MultigetBatchLimit = 20

	// DefaultBaseURL 平台 API 入口
	DefaultBaseURL = "https://api.mercadolibre.com"

	// defaultRateLimitWait 429 退避等待时长（单次有界重试，不做无限退避）
	defaultRateLimitWait = 2 * time.Second

	defaultTimeout = 20 * time.Second
)

// TokenSource 数据接口调用的 token 提供方
// force=true 表示绕过缓存强制刷新（executeWithAuthRetry 的二次尝试用）
type TokenSource interface {
	AccessToken(ctx context.Context, force bool) (string, error)
}

// Client Mercado Libre API 客户端
// 封装所有出站调用的韧性策略：分页夹紧、鉴权单次重试、限流单次退避、错误分类
type Client struct {
	http          *resty.Client
	tokens        TokenSource
	baseURL       string
	rateLimitWait time.Duration
}

// NewClient 创建客户端
// tokens 可以为 nil：OAuth 换取/刷新 token 的调用自身不需要 TokenSource
func NewClient(baseURL string, tokens TokenSource) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := resty.New().
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "MeliSync-Go/1.0")

	return &Client{
		http:          httpClient,
		tokens:        tokens,
		baseURL:       strings.TrimRight(baseURL, "/"),
		rateLimitWait: defaultRateLimitWait,
	}
}

// SetRateLimitWait 调整限流退避时长（测试用）
func (c *Client) SetRateLimitWait(d time.Duration) {
	c.rateLimitWait = d
}

// SetTimeout 调整全局超时
func (c *Client) SetTimeout(d time.Duration) {
	c.http.SetTimeout(d)
}

// clampLimit 夹紧分页大小到平台硬上限
func clampLimit(limit int) int {
	if limit <= 0 || limit > PageSizeCeiling {
		return PageSizeCeiling
	}
	return limit
}

// ==================== 核心执行链 ====================

// errRateLimited 内部哨兵：触发 backoff 的单次重试
var errRateLimited = errors.New("rate limited")

// executeWithAuthRetry 带鉴权重试的执行
// 流程：执行 → 401 则强制刷新 token 恰好一次 → 再执行恰好一次 → 仍 401 判定授权失效
func (c *Client) executeWithAuthRetry(ctx context.Context, do func(token string) (*resty.Response, error)) (*resty.Response, error) {
	if c.tokens == nil {
		return nil, &ApiError{Type: ErrTypeValidation, Message: "client has no token source"}
	}

	token, err := c.tokens.AccessToken(ctx, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.doWithRateLimit(ctx, do, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == 401 {
		// 强制刷新，恰好重试一次
		token, err = c.tokens.AccessToken(ctx, true)
		if err != nil {
			return nil, err
		}
		resp, err = c.doWithRateLimit(ctx, do, token)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == 401 {
			return nil, &ApiError{
				Type:    ErrTypeAuthRevoked,
				Status:  401,
				Message: "token rejected twice, reauthorization required",
			}
		}
	}

	return resp, nil
}

// doWithRateLimit 429 单次定长退避重试
// 持续 429 返回 RATE_LIMIT 分类错误，不做无限退避
func (c *Client) doWithRateLimit(ctx context.Context, do func(token string) (*resty.Response, error), token string) (*resty.Response, error) {
	var resp *resty.Response

	op := func() error {
		r, err := do(token)
		if err != nil {
			// 传输层失败不重试（退避只针对限流）
			return backoff.Permanent(classifyTransport(err))
		}
		resp = r
		if r.StatusCode() == 429 {
			return errRateLimited
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.rateLimitWait), 1), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, errRateLimited) {
			return nil, &ApiError{Type: ErrTypeRateLimit, Status: 429, Message: "rate limited after bounded retry"}
		}
		return nil, err
	}
	return resp, nil
}

// classifyTransport 传输层错误分类 (TIMEOUT / NETWORK)
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return &ApiError{Type: ErrTypeTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ApiError{Type: ErrTypeTimeout, Message: err.Error()}
	}
	return &ApiError{Type: ErrTypeNetwork, Message: err.Error()}
}

// classifyResponse 非 2xx 响应分类
// 429 和 401 在执行链里已单独处理，到这里的都是一次性判定
func classifyResponse(resp *resty.Response) *ApiError {
	status := resp.StatusCode()

	var errBody ErrorResp
	_ = jsonUnmarshalLoose(resp.Body(), &errBody)
	code := errBody.ErrCode()
	message := errBody.Message
	if message == "" {
		message = resp.Status()
	}

	switch {
	case status == 403:
		return classifyForbidden(status, code, message)
	case status == 401:
		return &ApiError{Type: ErrTypeAuthRevoked, Status: status, Code: code, Message: message}
	case status == 429:
		return &ApiError{Type: ErrTypeRateLimit, Status: status, Code: code, Message: message}
	case status >= 500:
		return &ApiError{Type: ErrTypeServerError, Status: status, Code: code, Message: message}
	default:
		// 400/404 等：调用侧问题，拒绝前已校验过的不应到这里
		return &ApiError{Type: ErrTypeValidation, Status: status, Code: code, Message: message}
	}
}

// get 统一 GET 入口：鉴权重试 + 限流退避 + 错误分类 + 解析
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	resp, err := c.executeWithAuthRetry(ctx, func(token string) (*resty.Response, error) {
		req := c.http.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+token)
		if query != nil {
			req.SetQueryParamsFromValues(query)
		}
		if out != nil {
			req.SetResult(out)
		}
		return req.Get(c.baseURL + path)
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return classifyResponse(resp)
	}
	return nil
}

// ==================== 商品接口 ====================

// SearchSellerItems 拉取卖家商品 ID 列表（discovery 通道）
// GET /users/{user_id}/items/search
func (c *Client) SearchSellerItems(ctx context.Context, sellerID int64, offset, limit int) (*SellerItemsResp, error) {
	if sellerID <= 0 {
		return nil, &ApiError{Type: ErrTypeValidation, Message: "seller id is required"}
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(clampLimit(limit)))

	var out SellerItemsResp
	path := fmt.Sprintf("/users/%d/items/search", sellerID)
	if err := c.get(ctx, path, query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MultigetItems 批量拉取商品详情（单次 ≤20 个 id）
// GET /items?ids=a,b,c
// 返回逐条带标签的结果：单条失败不产生 error，批量操作继续消费后续条目
func (c *Client) MultigetItems(ctx context.Context, ids []string) ([]ItemResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MultigetBatchLimit {
		return nil, &ApiError{
			Type:    ErrTypeValidation,
			Message: fmt.Sprintf("multiget accepts at most %d ids, got %d", MultigetBatchLimit, len(ids)),
		}
	}

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))

	var entries []MultigetEntry
	if err := c.get(ctx, "/items", query, &entries); err != nil {
		// 整批失败：逐条降级成相同分类的失败结果，让调用方照常按条处理
		apiErr, ok := AsApiError(err)
		if !ok || apiErr.Terminal() {
			return nil, err
		}
		results := make([]ItemResult, 0, len(ids))
		for _, id := range ids {
			results = append(results, ItemResult{
				ExternalID: id,
				OK:         false,
				ErrType:    apiErr.Type,
				Status:     apiErr.Status,
				Code:       apiErr.Code,
				Message:    apiErr.Message,
			})
		}
		return results, nil
	}

	results := make([]ItemResult, 0, len(entries))
	for i, entry := range entries {
		var result ItemResult
		if entry.Code >= 200 && entry.Code < 300 {
			item := entry.Body
			result = ItemResult{ExternalID: item.ID, OK: true, Item: &item}
		} else {
			result = classifyEntryCode(entry)
		}
		// 失败条目的 body 往往不带 id，按请求顺序补齐
		if result.ExternalID == "" && i < len(ids) {
			result.ExternalID = ids[i]
		}
		results = append(results, result)
	}
	return results, nil
}

// classifyEntryCode multiget 单条失败分类
func classifyEntryCode(entry MultigetEntry) ItemResult {
	externalID := entry.Body.ID
	result := ItemResult{ExternalID: externalID, OK: false, Status: entry.Code}
	switch {
	case entry.Code == 403:
		// multiget 的单条 403 没有 cause 结构，按政策封禁处理：
		// 连接级鉴权问题会让整批 401，不会落到单条
		result.ErrType = ErrTypePolicyBlocked
		result.Code = "policy_unauthorized"
	case entry.Code >= 500:
		result.ErrType = ErrTypeServerError
	default:
		result.ErrType = ErrTypeValidation
	}
	return result
}

// GetItem 拉取单商品详情
// GET /items/{id}
func (c *Client) GetItem(ctx context.Context, externalID string) (*ItemDetail, error) {
	if externalID == "" {
		return nil, &ApiError{Type: ErrTypeValidation, Message: "item id is required"}
	}
	var out ItemDetail
	if err := c.get(ctx, "/items/"+externalID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetItemPrices 权威比价接口（限流敏感，受 TTL 闸门保护，不要在循环里裸调）
// GET /items/{id}/prices
func (c *Client) GetItemPrices(ctx context.Context, externalID string) (*ItemPricesResp, error) {
	if externalID == "" {
		return nil, &ApiError{Type: ErrTypeValidation, Message: "item id is required"}
	}
	var out ItemPricesResp
	if err := c.get(ctx, "/items/"+externalID+"/prices", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVisitsWindow 拉取商品时间窗口访问量（每商品每窗口恰好一次）
// GET /items/{id}/visits/time_window?last=N&unit=day&ending=YYYY-MM-DD
// ending 是窗口的最后一天；零值表示锚定到当前时间（平台默认）
func (c *Client) GetVisitsWindow(ctx context.Context, externalID string, lastDays int, ending time.Time) (*VisitsWindowResp, error) {
	if externalID == "" {
		return nil, &ApiError{Type: ErrTypeValidation, Message: "item id is required"}
	}
	if lastDays <= 0 {
		return nil, &ApiError{Type: ErrTypeValidation, Message: "lastDays must be positive"}
	}

	query := url.Values{}
	query.Set("last", strconv.Itoa(lastDays))
	query.Set("unit", "day")
	if !ending.IsZero() {
		query.Set("ending", ending.Format("2006-01-02"))
	}

	var out VisitsWindowResp
	if err := c.get(ctx, "/items/"+externalID+"/visits/time_window", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ==================== 订单接口 ====================

// SearchOrders 搜索卖家订单（分页同样受 51 上限约束）
// GET /orders/search?seller={id}
func (c *Client) SearchOrders(ctx context.Context, sellerID int64, from, to time.Time, offset, limit int) (*OrdersSearchResp, error) {
	if sellerID <= 0 {
		return nil, &ApiError{Type: ErrTypeValidation, Message: "seller id is required"}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, &ApiError{Type: ErrTypeValidation, Message: "date range is inverted"}
	}

	query := url.Values{}
	query.Set("seller", strconv.FormatInt(sellerID, 10))
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(clampLimit(limit)))
	query.Set("sort", "date_desc")
	if !from.IsZero() {
		query.Set("order.date_created.from", from.Format(time.RFC3339))
	}
	if !to.IsZero() {
		query.Set("order.date_created.to", to.Format(time.RFC3339))
	}

	var out OrdersSearchResp
	if err := c.get(ctx, "/orders/search", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ==================== OAuth 接口 ====================

// OAuthConfig 应用级 OAuth 配置
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// AuthorizeURL 生成授权跳转链接
func (cfg *OAuthConfig) AuthorizeURL(siteAuthHost, state string) string {
	if siteAuthHost == "" {
		siteAuthHost = "https://auth.mercadolibre.com.ar"
	}
	return fmt.Sprintf(
		"%s/authorization?response_type=code&client_id=%s&redirect_uri=%s&state=%s",
		siteAuthHost, cfg.ClientID, url.QueryEscape(cfg.RedirectURI), state,
	)
}

// ExchangeCode 授权码换 token
// POST /oauth/token (grant_type=authorization_code)
func (c *Client) ExchangeCode(ctx context.Context, cfg *OAuthConfig, code string) (*TokenResp, error) {
	form := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     cfg.ClientID,
		"client_secret": cfg.ClientSecret,
		"redirect_uri":  cfg.RedirectURI,
		"code":          code,
	}
	return c.tokenGrant(ctx, form)
}

// RefreshToken 刷新 token
// POST /oauth/token (grant_type=refresh_token)
// 鉴权类 4xx 拒绝返回 AUTH_REVOKED（终止，调用方落 reauth_required）
// 网络/服务端失败返回瞬时分类，调用方可重试且不得改连接状态
func (c *Client) RefreshToken(ctx context.Context, cfg *OAuthConfig, refreshToken string) (*TokenResp, error) {
	if refreshToken == "" {
		return nil, &ApiError{Type: ErrTypeAuthRevoked, Code: "missing_refresh_token",
			Message: "no refresh token stored, reauthorization required"}
	}
	form := map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     cfg.ClientID,
		"client_secret": cfg.ClientSecret,
		"refresh_token": refreshToken,
	}
	return c.tokenGrant(ctx, form)
}

// tokenGrant token 端点公共调用（不经过 TokenSource，避免自依赖）
func (c *Client) tokenGrant(ctx context.Context, form map[string]string) (*TokenResp, error) {
	var out TokenResp
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(form).
		SetResult(&out).
		Post(c.baseURL + "/oauth/token")
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.IsError() {
		status := resp.StatusCode()
		var errBody ErrorResp
		_ = jsonUnmarshalLoose(resp.Body(), &errBody)

		// 400/401 的 token 端点拒绝属于鉴权类：invalid_grant / invalid_client
		if status == 400 || status == 401 || status == 403 {
			return nil, &ApiError{
				Type:    ErrTypeAuthRevoked,
				Status:  status,
				Code:    errBody.ErrCode(),
				Message: errBody.Message,
			}
		}
		return nil, classifyResponse(resp)
	}

	if out.AccessToken == "" {
		return nil, &ApiError{Type: ErrTypeServerError, Status: resp.StatusCode(),
			Message: "token endpoint returned empty access_token"}
	}
	return &out, nil
}
