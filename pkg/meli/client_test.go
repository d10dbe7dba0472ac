package meli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== 测试辅助 ====================

// stubTokens 固定 token 序列：每次 force=true 换下一个
type stubTokens struct {
	tokens     []string
	idx        int
	forceCalls int
}

func (s *stubTokens) AccessToken(ctx context.Context, force bool) (string, error) {
	if force {
		s.forceCalls++
		if s.idx < len(s.tokens)-1 {
			s.idx++
		}
	}
	return s.tokens[s.idx], nil
}

func newTestClient(serverURL string) (*Client, *stubTokens) {
	tokens := &stubTokens{tokens: []string{"token-a", "token-b"}}
	c := NewClient(serverURL, tokens)
	c.SetRateLimitWait(10 * time.Millisecond)
	return c, tokens
}

// ==================== 分页夹紧 ====================

func TestSearchSellerItems_ClampsLimit(t *testing.T) {
	var gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"seller_id":"123","results":["MLA1","MLA2"],"paging":{"total":2,"offset":0,"limit":51}}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	resp, err := client.SearchSellerItems(context.Background(), 123, 0, 100)
	require.NoError(t, err)

	// 请求 100 也只会带 51 出门
	assert.Equal(t, "51", gotLimit)
	assert.Len(t, resp.Results, 2)
}

// ==================== 鉴权重试 ====================

func TestGet_RefreshesTokenOnceOn401(t *testing.T) {
	var seenTokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		seenTokens = append(seenTokens, token)
		if token == "Bearer token-a" {
			w.WriteHeader(401)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"MLA1","title":"ok","status":"active"}`))
	}))
	defer srv.Close()

	client, tokens := newTestClient(srv.URL)
	item, err := client.GetItem(context.Background(), "MLA1")
	require.NoError(t, err)

	assert.Equal(t, "MLA1", item.ID)
	assert.Equal(t, 1, tokens.forceCalls, "401 后应强制刷新恰好一次")
	assert.Equal(t, []string{"Bearer token-a", "Bearer token-b"}, seenTokens)
}

func TestGet_SecondUnauthorizedMeansRevoked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
	}))
	defer srv.Close()

	client, tokens := newTestClient(srv.URL)
	_, err := client.GetItem(context.Background(), "MLA1")
	require.Error(t, err)

	assert.True(t, IsAuthRevoked(err), "两次 401 应判定授权失效，实际: %v", err)
	assert.Equal(t, 1, tokens.forceCalls, "授权失效前只允许一次强制刷新")
}

// ==================== 限流退避 ====================

func TestGet_RetriesOnceOn429(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(429)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"MLA1","title":"ok","status":"active"}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	item, err := client.GetItem(context.Background(), "MLA1")
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "429 后应等待并恰好重试一次")
	assert.Equal(t, "MLA1", item.ID)
}

func TestGet_PersistentRateLimitClassified(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(429)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	_, err := client.GetItem(context.Background(), "MLA1")
	require.Error(t, err)

	apiErr, ok := AsApiError(err)
	require.True(t, ok)
	assert.Equal(t, ErrTypeRateLimit, apiErr.Type)
	assert.Equal(t, 2, calls, "持续 429 只允许一次重试，之后放弃")
}

// ==================== 批量详情 ====================

func TestMultigetItems_ClassifiesPerEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"code":200,"body":{"id":"MLA1","title":"first","status":"active"}},
			{"code":403,"body":{}},
			{"code":404,"body":{}}
		]`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	results, err := client.MultigetItems(context.Background(), []string{"MLA1", "MLA2", "MLA3"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].OK)
	assert.Equal(t, "MLA1", results[0].ExternalID)

	// 失败条目 body 不带 id，按请求顺序补齐
	assert.False(t, results[1].OK)
	assert.Equal(t, "MLA2", results[1].ExternalID)
	assert.Equal(t, ErrTypePolicyBlocked, results[1].ErrType)

	assert.False(t, results[2].OK)
	assert.Equal(t, "MLA3", results[2].ExternalID)
	assert.Equal(t, ErrTypeValidation, results[2].ErrType)
}

func TestMultigetItems_RejectsOversizedBatch(t *testing.T) {
	client, _ := newTestClient("http://unused.invalid")

	ids := make([]string, MultigetBatchLimit+1)
	for i := range ids {
		ids[i] = "MLA1"
	}
	_, err := client.MultigetItems(context.Background(), ids)
	require.Error(t, err)

	apiErr, ok := AsApiError(err)
	require.True(t, ok)
	assert.Equal(t, ErrTypeValidation, apiErr.Type)
}

// ==================== 403 政策封禁分类 ====================

func TestGet_PolicyBlockedForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(403)
		w.Write([]byte(`{"message":"policy agreement required","error":"policy_unauthorized","status":403}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	_, err := client.GetItem(context.Background(), "MLA1")
	require.Error(t, err)

	assert.True(t, IsPolicyBlocked(err), "带政策错误码的 403 应分类为政策封禁: %v", err)
	assert.False(t, IsAuthRevoked(err), "政策封禁不是授权失效")
}

// ==================== OAuth ====================

func TestRefreshToken_EmptyTokenShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	cfg := &OAuthConfig{ClientID: "app", ClientSecret: "secret"}

	_, err := client.RefreshToken(context.Background(), cfg, "")
	require.Error(t, err)

	assert.True(t, IsAuthRevoked(err), "无 refresh token 应直接判定需要重新授权")
	assert.False(t, called, "不应发起任何网络请求")
}

func TestRefreshToken_InvalidGrantIsRevoked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(400)
		w.Write([]byte(`{"message":"invalid grant","error":"invalid_grant","status":400}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	cfg := &OAuthConfig{ClientID: "app", ClientSecret: "secret"}

	_, err := client.RefreshToken(context.Background(), cfg, "stale-token")
	require.Error(t, err)
	assert.True(t, IsAuthRevoked(err))
}

func TestExchangeCode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":21600,"user_id":777}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	cfg := &OAuthConfig{ClientID: "app", ClientSecret: "secret", RedirectURI: "http://cb"}

	resp, err := client.ExchangeCode(context.Background(), cfg, "the-code")
	require.NoError(t, err)
	assert.Equal(t, "at", resp.AccessToken)
	assert.Equal(t, int64(777), resp.UserID)
	assert.Equal(t, 21600, resp.ExpiresIn)
}

// ==================== 访问量窗口 ====================

func TestGetVisitsWindow_QueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("last"))
		assert.Equal(t, "day", r.URL.Query().Get("unit"))
		// 窗口按调用方指定的最后一天锚定，而不是服务器当前时间
		assert.Equal(t, "2026-08-29", r.URL.Query().Get("ending"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"item_id":"MLA1","last":7,"unit":"day","results":[{"date":"2026-08-29T00:00:00Z","total":0}]}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	ending := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	resp, err := client.GetVisitsWindow(context.Background(), "MLA1", 7, ending)
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	// 平台明确返回的 0 必须保留为 0
	assert.Equal(t, 0, resp.Results[0].Total)
}
