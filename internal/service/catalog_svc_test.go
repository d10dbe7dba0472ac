package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"meli_sync_v1_202608/internal/model"
	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/pkg/meli"
)

// ==================== 测试辅助 ====================

type catalogTestEnv struct {
	svc         *CatalogService
	listingRepo repository.ListingRepository
	orderRepo   repository.OrderRepository
}

// setupCatalogTest 完整装配目录同步链路
// searchBody/itemsBody 分别模拟发现接口与批量详情接口的响应
func setupCatalogTest(t *testing.T, handler http.HandlerFunc) *catalogTestEnv {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Connection{}, &model.Listing{},
		&model.Order{}, &model.OrderItem{},
	); err != nil {
		t.Fatalf("建表失败: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	ctx := context.Background()
	connRepo := repository.NewConnectionRepository(db)
	listingRepo := repository.NewListingRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	conn := &model.Connection{
		TenantID:       1,
		MeliUserID:     100,
		AccessToken:    "test-token",
		RefreshToken:   "refresh-token",
		TokenExpiresAt: time.Now().Add(time.Hour),
		Status:         model.ConnStatusActive,
	}
	if err := connRepo.Create(ctx, conn); err != nil {
		t.Fatalf("预置连接失败: %v", err)
	}

	connSvc := NewConnectionService(connRepo)
	tokenSvc := NewTokenService(connRepo, meli.NewClient(server.URL, nil), &meli.OAuthConfig{})
	mergeSvc := NewMergeService(listingRepo)
	priceSvc := NewPriceService(listingRepo, DefaultPriceConfig())
	svc := NewCatalogService(connSvc, tokenSvc, mergeSvc, priceSvc, listingRepo, orderRepo, server.URL)

	return &catalogTestEnv{svc: svc, listingRepo: listingRepo, orderRepo: orderRepo}
}

// itemBody 批量详情里的一条 200 条目
func itemBody(id string) string {
	return `{"code":200,"body":{"id":"` + id + `","title":"Item ` + id + `",` +
		`"price":100,"available_quantity":3,"sold_quantity":1,` +
		`"status":"active","category_id":"MLA1234","permalink":"https://example/` + id + `"}}`
}

// ==================== 正常通道 ====================

func TestSyncCatalog_SearchDiscoveryIdempotent(t *testing.T) {
	env := setupCatalogTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/users/"):
			w.Write([]byte(`{"results":["MLA1","MLA2"],"paging":{"total":2}}`))
		case strings.HasSuffix(r.URL.Path, "/prices"):
			w.Write([]byte(`{"id":"x","prices":[]}`))
		case r.URL.Path == "/items":
			w.Write([]byte(`[` + itemBody("MLA1") + `,` + itemBody("MLA2") + `]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	resp, err := env.svc.SyncCatalog(ctx, 1)
	if err != nil {
		t.Fatalf("同步失败: %v", err)
	}
	if resp.RunID == "" {
		t.Fatalf("每轮同步应有独立 run id")
	}
	if resp.Processed != 2 || resp.Created != 2 {
		t.Fatalf("期望 processed=2 created=2，实际 processed=%d created=%d", resp.Processed, resp.Created)
	}
	if resp.FallbackUsed || resp.DiscoveryBlocked {
		t.Fatalf("正常通道不应触发回退")
	}

	// 第二轮：全部更新，零新建
	resp2, err := env.svc.SyncCatalog(ctx, 1)
	if err != nil {
		t.Fatalf("二次同步失败: %v", err)
	}
	if resp2.Created != 0 || resp2.Updated != 2 {
		t.Fatalf("重复同步应幂等，实际 created=%d updated=%d", resp2.Created, resp2.Updated)
	}

	count, _ := env.listingRepo.CountByTenant(ctx, 1)
	if count != 2 {
		t.Fatalf("期望 2 条商品，实际 %d", count)
	}

	listing, _ := env.listingRepo.GetByExternalID(ctx, 1, "MLA1")
	if listing.Provenance != model.ProvenanceSearch {
		t.Fatalf("正常通道的商品来源应为 search，实际 %q", listing.Provenance)
	}
}

// ==================== 订单回退通道 ====================

func TestSyncCatalog_PolicyBlockedFallsBackToOrders(t *testing.T) {
	env := setupCatalogTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/users/"):
			// 发现通道被政策封禁
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message":"blocked","error":"forbidden","cause":[{"code":"policy_unauthorized"}]}`))
		case strings.HasSuffix(r.URL.Path, "/prices"):
			w.Write([]byte(`{"id":"x","prices":[]}`))
		case r.URL.Path == "/items":
			w.Write([]byte(`[` + itemBody("MLA9") + `]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	// 本地订单台账里有 MLA9 的成交记录
	paidAt := time.Now().Add(-24 * time.Hour)
	order := &model.Order{
		TenantID:        1,
		ExternalOrderID: 7001,
		Status:          model.OrderStatusPaid,
		PaidAmount:      100,
		PaidAt:          &paidAt,
	}
	if err := env.orderRepo.Create(ctx, order); err != nil {
		t.Fatalf("预置订单失败: %v", err)
	}
	if err := env.orderRepo.ReplaceItems(ctx, order.ID, []model.OrderItem{{
		TenantID: 1, ListingExternalID: "MLA9", Quantity: 1, UnitPrice: 100, Total: 100,
	}}); err != nil {
		t.Fatalf("预置订单行失败: %v", err)
	}

	resp, err := env.svc.SyncCatalog(ctx, 1)
	if err != nil {
		t.Fatalf("封禁不应让整轮失败: %v", err)
	}
	if !resp.DiscoveryBlocked {
		t.Fatalf("发现通道封禁应被标记")
	}
	if !resp.FallbackUsed {
		t.Fatalf("应启用订单回退通道")
	}
	if resp.Created != 1 {
		t.Fatalf("回退通道应发现 1 个商品，实际 created=%d", resp.Created)
	}

	listing, _ := env.listingRepo.GetByExternalID(ctx, 1, "MLA9")
	if listing == nil {
		t.Fatalf("回退通道的商品未入库")
	}
	if listing.Provenance != model.ProvenanceOrdersFallback {
		t.Fatalf("来源应为 orders_fallback，实际 %q", listing.Provenance)
	}
	if !listing.DiscoveryBlocked {
		t.Fatalf("封禁轮次入库的商品应带 discovery_blocked 标记")
	}
}

// ==================== 部分成功 ====================

func TestSyncCatalog_SingleItemFailureContinues(t *testing.T) {
	env := setupCatalogTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/users/"):
			w.Write([]byte(`{"results":["MLA1","MLA2","MLA3"],"paging":{"total":3}}`))
		case strings.HasSuffix(r.URL.Path, "/prices"):
			w.Write([]byte(`{"id":"x","prices":[]}`))
		case r.URL.Path == "/items":
			// 中间一条被政策封禁，前后两条正常
			w.Write([]byte(`[` + itemBody("MLA1") + `,` +
				`{"code":403,"body":{"id":"MLA2"}},` + itemBody("MLA3") + `]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	resp, err := env.svc.SyncCatalog(ctx, 1)
	if err != nil {
		t.Fatalf("单条失败不应让整轮失败: %v", err)
	}
	if resp.Processed != 3 || resp.Created != 2 {
		t.Fatalf("期望 processed=3 created=2，实际 processed=%d created=%d", resp.Processed, resp.Created)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("失败条目应记账，实际 %d 条", len(resp.Errors))
	}
	if resp.Errors[0].ExternalID != "MLA2" {
		t.Fatalf("失败记账应指向 MLA2，实际 %q", resp.Errors[0].ExternalID)
	}

	count, _ := env.listingRepo.CountByTenant(ctx, 1)
	if count != 2 {
		t.Fatalf("失败条目不应入库，实际 %d 条", count)
	}
}

// ==================== 访问状态对账 ====================

func TestReconcileAccessAndStatus(t *testing.T) {
	env := setupCatalogTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/items":
			w.Write([]byte(`[` + itemBody("MLA1") + `,{"code":403,"body":{"id":"MLA2"}}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	// 两个先前都可访问的商品
	for _, id := range []string{"MLA1", "MLA2"} {
		if err := env.listingRepo.Create(ctx, &model.Listing{
			TenantID:     1,
			ExternalID:   id,
			State:        model.ListingStateActive,
			AccessStatus: model.AccessStatusAccessible,
		}); err != nil {
			t.Fatalf("预置商品失败: %v", err)
		}
	}

	resp, err := env.svc.ReconcileAccessAndStatus(ctx, 1)
	if err != nil {
		t.Fatalf("对账失败: %v", err)
	}
	if resp.Checked != 2 {
		t.Fatalf("应检查 2 条，实际 %d", resp.Checked)
	}
	if resp.BlockedByPolicy != 1 {
		t.Fatalf("应有 1 条政策封禁，实际 %d", resp.BlockedByPolicy)
	}
	if resp.Updated != 1 {
		t.Fatalf("状态变化应为 1 条，实际 %d", resp.Updated)
	}

	blocked, _ := env.listingRepo.GetByExternalID(ctx, 1, "MLA2")
	if blocked.AccessStatus != model.AccessStatusBlocked {
		t.Fatalf("MLA2 应转入 blocked_by_policy，实际 %q", blocked.AccessStatus)
	}
	healthy, _ := env.listingRepo.GetByExternalID(ctx, 1, "MLA1")
	if healthy.AccessStatus != model.AccessStatusAccessible {
		t.Fatalf("MLA1 应保持 accessible，实际 %q", healthy.AccessStatus)
	}
}

func TestReconcile_KeepsFallbackProvenance(t *testing.T) {
	env := setupCatalogTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/items":
			w.Write([]byte(`[` + itemBody("MLA9") + `]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	// 回退通道入库的商品：发现通道仍处于封禁期
	if err := env.listingRepo.Create(ctx, &model.Listing{
		TenantID:         1,
		ExternalID:       "MLA9",
		State:            model.ListingStateActive,
		AccessStatus:     model.AccessStatusAccessible,
		Provenance:       model.ProvenanceOrdersFallback,
		DiscoveryBlocked: true,
	}); err != nil {
		t.Fatalf("预置商品失败: %v", err)
	}

	if _, err := env.svc.ReconcileAccessAndStatus(ctx, 1); err != nil {
		t.Fatalf("对账失败: %v", err)
	}

	// 对账只是逐实体探测，不是 discovery：来源标记必须保持原样
	stored, _ := env.listingRepo.GetByExternalID(ctx, 1, "MLA9")
	if stored.Provenance != model.ProvenanceOrdersFallback {
		t.Fatalf("对账不应把来源洗成 %q", stored.Provenance)
	}
	if !stored.DiscoveryBlocked {
		t.Fatalf("发现通道仍被封禁，discovery_blocked 不应被清除")
	}
	if stored.AccessStatus != model.AccessStatusAccessible {
		t.Fatalf("详情可达的商品应保持 accessible，实际 %q", stored.AccessStatus)
	}
}

func TestSyncCatalog_TransientDiscoveryFailureSkipsFallback(t *testing.T) {
	env := setupCatalogTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/users/"):
			// 发现通道首页瞬时失败
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"internal_error","message":"boom"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	// 即使台账里有可回退的成交记录……
	paidAt := time.Now().Add(-24 * time.Hour)
	order := &model.Order{
		TenantID:        1,
		ExternalOrderID: 7002,
		Status:          model.OrderStatusPaid,
		PaidAmount:      100,
		PaidAt:          &paidAt,
	}
	if err := env.orderRepo.Create(ctx, order); err != nil {
		t.Fatalf("预置订单失败: %v", err)
	}
	if err := env.orderRepo.ReplaceItems(ctx, order.ID, []model.OrderItem{{
		TenantID: 1, ListingExternalID: "MLA9", Quantity: 1, UnitPrice: 100, Total: 100,
	}}); err != nil {
		t.Fatalf("预置订单行失败: %v", err)
	}

	resp, err := env.svc.SyncCatalog(ctx, 1)
	if err != nil {
		t.Fatalf("瞬时失败不应让整轮失败: %v", err)
	}

	// ……瞬时失败既不是封禁也不是确认为空，本轮不得触发回退
	if resp.FallbackUsed {
		t.Fatalf("瞬时失败不应触发订单回退")
	}
	if resp.DiscoveryBlocked {
		t.Fatalf("瞬时失败不应标记封禁")
	}
	if len(resp.Errors) == 0 {
		t.Fatalf("发现通道失败应记账")
	}
	if listing, _ := env.listingRepo.GetByExternalID(ctx, 1, "MLA9"); listing != nil {
		t.Fatalf("本轮不应有商品被打上 orders_fallback 入库")
	}
}

// ==================== 授权吊销上抛 ====================

func TestSyncCatalog_AuthRevokedSurfaced(t *testing.T) {
	env := setupCatalogTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_token","message":"expired"}`))
	})
	ctx := context.Background()

	_, err := env.svc.SyncCatalog(ctx, 1)
	if err == nil {
		t.Fatalf("授权吊销应中止整轮")
	}
	if !meli.IsAuthRevoked(err) {
		t.Fatalf("错误链必须可判定为授权吊销，实际: %v", err)
	}
}
