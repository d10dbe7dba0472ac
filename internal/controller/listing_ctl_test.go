package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"meli_sync_v1_202608/internal/model"
	"meli_sync_v1_202608/internal/repository"
)

func setupListingRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.Listing{}, &model.ListingDailyMetric{}); err != nil {
		t.Fatalf("迁移表失败: %v", err)
	}

	ctl := NewListingController(
		repository.NewListingRepository(db),
		repository.NewMetricRepository(db),
	)

	r := gin.New()
	r.GET("/api/v1/listings", ctl.List)
	r.GET("/api/v1/listings/metrics", ctl.Metrics)
	return r, db
}

func seedListing(t *testing.T, db *gorm.DB, tenantID int64, externalID, title, state, provenance string) *model.Listing {
	t.Helper()
	l := &model.Listing{
		TenantID:     tenantID,
		ExternalID:   externalID,
		Title:        title,
		State:        state,
		AccessStatus: model.AccessStatusAccessible,
		Provenance:   provenance,
	}
	if err := db.Create(l).Error; err != nil {
		t.Fatalf("创建商品失败: %v", err)
	}
	return l
}

func doGet(r *gin.Engine, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestListingList_MissingTenantRejected(t *testing.T) {
	r, _ := setupListingRouter(t)

	w := doGet(r, "/api/v1/listings")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("缺 tenant_id 期望 400, 实际 %d", w.Code)
	}
}

func TestListingList_FilterAndPagination(t *testing.T) {
	r, db := setupListingRouter(t)

	seedListing(t, db, 1, "MLA1", "Zapatillas running", model.ListingStateActive, model.ProvenanceSearch)
	seedListing(t, db, 1, "MLA2", "Zapatillas urbanas", model.ListingStatePaused, model.ProvenanceSearch)
	seedListing(t, db, 1, "MLA3", "Remera básica", model.ListingStateActive, model.ProvenanceOrdersFallback)
	seedListing(t, db, 2, "MLA4", "Zapatillas ajenas", model.ListingStateActive, model.ProvenanceSearch)

	cases := []struct {
		name      string
		query     string
		wantTotal int64
	}{
		{"按租户", "tenant_id=1", 3},
		{"按状态", "tenant_id=1&state=active", 2},
		{"按来源", "tenant_id=1&provenance=orders_fallback", 1},
		{"按关键字", "tenant_id=1&keyword=Zapatillas", 2},
		{"租户隔离", "tenant_id=2", 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doGet(r, "/api/v1/listings?"+tc.query)
			if w.Code != http.StatusOK {
				t.Fatalf("期望 200, 实际 %d, body=%s", w.Code, w.Body.String())
			}

			var resp struct {
				Data struct {
					Total int64 `json:"total"`
					List  []struct {
						ExternalID string `json:"external_id"`
					} `json:"list"`
				} `json:"data"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("解析响应失败: %v", err)
			}
			if resp.Data.Total != tc.wantTotal {
				t.Fatalf("期望 total=%d, 实际 %d", tc.wantTotal, resp.Data.Total)
			}
			if int64(len(resp.Data.List)) != tc.wantTotal {
				t.Fatalf("期望返回 %d 条, 实际 %d 条", tc.wantTotal, len(resp.Data.List))
			}
		})
	}

	// 分页: page_size=2 时第一页 2 条 total 不变
	w := doGet(r, "/api/v1/listings?tenant_id=1&page=1&page_size=2")
	var resp struct {
		Data struct {
			Total int64             `json:"total"`
			List  []json.RawMessage `json:"list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析分页响应失败: %v", err)
	}
	if resp.Data.Total != 3 {
		t.Fatalf("分页后 total 期望 3, 实际 %d", resp.Data.Total)
	}
	if len(resp.Data.List) != 2 {
		t.Fatalf("第一页期望 2 条, 实际 %d 条", len(resp.Data.List))
	}
}

func TestListingMetrics_RangeQuery(t *testing.T) {
	r, db := setupListingRouter(t)

	l := seedListing(t, db, 1, "MLA1", "Zapatillas running", model.ListingStateActive, model.ProvenanceSearch)

	visits := 7
	rows := []model.ListingDailyMetric{
		{
			TenantID:  1,
			ListingID: l.ID,
			Date:      time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
			Visits:    &visits,
			Orders:    2,
			GMV:       decimal.NewFromInt(300),
			Source:    model.MetricSourceMixed,
		},
		{
			TenantID:  1,
			ListingID: l.ID,
			Date:      time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC),
			Visits:    nil,
			Orders:    0,
			GMV:       decimal.Zero,
			Source:    model.MetricSourceTraffic,
		},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("写入指标失败: %v", err)
	}

	url := fmt.Sprintf("/api/v1/listings/metrics?tenant_id=1&listing_id=%d&from=2026-08-25&to=2026-08-26", l.ID)
	w := doGet(r, url)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Data []struct {
			Date   string `json:"date"`
			Visits *int   `json:"visits"`
			Orders int    `json:"orders"`
			GMV    string `json:"gmv"`
			Source string `json:"source"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析指标响应失败: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("期望 2 行指标, 实际 %d 行", len(resp.Data))
	}

	first := resp.Data[0]
	if first.Date != "2026-08-25" {
		t.Fatalf("首行日期期望 2026-08-25, 实际 %s", first.Date)
	}
	if first.Visits == nil || *first.Visits != 7 {
		t.Fatalf("首行 visits 期望 7, 实际 %v", first.Visits)
	}
	if first.Orders != 2 || first.GMV != "300.00" {
		t.Fatalf("首行订单/GMV 期望 2/300.00, 实际 %d/%s", first.Orders, first.GMV)
	}

	second := resp.Data[1]
	if second.Visits != nil {
		t.Fatalf("未知流量应序列化为 null, 实际 %v", *second.Visits)
	}
	if second.GMV != "0.00" {
		t.Fatalf("次行 GMV 期望 0.00, 实际 %s", second.GMV)
	}
}

func TestListingMetrics_BadDateRejected(t *testing.T) {
	r, _ := setupListingRouter(t)

	cases := []string{
		"tenant_id=1&listing_id=1&from=2026-8-25&to=2026-08-26",
		"tenant_id=1&listing_id=1&from=2026-08-25&to=hoy",
		"listing_id=1&from=2026-08-25&to=2026-08-26",
	}
	for _, q := range cases {
		w := doGet(r, "/api/v1/listings/metrics?"+q)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("非法参数 %q 期望 400, 实际 %d", q, w.Code)
		}
	}
}
