package service

import (
	"context"
	"net/http"
	"net/http/httptest"
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

func setupTokenTest(t *testing.T, handler http.HandlerFunc) (*TokenService, repository.ConnectionRepository) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.Connection{}); err != nil {
		t.Fatalf("建表失败: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	repo := repository.NewConnectionRepository(db)
	oauth := &meli.OAuthConfig{ClientID: "app", ClientSecret: "secret"}
	svc := NewTokenService(repo, meli.NewClient(server.URL, nil), oauth)
	return svc, repo
}

func seedConn(t *testing.T, repo repository.ConnectionRepository, access, refresh string, expiresAt time.Time) *model.Connection {
	conn := &model.Connection{
		TenantID:       1,
		MeliUserID:     100,
		AccessToken:    access,
		RefreshToken:   refresh,
		TokenExpiresAt: expiresAt,
		Status:         model.ConnStatusActive,
	}
	if err := repo.Create(context.Background(), conn); err != nil {
		t.Fatalf("预置连接失败: %v", err)
	}
	return conn
}

// ==================== Token 获取与刷新 ====================

func TestGetValidToken_FreshTokenNoNetwork(t *testing.T) {
	var calls int
	svc, repo := setupTokenTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})
	conn := seedConn(t, repo, "fresh-token", "refresh", time.Now().Add(time.Hour))

	vt, err := svc.GetValidToken(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("获取失败: %v", err)
	}
	if vt.Token != "fresh-token" || vt.UsedRefresh {
		t.Fatalf("充足有效的 token 应直接返回: token=%q usedRefresh=%v", vt.Token, vt.UsedRefresh)
	}
	if calls != 0 {
		t.Fatalf("有效 token 不应有任何网络调用，实际 %d 次", calls)
	}
}

func TestGetValidToken_RefreshPersists(t *testing.T) {
	svc, repo := setupTokenTest(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil {
			if r.Form.Get("grant_type") != "refresh_token" {
				t.Errorf("期望 refresh_token grant，实际 %q", r.Form.Get("grant_type"))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":21600,"user_id":100}`))
	})
	conn := seedConn(t, repo, "stale", "old-refresh", time.Now().Add(-time.Hour))

	ctx := context.Background()
	vt, err := svc.GetValidToken(ctx, conn.ID)
	if err != nil {
		t.Fatalf("刷新失败: %v", err)
	}
	if vt.Token != "new-access" || !vt.UsedRefresh {
		t.Fatalf("应走刷新通道: token=%q usedRefresh=%v", vt.Token, vt.UsedRefresh)
	}

	// 新旧 token 都要落库（refresh token 是单次使用的）
	stored, _ := repo.GetByID(ctx, conn.ID)
	if stored.AccessToken != "new-access" || stored.RefreshToken != "new-refresh" {
		t.Fatalf("刷新结果未持久化: access=%q refresh=%q", stored.AccessToken, stored.RefreshToken)
	}
	if !stored.TokenExpiresAt.After(time.Now().Add(time.Hour)) {
		t.Fatalf("过期时间未更新: %v", stored.TokenExpiresAt)
	}
}

func TestGetValidToken_SafetyMarginTriggersRefresh(t *testing.T) {
	var calls int
	svc, repo := setupTokenTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"margin-refresh","refresh_token":"r2","expires_in":21600}`))
	})
	// 30 秒后过期：落在 60 秒安全边界内
	conn := seedConn(t, repo, "closing", "refresh", time.Now().Add(30*time.Second))

	vt, err := svc.GetValidToken(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("获取失败: %v", err)
	}
	if calls != 1 || !vt.UsedRefresh {
		t.Fatalf("安全边界内应提前刷新: calls=%d usedRefresh=%v", calls, vt.UsedRefresh)
	}
}

// ==================== 终止与瞬时失败 ====================

func TestGetValidToken_InvalidGrantMarksReauth(t *testing.T) {
	svc, repo := setupTokenTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid grant","error":"invalid_grant"}`))
	})
	conn := seedConn(t, repo, "stale", "dead-refresh", time.Now().Add(-time.Hour))

	ctx := context.Background()
	_, err := svc.GetValidToken(ctx, conn.ID)
	if !meli.IsAuthRevoked(err) {
		t.Fatalf("invalid_grant 应判定授权失效: %v", err)
	}

	// 终止状态与错误元数据都要留档
	stored, _ := repo.GetByID(ctx, conn.ID)
	if stored.Status != model.ConnStatusReauthNeeded {
		t.Fatalf("连接应转入 reauth_required，实际 %q", stored.Status)
	}
	if stored.LastErrorCode != "invalid_grant" {
		t.Fatalf("平台错误码应留档，实际 %q", stored.LastErrorCode)
	}
	if stored.LastErrorAt == nil {
		t.Fatalf("错误时间应留档")
	}
}

func TestGetValidToken_MissingRefreshTokenIsTerminal(t *testing.T) {
	var calls int
	svc, repo := setupTokenTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})
	conn := seedConn(t, repo, "stale", "", time.Now().Add(-time.Hour))

	ctx := context.Background()
	_, err := svc.GetValidToken(ctx, conn.ID)
	if !meli.IsAuthRevoked(err) {
		t.Fatalf("无 refresh token 应判定授权失效: %v", err)
	}
	if calls != 0 {
		t.Fatalf("无 refresh token 不应发起网络调用，实际 %d 次", calls)
	}

	stored, _ := repo.GetByID(ctx, conn.ID)
	if stored.Status != model.ConnStatusReauthNeeded {
		t.Fatalf("连接应转入 reauth_required，实际 %q", stored.Status)
	}
}

func TestGetValidToken_TransientFailureKeepsState(t *testing.T) {
	svc, repo := setupTokenTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"upstream down"}`))
	})
	conn := seedConn(t, repo, "stale", "good-refresh", time.Now().Add(-time.Hour))

	ctx := context.Background()
	_, err := svc.GetValidToken(ctx, conn.ID)
	if err == nil {
		t.Fatalf("服务端失败应返回错误")
	}
	if meli.IsAuthRevoked(err) {
		t.Fatalf("服务端失败是瞬时错误，不应判定授权失效: %v", err)
	}

	// 瞬时失败不许动连接状态，下一轮可重试
	stored, _ := repo.GetByID(ctx, conn.ID)
	if stored.Status != model.ConnStatusActive {
		t.Fatalf("瞬时失败不应改变连接状态，实际 %q", stored.Status)
	}
	if stored.RefreshToken != "good-refresh" {
		t.Fatalf("瞬时失败不应动 refresh token，实际 %q", stored.RefreshToken)
	}
}

func TestForceRefresh_BypassesValidity(t *testing.T) {
	var calls int
	svc, repo := setupTokenTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"forced","refresh_token":"r2","expires_in":21600}`))
	})
	// token 仍然有效，但强制刷新要无条件走网络
	conn := seedConn(t, repo, "still-good", "refresh", time.Now().Add(time.Hour))

	vt, err := svc.ForceRefresh(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("强制刷新失败: %v", err)
	}
	if calls != 1 || vt.Token != "forced" {
		t.Fatalf("强制刷新应无视剩余有效期: calls=%d token=%q", calls, vt.Token)
	}
}
