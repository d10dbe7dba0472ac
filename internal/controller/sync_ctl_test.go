package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"meli_sync_v1_202608/pkg/meli"
)

// ==================== 同步错误出口 ====================

func TestRespondSyncError_AuthRevokedMapsToReconnect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)

	// 服务层的中止错误带着包装层级，出口必须沿错误链判定
	err := fmt.Errorf("租户 1 指标聚合中止，授权已吊销: %w",
		&meli.ApiError{Type: meli.ErrTypeAuthRevoked, Status: 401, Message: "expired"})
	respondSyncError(ctx, err)

	if w.Code != 409 {
		t.Fatalf("授权吊销期望 409，实际 %d", w.Code)
	}

	var resp struct {
		Code int `json:"code"`
		Data struct {
			ReconnectRequired bool `json:"reconnect_required"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !resp.Data.ReconnectRequired {
		t.Fatalf("响应应明确提示重新授权: %s", w.Body.String())
	}
}

func TestRespondSyncError_GenericFailureStays500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)

	respondSyncError(ctx, errors.New("数据库连接失败"))

	if w.Code != 500 {
		t.Fatalf("普通失败期望 500，实际 %d", w.Code)
	}
}
