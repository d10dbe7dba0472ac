package task

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/internal/service"
	"meli_sync_v1_202608/pkg/meli"
)

// Token 保活的提前量：距过期不足 90 分钟即刷新
const tokenRefreshWindow = 90 * time.Minute

// TokenTask Token 保活任务
// 平台 Access Token 6 小时有效，Refresh Token 一次性使用，
// 提前主动续期避免同步任务在半路撞上 401
type TokenTask struct {
	connRepo     repository.ConnectionRepository
	tokenService *service.TokenService
	cron         *cron.Cron

	// 控制并发刷新的数量
	concurrencyLimit int
	sleepTime        time.Duration
}

// NewTokenTask 创建 Token 保活任务
func NewTokenTask(connRepo repository.ConnectionRepository, tokenService *service.TokenService) *TokenTask {
	return &TokenTask{
		connRepo:         connRepo,
		tokenService:     tokenService,
		cron:             cron.New(cron.WithSeconds()), // 支持秒级控制
		concurrencyLimit: 10,
		sleepTime:        50 * time.Millisecond, // 每个协程启动间隔，平滑波峰
	}
}

// Start 启动定时任务
func (t *TokenTask) Start() {
	// 首次执行
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		log.Println("[TokenTask] 服务启动，正在执行首次 Token 检查...")
		t.refreshJob(ctx)
	}()

	// 定时策略
	_, err := t.cron.AddFunc("0 0/40 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		t.refreshJob(ctx)
	})
	if err != nil {
		log.Fatalf("无法启动 Token 定时任务: %v", err)
	}

	t.cron.Start()
	log.Println("[TokenTask] Token 保活任务已启动 (每40分钟检查一次)")
}

// Stop 停止任务
func (t *TokenTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[TokenTask] 已停止")
}

// refreshJob 自动刷新逻辑
// 返回本轮的成功/失败/吊销计数，吊销的连接已由 TokenService 落 reauth_required
func (t *TokenTask) refreshJob(ctx context.Context) (ok, failed, revoked int) {
	conns, err := t.connRepo.FindExpiring(ctx, tokenRefreshWindow)
	if err != nil {
		log.Printf("[TokenTask] 临期连接查询失败: %v", err)
		return
	}
	if len(conns) == 0 {
		return
	}

	sem := make(chan struct{}, t.concurrencyLimit)
	var wg sync.WaitGroup

	log.Printf("[TokenTask] 开始处理 %d 个连接的 Token 刷新，并发上限: %d", len(conns), t.concurrencyLimit)

	var mu sync.Mutex

	for i := range conns {
		conn := conns[i]
		select {
		case <-ctx.Done():
			log.Println("[TokenTask] 任务超时停止")
			wg.Wait()
			return
		default:
		}

		sem <- struct{}{}
		wg.Add(1)
		time.Sleep(t.sleepTime)

		go func(connID, tenantID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := t.tokenService.ForceRefresh(ctx, connID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("[TokenTask] 连接 %d (租户 %d) 刷新失败: %v", connID, tenantID, err)
				if meli.IsAuthRevoked(err) {
					// TokenService 已把该连接落成 reauth_required
					revoked++
				} else {
					failed++
				}
				return
			}
			ok++
		}(conn.ID, conn.TenantID)
	}

	wg.Wait()
	log.Printf("[TokenTask] 刷新完成: 成功 %d, 失败 %d, 吊销 %d", ok, failed, revoked)
	return ok, failed, revoked
}

// RefreshNow 手动触发一轮保活
func (t *TokenTask) RefreshNow() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		t.refreshJob(ctx)
	}()
}
