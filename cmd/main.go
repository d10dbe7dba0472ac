package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"meli_sync_v1_202608/internal/controller"
	"meli_sync_v1_202608/internal/model"
	"meli_sync_v1_202608/internal/repository"
	"meli_sync_v1_202608/internal/router"
	"meli_sync_v1_202608/internal/service"
	"meli_sync_v1_202608/internal/task"
	"meli_sync_v1_202608/pkg/database"
	"meli_sync_v1_202608/pkg/meli"
)

func main() {
	// 1. 初始化数据库
	db := initDatabase()

	// 2. 初始化依赖
	deps := initDependencies(db)

	// 3. 启动定时任务
	initTasks(deps)

	// 4. 初始化路由
	r := gin.Default()
	router.InitRoutes(r, deps.Controllers.Auth, deps.Controllers.Connection,
		deps.Controllers.Listing, deps.Controllers.Sync)

	// 5. 启动服务
	startServer(r, deps)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB          *gorm.DB
	Repos       *Repositories
	Services    *Services
	Controllers *Controllers
	TaskManager *task.TaskManager
	TokenTask   *task.TokenTask
}

// Repositories 仓库集合
type Repositories struct {
	Connection repository.ConnectionRepository
	Listing    repository.ListingRepository
	Order      repository.OrderRepository
	Metric     repository.MetricRepository
}

// Services 服务集合
type Services struct {
	Connection *service.ConnectionService
	Token      *service.TokenService
	Auth       *service.AuthService
	Merge      *service.MergeService
	Price      *service.PriceService
	Catalog    *service.CatalogService
	OrderSync  *service.OrderSyncService
	Metric     *service.MetricService
}

// Controllers 控制器集合
type Controllers struct {
	Auth       *controller.AuthController
	Connection *controller.ConnectionController
	Listing    *controller.ListingController
	Sync       *controller.SyncController
}

// ==================== 初始化函数 ====================

// initDatabase 初始化数据库
func initDatabase() *gorm.DB {
	dsn := getEnv("DATABASE_DSN",
		"host=localhost user=postgres password=postgres dbname=meli_sync port=5432 sslmode=disable TimeZone=UTC")
	return database.InitDB(dsn,
		// Connection
		&model.Connection{},
		// Catalog
		&model.Listing{},
		// Order
		&model.Order{}, &model.OrderItem{},
		// Metric
		&model.ListingDailyMetric{},
	)
}

// initDependencies 初始化所有依赖
func initDependencies(db *gorm.DB) *Dependencies {
	// -------- Repo 层 --------
	repos := &Repositories{
		Connection: repository.NewConnectionRepository(db),
		Listing:    repository.NewListingRepository(db),
		Order:      repository.NewOrderRepository(db),
		Metric:     repository.NewMetricRepository(db),
	}

	// -------- 平台接入配置 --------
	baseURL := getEnv("MELI_API_BASE", meli.DefaultBaseURL)
	authHost := getEnv("MELI_AUTH_HOST", "")
	oauth := &meli.OAuthConfig{
		ClientID:     getEnv("MELI_CLIENT_ID", ""),
		ClientSecret: getEnv("MELI_CLIENT_SECRET", ""),
		RedirectURI:  getEnv("MELI_REDIRECT_URI", "http://localhost:8080/api/oauth/callback"),
	}

	// Token 端点不走 TokenSource，裸 client 即可
	bareClient := meli.NewClient(baseURL, nil)

	// -------- 业务服务 --------
	services := &Services{}
	services.Connection = service.NewConnectionService(repos.Connection)
	services.Token = service.NewTokenService(repos.Connection, bareClient, oauth)
	services.Auth = service.NewAuthService(repos.Connection, bareClient, oauth, authHost)
	services.Merge = service.NewMergeService(repos.Listing)
	services.Price = service.NewPriceService(repos.Listing, priceConfigFromEnv())
	services.Catalog = service.NewCatalogService(
		services.Connection, services.Token, services.Merge, services.Price,
		repos.Listing, repos.Order, baseURL,
	)
	services.OrderSync = service.NewOrderSyncService(
		services.Connection, services.Token, repos.Order, repos.Listing, baseURL,
	)
	services.Metric = service.NewMetricService(
		services.Connection, services.Token, repos.Listing, repos.Order, repos.Metric, baseURL,
	)

	// -------- 任务管理器 --------
	taskManager := task.NewTaskManager(&task.TaskManagerDeps{
		ConnRepo:       repos.Connection,
		CatalogService: services.Catalog,
		OrderService:   services.OrderSync,
		MetricService:  services.Metric,
	}, nil)

	// -------- Controller 层 --------
	controllers := &Controllers{
		Auth:       controller.NewAuthController(services.Auth, services.Token),
		Connection: controller.NewConnectionController(services.Connection),
		Listing:    controller.NewListingController(repos.Listing, repos.Metric),
		Sync:       controller.NewSyncController(taskManager),
	}

	return &Dependencies{
		DB:          db,
		Repos:       repos,
		Services:    services,
		Controllers: controllers,
		TaskManager: taskManager,
		TokenTask:   task.NewTokenTask(repos.Connection, services.Token),
	}
}

// priceConfigFromEnv 价格解析配置
func priceConfigFromEnv() service.PriceConfig {
	cfg := service.DefaultPriceConfig()
	if v := getEnv("PRICE_CHECK_ENABLED", ""); v != "" {
		cfg.Enabled = v == "true"
	}
	if v := getEnv("PRICE_CHECK_TTL_HOURS", ""); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			cfg.TTL = time.Duration(hours) * time.Hour
		}
	}
	return cfg
}

// ==================== 定时任务 ====================

// initTasks 初始化定时任务
func initTasks(deps *Dependencies) {
	// Token 保活（基础设施层，独立于业务任务）
	deps.TokenTask.Start()

	// 目录 / 订单 / 指标
	deps.TaskManager.Start()

	log.Println("定时任务已启动")
}

// ==================== 服务启动 ====================

// startServer 启动服务
func startServer(r *gin.Engine, deps *Dependencies) {
	port := getEnv("SERVER_PORT", "8080")

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// 异步启动服务
	go func() {
		log.Printf("服务启动在 :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 先停任务再停服务
	deps.TaskManager.Stop()
	deps.TokenTask.Stop()

	// 优雅关闭，最多等待 30 秒
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务强制关闭: %v", err)
	}

	log.Println("服务已退出")
}

// getEnv 读取环境变量，缺失时使用默认值
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
