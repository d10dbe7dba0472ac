package database

import (
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 建立 Postgres 连接、配置连接池并自动建表
// DB_DEBUG=true 时打印全部 SQL，线上默认只打慢查询和错误
func InitDB(dsn string, models ...interface{}) *gorm.DB {
	logLevel := logger.Warn
	if os.Getenv("DB_DEBUG") == "true" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		log.Fatalf("[Database] 数据库连接失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("[Database] 获取底层 SQL DB 失败: %v", err)
	}

	// 同步任务会长时间占用连接，池子按任务并发度留余量
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			log.Fatalf("[Database] 自动建表失败: %v", err)
		}
	}

	log.Println("[Database] 数据库连接成功")
	return db
}
