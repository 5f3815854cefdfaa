package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditsync/internal/config"
	"creditsync/internal/handler"
	"creditsync/internal/infrastructure/backend"
	"creditsync/internal/infrastructure/cache"
	"creditsync/internal/infrastructure/database"
	"creditsync/internal/infrastructure/mq"
	"creditsync/internal/job"
	"creditsync/internal/service"
	"creditsync/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg := config.LoadConfig(*configPath)

	// 初始化 ID 生成器
	idgen.Init(cfg.Server.WorkerID)

	// 初始化数据库
	db := database.InitDB(&cfg.Database)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)
	defer redisClient.Close()

	// 远端账户服务
	accountBackend := backend.NewClient(&cfg.Backend)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			log.Fatalf("Kafka 初始化失败: %v", err)
		}
		defer producer.Close()

		outboxSender := job.NewOutboxSender(db, producer, cfg)
		go outboxSender.Start(ctx)
	} else {
		log.Println("Kafka 未启用，账本事件只写入本地消息表")
	}

	if cfg.Business.StaleSyncEnabled {
		syncService := service.NewSyncService(db, redisClient, accountBackend, cfg)
		staleSyncJob := job.NewStaleSyncJob(syncService, cfg)
		go staleSyncJob.Start(ctx)
	}

	// 设置路由
	router := handler.SetupRouter(db, redisClient, accountBackend, cfg)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
