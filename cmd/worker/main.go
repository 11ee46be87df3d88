package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/qs3c/anal_graph_server/config"
	"github.com/qs3c/anal_graph_server/internal/analyzer"
	"github.com/qs3c/anal_graph_server/internal/database"
	"github.com/qs3c/anal_graph_server/internal/pkg/oss"
	"github.com/qs3c/anal_graph_server/internal/pkg/pubsub"
	"github.com/qs3c/anal_graph_server/internal/pkg/queue"
	"github.com/qs3c/anal_graph_server/internal/repository"
	"github.com/qs3c/anal_graph_server/internal/synchronizer"
	"github.com/qs3c/anal_graph_server/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化数据库
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化图存储
	graph, err := database.NewGraphStore(ctx, &cfg.Graph)
	if err != nil {
		log.Fatalf("Failed to open graph store: %v", err)
	}
	defer graph.Close()

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 OSS（可选）
	var uploader worker.SnapshotUploader
	if oss.Enabled(&cfg.OSS) {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			uploader = ossClient
			log.Println("OSS client initialized")
		}
	}

	client, err := analyzer.NewMCPClient(cfg.Analyzer)
	if err != nil {
		log.Fatalf("Failed to init analyzer client: %v", err)
	}

	// 初始化 Queue 和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository
	jobRepo := repository.NewJobRepository(db)
	syncer := synchronizer.New(
		repository.NewFileRepository(db),
		repository.NewEntityRepository(db),
		graph,
		cfg.Analysis.EntityConcurrency,
	)

	// 创建任务处理器
	processor := worker.NewProcessor(
		jobRepo,
		syncer,
		client,
		publisher,
		worker.NewArchiver(uploader, cfg.Analysis.SnapshotDir),
		cfg,
	)

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	log.Printf("Worker started, max workers: %d", cfg.Queue.MaxWorkers)

	// 启动 worker 循环
	var wg sync.WaitGroup
	for i := 0; i < cfg.Queue.MaxWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					log.Printf("Worker %d shutting down", workerID)
					return
				default:
					// 从队列获取任务
					msg, err := jobQueue.Pop(ctx, 5*time.Second)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("Worker %d: failed to pop job: %v", workerID, err)
						continue
					}

					if msg == nil {
						continue // 超时，继续等待
					}

					log.Printf("Worker %d: processing job %d", workerID, msg.JobID)
					if err := processor.Process(ctx, msg); err != nil {
						log.Printf("Worker %d: job %d failed: %v", workerID, msg.JobID, err)
					}
				}
			}
		}(i)
	}

	wg.Wait()
	log.Println("Worker shutdown complete")
}
