package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/anal_graph_server/config"
	"github.com/qs3c/anal_graph_server/internal/analyzer"
	"github.com/qs3c/anal_graph_server/internal/api"
	"github.com/qs3c/anal_graph_server/internal/api/handler"
	"github.com/qs3c/anal_graph_server/internal/database"
	"github.com/qs3c/anal_graph_server/internal/pkg/cron"
	"github.com/qs3c/anal_graph_server/internal/pkg/lock"
	"github.com/qs3c/anal_graph_server/internal/pkg/oss"
	"github.com/qs3c/anal_graph_server/internal/pkg/pubsub"
	"github.com/qs3c/anal_graph_server/internal/pkg/queue"
	"github.com/qs3c/anal_graph_server/internal/pkg/ws"
	"github.com/qs3c/anal_graph_server/internal/repository"
	"github.com/qs3c/anal_graph_server/internal/service"
	"github.com/qs3c/anal_graph_server/internal/synchronizer"
	"github.com/qs3c/anal_graph_server/internal/worker"
)

const startLockTTL = 30 * time.Second

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化数据库
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Printf("Database connected (%s)", cfg.Database.Driver)

	// 初始化图存储
	graph, err := database.NewGraphStore(ctx, &cfg.Graph)
	if err != nil {
		log.Fatalf("Failed to open graph store: %v", err)
	}
	defer graph.Close()
	log.Printf("Graph store opened (%s)", cfg.Graph.Driver)

	// 初始化 Redis（inline 模式下可选）
	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb, err = database.NewRedis(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect redis: %v", err)
		}
		log.Println("Redis connected")
	} else if cfg.Analysis.Dispatch == "queue" {
		log.Fatalf("Redis is required when analysis.dispatch is queue")
	}

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

	// 初始化 WebSocket Hub
	wsHub := ws.NewHub()
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins)

	// 初始化 Repository
	repoRepo := repository.NewRepositoryRepository(db)
	jobRepo := repository.NewJobRepository(db)
	fileRepo := repository.NewFileRepository(db)
	entityRepo := repository.NewEntityRepository(db)

	// 启动锁与任务派发
	var locker lock.Locker = lock.NewLocalLocker()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, startLockTTL)
	}

	var dispatcher service.Dispatcher
	switch cfg.Analysis.Dispatch {
	case "queue":
		dispatcher = queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
		log.Printf("Analysis jobs dispatched to queue %s", cfg.Queue.AnalysisQueue)
	case "inline":
		client, err := analyzer.NewMCPClient(cfg.Analyzer)
		if err != nil {
			log.Fatalf("Failed to init analyzer client: %v", err)
		}
		// 单进程时进度直接推给本地连接，多实例时经 Redis 广播
		var publisher worker.ProgressPublisher = websocketHandler
		if rdb != nil {
			publisher = pubsub.NewPublisher(rdb)
		}
		processor := worker.NewProcessor(
			jobRepo,
			synchronizer.New(fileRepo, entityRepo, graph, cfg.Analysis.EntityConcurrency),
			client,
			publisher,
			worker.NewArchiver(uploader, cfg.Analysis.SnapshotDir),
			cfg,
		)
		dispatcher = worker.NewInlineDispatcher(ctx, processor)
		log.Println("Analysis jobs run inline")
	default:
		log.Fatalf("Unsupported analysis.dispatch: %s", cfg.Analysis.Dispatch)
	}

	// 进度订阅
	if rdb != nil {
		subscriber := pubsub.NewSubscriber(rdb)
		go func() {
			if err := subscriber.Subscribe(ctx, websocketHandler.ForwardProgress); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Progress subscriber stopped: %v", err)
			}
		}()
	}

	// 后台任务
	var graphGC cron.GraphGC
	if gc, ok := graph.(cron.GraphGC); ok {
		graphGC = gc
	}
	cronService := cron.NewService(
		jobRepo,
		graphGC,
		cfg.Analysis.SnapshotDir,
		cfg.Analysis.StaleAfter(),
		time.Duration(cfg.Graph.Badger.GCIntervalMinutes)*time.Minute,
	)
	cronService.Start()
	defer cronService.Stop()

	if uploader != nil {
		go worker.NewReuploader(jobRepo, uploader, cfg.Analysis.SnapshotDir).Start(ctx)
	}

	// 初始化 Service
	repositoryService := service.NewRepositoryService(repoRepo)
	analysisService := service.NewAnalysisService(repoRepo, jobRepo, locker, dispatcher, cfg)
	graphService := service.NewGraphService(graph, fileRepo, entityRepo)

	// 初始化 Router
	router := api.NewRouter(
		handler.NewRepositoryHandler(repositoryService),
		handler.NewAnalysisHandler(analysisService),
		handler.NewGraphHandler(graphService),
		websocketHandler,
		cfg,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
	}

	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	cancel()
	log.Println("Server shutdown complete")
}
