package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qs3c/anal_graph_server/config"
	"github.com/qs3c/anal_graph_server/internal/api/handler"
	"github.com/qs3c/anal_graph_server/internal/api/middleware"
)

type Router struct {
	repositoryHandler *handler.RepositoryHandler
	analysisHandler   *handler.AnalysisHandler
	graphHandler      *handler.GraphHandler
	websocketHandler  *handler.WebSocketHandler
	cfg               *config.Config
}

func NewRouter(
	repositoryHandler *handler.RepositoryHandler,
	analysisHandler *handler.AnalysisHandler,
	graphHandler *handler.GraphHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		repositoryHandler: repositoryHandler,
		analysisHandler:   analysisHandler,
		graphHandler:      graphHandler,
		websocketHandler:  websocketHandler,
		cfg:               cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	// 文件 ID 中含有 '/'，客户端需 URL 编码后放入路径
	engine.UseRawPath = true
	engine.UnescapePathValues = true

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	{
		// WebSocket，token 走查询参数
		api.GET("/ws", r.websocketHandler.Handle)

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 仓库
			repositories := authenticated.Group("/repositories")
			{
				repositories.POST("", r.repositoryHandler.Create)
				repositories.GET("", r.repositoryHandler.List)
				repositories.GET("/:id", r.repositoryHandler.Get)

				// 分析任务
				repositories.POST("/:id/analyses", r.analysisHandler.Start)
				repositories.GET("/:id/analyses/latest", r.analysisHandler.GetLatest)

				// 图查询
				repositories.GET("/:id/graph", r.graphHandler.GetRepositoryGraph)
				repositories.GET("/:id/graph/files", r.graphHandler.GetFilesByType)
				repositories.GET("/:id/cycles", r.graphHandler.GetCycles)
			}

			authenticated.GET("/jobs/:id", r.analysisHandler.GetJob)

			files := authenticated.Group("/files")
			{
				files.GET("/:fileId/dependencies", r.graphHandler.GetDependencies)
				files.GET("/:fileId/dependents", r.graphHandler.GetDependents)
			}
		}
	}

	return engine
}
