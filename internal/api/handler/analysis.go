package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/anal_graph_server/internal/model/dto"
	"github.com/qs3c/anal_graph_server/internal/pkg/response"
	"github.com/qs3c/anal_graph_server/internal/service"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
	}
}

// Start 启动分析，只等待任务创建
// POST /api/v1/repositories/:id/analyses
func (h *AnalysisHandler) Start(c *gin.Context) {
	repositoryID, ok := parseID(c, "id")
	if !ok {
		return
	}

	jobID, err := h.analysisService.StartAnalysis(c.Request.Context(), repositoryID)
	if err != nil {
		var cooldown *service.CooldownError
		switch {
		case errors.Is(err, service.ErrRepositoryNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrAnalysisInProgress):
			response.ConflictError(c, err.Error())
		case errors.As(err, &cooldown):
			response.RetryLater(c, err.Error(), cooldown.RemainingSeconds())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "分析已开始", &dto.StartAnalysisResponse{JobID: jobID})
}

// GetLatest 获取仓库最近一次任务
// GET /api/v1/repositories/:id/analyses/latest
func (h *AnalysisHandler) GetLatest(c *gin.Context) {
	repositoryID, ok := parseID(c, "id")
	if !ok {
		return
	}

	resp, err := h.analysisService.GetLatestJob(c.Request.Context(), repositoryID)
	if err != nil {
		if errors.Is(err, service.ErrRepositoryNotFound) || errors.Is(err, service.ErrJobNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, resp)
}

// GetJob 获取任务状态
// GET /api/v1/jobs/:id
func (h *AnalysisHandler) GetJob(c *gin.Context) {
	jobID, ok := parseID(c, "id")
	if !ok {
		return
	}

	resp, err := h.analysisService.GetJobStatus(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, resp)
}

// parseID 解析路径中的正整数 ID，失败时已写入参数错误
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "无效的ID")
		return 0, false
	}
	return id, true
}
