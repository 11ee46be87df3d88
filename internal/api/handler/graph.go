package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/anal_graph_server/internal/pkg/response"
	"github.com/qs3c/anal_graph_server/internal/service"
)

type GraphHandler struct {
	graphService *service.GraphService
}

func NewGraphHandler(graphService *service.GraphService) *GraphHandler {
	return &GraphHandler{
		graphService: graphService,
	}
}

// GetRepositoryGraph 分页获取仓库依赖图
// GET /api/v1/repositories/:id/graph?limit=&offset=
func (h *GraphHandler) GetRepositoryGraph(c *gin.Context) {
	repositoryID, ok := parseID(c, "id")
	if !ok {
		return
	}
	page, ok := parsePage(c)
	if !ok {
		return
	}

	resp, err := h.graphService.GetRepositoryGraph(c.Request.Context(), repositoryID, page)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, resp)
}

// GetFilesByType 按文件类型过滤
// GET /api/v1/repositories/:id/graph/files?type=&limit=&offset=
func (h *GraphHandler) GetFilesByType(c *gin.Context) {
	repositoryID, ok := parseID(c, "id")
	if !ok {
		return
	}
	page, ok := parsePage(c)
	if !ok {
		return
	}

	resp, err := h.graphService.GetFilesByType(c.Request.Context(), repositoryID, c.Query("type"), page)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, resp)
}

// GetCycles 循环依赖
// GET /api/v1/repositories/:id/cycles
func (h *GraphHandler) GetCycles(c *gin.Context) {
	repositoryID, ok := parseID(c, "id")
	if !ok {
		return
	}

	resp, err := h.graphService.FindCircularDependencies(c.Request.Context(), repositoryID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, resp)
}

// GetDependencies 文件依赖，fileId 为 URL 编码后的跨库键
// GET /api/v1/files/:fileId/dependencies?depth=
func (h *GraphHandler) GetDependencies(c *gin.Context) {
	depth, ok := parseDepth(c)
	if !ok {
		return
	}

	resp, err := h.graphService.GetFileDependencies(c.Request.Context(), c.Param("fileId"), depth)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, resp)
}

// GetDependents 依赖该文件的文件
// GET /api/v1/files/:fileId/dependents?depth=
func (h *GraphHandler) GetDependents(c *gin.Context) {
	depth, ok := parseDepth(c)
	if !ok {
		return
	}

	resp, err := h.graphService.GetFileDependents(c.Request.Context(), c.Param("fileId"), depth)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *GraphHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDepth), errors.Is(err, service.ErrInvalidFileType):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrFileNotFound):
		response.NotFoundError(c, err.Error())
	default:
		response.ServerError(c, "")
	}
}

func parsePage(c *gin.Context) (service.Page, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		response.ParamError(c, "limit 必须是整数")
		return service.Page{}, false
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		response.ParamError(c, "offset 必须是非负整数")
		return service.Page{}, false
	}
	return service.Page{Limit: limit, Offset: offset}, true
}

// parseDepth 缺省为 1
func parseDepth(c *gin.Context) (int, bool) {
	depth, err := strconv.Atoi(c.DefaultQuery("depth", "1"))
	if err != nil {
		response.ParamError(c, service.ErrInvalidDepth.Error())
		return 0, false
	}
	return depth, true
}
