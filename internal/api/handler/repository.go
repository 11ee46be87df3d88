package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/anal_graph_server/internal/model/dto"
	"github.com/qs3c/anal_graph_server/internal/pkg/response"
	"github.com/qs3c/anal_graph_server/internal/service"
	"github.com/qs3c/anal_graph_server/internal/worker"
)

type RepositoryHandler struct {
	repositoryService *service.RepositoryService
}

func NewRepositoryHandler(repositoryService *service.RepositoryService) *RepositoryHandler {
	return &RepositoryHandler{
		repositoryService: repositoryService,
	}
}

// Create 登记仓库
// POST /api/v1/repositories
func (h *RepositoryHandler) Create(c *gin.Context) {
	var req dto.CreateRepositoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	info, err := h.repositoryService.Create(c.Request.Context(), &req)
	if err != nil {
		var urlErr *worker.RepoURLError
		if errors.As(err, &urlErr) {
			response.ParamError(c, urlErr.UserMessage)
			return
		}
		response.ServerError(c, "")
		return
	}

	response.SuccessWithMessage(c, "创建成功", info)
}

// Get 获取仓库
// GET /api/v1/repositories/:id
func (h *RepositoryHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	info, err := h.repositoryService.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrRepositoryNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, info)
}

// List 获取仓库列表
// GET /api/v1/repositories
func (h *RepositoryHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	resp, err := h.repositoryService.List(c.Request.Context(), page, pageSize)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, resp.Total, resp.Page, resp.PageSize, resp.Repositories)
}
