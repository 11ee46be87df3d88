package handler

import (
	"fmt"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_graph_server/internal/model/dto"
	"github.com/qs3c/anal_graph_server/internal/pkg/response"
	"github.com/qs3c/anal_graph_server/internal/repository"
	"github.com/qs3c/anal_graph_server/internal/service"
	"github.com/qs3c/anal_graph_server/internal/testutil"
)

func setupRepositoryRouter(t *testing.T) *gin.Engine {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	h := NewRepositoryHandler(service.NewRepositoryService(repository.NewRepositoryRepository(db)))
	router := gin.New()
	router.Use(mockAuth(1))
	router.POST("/repositories", h.Create)
	router.GET("/repositories", h.List)
	router.GET("/repositories/:id", h.Get)
	return router
}

func TestRepositoryHandler_CreateAndGet(t *testing.T) {
	router := setupRepositoryRouter(t)

	w := performRequest(router, "POST", "/repositories", dto.CreateRepositoryRequest{
		URL: "https://github.com/example/widgets",
	})
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	var created dto.RepositoryInfo
	decodeData(t, resp, &created)
	assert.Equal(t, "widgets", created.Name)

	resp = parseResponse(t, performRequest(router, "GET", fmt.Sprintf("/repositories/%d", created.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)
	var got dto.RepositoryInfo
	decodeData(t, resp, &got)
	assert.Equal(t, created.URL, got.URL)
}

func TestRepositoryHandler_Create_Invalid(t *testing.T) {
	router := setupRepositoryRouter(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing url", map[string]string{"name": "x"}},
		{"bad scheme", dto.CreateRepositoryRequest{URL: "ftp://github.com/a/b"}},
		{"plain http", dto.CreateRepositoryRequest{URL: "http://github.com/a/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := parseResponse(t, performRequest(router, "POST", "/repositories", tt.body))
			assert.Equal(t, response.CodeParamError, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestRepositoryHandler_Get_NotFound(t *testing.T) {
	router := setupRepositoryRouter(t)

	resp := parseResponse(t, performRequest(router, "GET", "/repositories/42", nil))
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}

func TestRepositoryHandler_List(t *testing.T) {
	router := setupRepositoryRouter(t)
	for _, name := range []string{"one", "two", "three"} {
		resp := parseResponse(t, performRequest(router, "POST", "/repositories", dto.CreateRepositoryRequest{
			URL: "https://github.com/example/" + name,
		}))
		require.Equal(t, response.CodeSuccess, resp.Code)
	}

	resp := parseResponse(t, performRequest(router, "GET", "/repositories?page=1&page_size=2", nil))
	require.Equal(t, response.CodeSuccess, resp.Code)

	var page struct {
		Total int64                 `json:"total"`
		Items []*dto.RepositoryInfo `json:"items"`
	}
	decodeData(t, resp, &page)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Items, 2)
}
