package handler

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_graph_server/internal/graphstore"
	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/model/dto"
	"github.com/qs3c/anal_graph_server/internal/pkg/response"
	"github.com/qs3c/anal_graph_server/internal/repository"
	"github.com/qs3c/anal_graph_server/internal/service"
	"github.com/qs3c/anal_graph_server/internal/testutil"
)

// setupGraphRouter 建立 a -> b -> c -> a 的环以及独立的 d.css
func setupGraphRouter(t *testing.T) (*gin.Engine, *model.Repository) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	graph := testutil.SetupGraphStore(t)
	repo := testutil.TestRepository(t, db)
	ctx := context.Background()

	var nodes []graphstore.FileNode
	for _, p := range []string{"src/a.ts", "src/b.ts", "src/c.ts", "styles/d.css"} {
		f := testutil.TestFile(t, db, repo.ID, p)
		nodes = append(nodes, graphstore.FileNode{
			ID:           f.GraphNodeID,
			RepositoryID: repo.ID,
			Path:         f.FilePath,
			Name:         f.FileName,
			FileType:     f.FileType,
			LinesOfCode:  f.LinesOfCode,
		})
	}
	require.NoError(t, graph.CreateFileNodes(ctx, nodes))

	id := func(p string) string { return model.FileNodeID(repo.ID, p) }
	_, err := graph.CreateImportRelationships(ctx, []graphstore.ImportEdge{
		{SourceFileID: id("src/a.ts"), TargetFileID: id("src/b.ts"), Specifiers: []string{"b"}},
		{SourceFileID: id("src/b.ts"), TargetFileID: id("src/c.ts"), Specifiers: []string{"c"}},
		{SourceFileID: id("src/c.ts"), TargetFileID: id("src/a.ts"), Specifiers: []string{"a"}},
	})
	require.NoError(t, err)

	h := NewGraphHandler(service.NewGraphService(graph, repository.NewFileRepository(db), repository.NewEntityRepository(db)))
	router := gin.New()
	router.UseRawPath = true
	router.UnescapePathValues = true
	router.GET("/repositories/:id/graph", h.GetRepositoryGraph)
	router.GET("/repositories/:id/graph/files", h.GetFilesByType)
	router.GET("/repositories/:id/cycles", h.GetCycles)
	router.GET("/files/:fileId/dependencies", h.GetDependencies)
	router.GET("/files/:fileId/dependents", h.GetDependents)
	return router, repo
}

func fileIDs(nodes []*dto.GraphNode) []string {
	var ids []string
	for _, n := range nodes {
		if n.Label == graphstore.LabelFile {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

func TestGraphHandler_RepositoryGraph(t *testing.T) {
	router, repo := setupGraphRouter(t)

	resp := parseResponse(t, performRequest(router, "GET", fmt.Sprintf("/repositories/%d/graph?limit=2", repo.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)

	var data dto.GraphResponse
	decodeData(t, resp, &data)
	assert.Equal(t, 2, data.Limit)
	assert.Equal(t, []string{model.FileNodeID(repo.ID, "src/a.ts"), model.FileNodeID(repo.ID, "src/b.ts")}, fileIDs(data.Nodes))
}

func TestGraphHandler_RepositoryGraph_BadPage(t *testing.T) {
	router, repo := setupGraphRouter(t)

	for _, q := range []string{"limit=x", "offset=-1", "offset=y"} {
		resp := parseResponse(t, performRequest(router, "GET", fmt.Sprintf("/repositories/%d/graph?%s", repo.ID, q), nil))
		assert.Equal(t, response.CodeParamError, resp.Code, q)
	}
}

func TestGraphHandler_FilesByType(t *testing.T) {
	router, repo := setupGraphRouter(t)

	resp := parseResponse(t, performRequest(router, "GET", fmt.Sprintf("/repositories/%d/graph/files?type=css", repo.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)
	var data dto.GraphResponse
	decodeData(t, resp, &data)
	assert.Equal(t, []string{model.FileNodeID(repo.ID, "styles/d.css")}, fileIDs(data.Nodes))

	resp = parseResponse(t, performRequest(router, "GET", fmt.Sprintf("/repositories/%d/graph/files?type=../etc", repo.ID), nil))
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestGraphHandler_Cycles(t *testing.T) {
	router, repo := setupGraphRouter(t)

	resp := parseResponse(t, performRequest(router, "GET", fmt.Sprintf("/repositories/%d/cycles", repo.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)

	var data dto.CyclesResponse
	decodeData(t, resp, &data)
	require.Equal(t, 1, data.Count)
	assert.Equal(t, 3, data.Cycles[0].Length)
}

func TestGraphHandler_Dependencies(t *testing.T) {
	router, repo := setupGraphRouter(t)
	fileID := model.FileNodeID(repo.ID, "src/a.ts")

	resp := parseResponse(t, performRequest(router, "GET", "/files/"+url.PathEscape(fileID)+"/dependencies", nil))
	require.Equal(t, response.CodeSuccess, resp.Code)

	var data dto.DependencyResponse
	decodeData(t, resp, &data)
	assert.Equal(t, fileID, data.FileID)
	assert.Equal(t, 1, data.Depth)
	assert.Equal(t, []string{model.FileNodeID(repo.ID, "src/b.ts")}, fileIDs(data.Nodes))
}

func TestGraphHandler_Dependents_Unbounded(t *testing.T) {
	router, repo := setupGraphRouter(t)
	fileID := model.FileNodeID(repo.ID, "src/a.ts")

	resp := parseResponse(t, performRequest(router, "GET", "/files/"+url.PathEscape(fileID)+"/dependents?depth=-1", nil))
	require.Equal(t, response.CodeSuccess, resp.Code)

	var data dto.DependencyResponse
	decodeData(t, resp, &data)
	assert.ElementsMatch(t, []string{
		model.FileNodeID(repo.ID, "src/b.ts"),
		model.FileNodeID(repo.ID, "src/c.ts"),
	}, fileIDs(data.Nodes))
}

func TestGraphHandler_Dependencies_Errors(t *testing.T) {
	router, repo := setupGraphRouter(t)
	fileID := url.PathEscape(model.FileNodeID(repo.ID, "src/a.ts"))

	tests := []struct {
		name string
		path string
		code int
	}{
		{"depth zero", "/files/" + fileID + "/dependencies?depth=0", response.CodeParamError},
		{"depth too deep", "/files/" + fileID + "/dependencies?depth=4", response.CodeParamError},
		{"depth not a number", "/files/" + fileID + "/dependencies?depth=all", response.CodeParamError},
		{"unknown file", "/files/" + url.PathEscape(model.FileNodeID(repo.ID, "missing.ts")) + "/dependencies", response.CodeResourceNotFound},
		{"malformed id", "/files/nonsense/dependents", response.CodeResourceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := parseResponse(t, performRequest(router, "GET", tt.path, nil))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}
