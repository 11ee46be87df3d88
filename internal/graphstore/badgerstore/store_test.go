package badgerstore

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_graph_server/internal/graphstore"
	"github.com/qs3c/anal_graph_server/internal/model"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fileNode(repo int64, p string) graphstore.FileNode {
	return graphstore.FileNode{
		ID:           model.FileNodeID(repo, p),
		RepositoryID: repo,
		Path:         p,
		Name:         p,
		FileType:     model.FileTypeOf(p),
		LinesOfCode:  10,
	}
}

// seedChain 写入文件节点以及给定的 IMPORTS 关系（按路径描述）
func seedChain(t *testing.T, s *Store, repo int64, paths []string, imports [][2]string) {
	t.Helper()
	ctx := context.Background()

	var files []graphstore.FileNode
	for _, p := range paths {
		files = append(files, fileNode(repo, p))
	}
	require.NoError(t, s.CreateFileNodes(ctx, files))

	var edges []graphstore.ImportEdge
	for _, e := range imports {
		edges = append(edges, graphstore.ImportEdge{
			SourceFileID: model.FileNodeID(repo, e[0]),
			TargetFileID: model.FileNodeID(repo, e[1]),
			Specifiers:   []string{"x"},
		})
	}
	if len(edges) > 0 {
		n, err := s.CreateImportRelationships(ctx, edges)
		require.NoError(t, err)
		require.Equal(t, len(edges), n)
	}
}

func filePaths(sgs []graphstore.FileSubgraph) []string {
	out := make([]string, 0, len(sgs))
	for _, sg := range sgs {
		out = append(out, sg.File.Path)
	}
	return out
}

func TestStore_ReachableFiles_DepthSemantics(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedChain(t, s, 1, []string{"a.ts", "b.ts", "c.ts"}, [][2]string{{"a.ts", "b.ts"}, {"b.ts", "c.ts"}})
	a := model.FileNodeID(1, "a.ts")

	got, err := s.ReachableFiles(ctx, a, graphstore.Outgoing, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.ts"}, filePaths(got))

	got, err = s.ReachableFiles(ctx, a, graphstore.Outgoing, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.ts", "c.ts"}, filePaths(got))

	got, err = s.ReachableFiles(ctx, a, graphstore.Outgoing, graphstore.UnboundedDepth)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.ts", "c.ts"}, filePaths(got))
}

func TestStore_ReachableFiles_Dependents(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedChain(t, s, 1, []string{"a.ts", "b.ts", "c.ts"}, [][2]string{{"a.ts", "b.ts"}, {"b.ts", "c.ts"}})
	c := model.FileNodeID(1, "c.ts")

	got, err := s.ReachableFiles(ctx, c, graphstore.Incoming, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.ts"}, filePaths(got))

	got, err = s.ReachableFiles(ctx, c, graphstore.Incoming, graphstore.UnboundedDepth)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts", "b.ts"}, filePaths(got))

	edges, err := s.ReachableEdges(ctx, c, graphstore.Incoming, graphstore.UnboundedDepth)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Equal(t, graphstore.RelImports, e.Type)
	}
	assert.Contains(t, edges, graphstore.Edge{
		Source:     model.FileNodeID(1, "b.ts"),
		Target:     c,
		Type:       graphstore.RelImports,
		Properties: map[string]any{"specifiers": []any{"x"}},
	})
}

func TestStore_ReachableEdges_Depth(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedChain(t, s, 1, []string{"a.ts", "b.ts", "c.ts"}, [][2]string{{"a.ts", "b.ts"}, {"b.ts", "c.ts"}})
	a := model.FileNodeID(1, "a.ts")

	edges, err := s.ReachableEdges(ctx, a, graphstore.Outgoing, 1)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, model.FileNodeID(1, "b.ts"), edges[0].Target)

	edges, err = s.ReachableEdges(ctx, a, graphstore.Outgoing, 3)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestStore_Reachable_UnknownFile(t *testing.T) {
	s := setupStore(t)

	_, err := s.ReachableFiles(context.Background(), "file-1-missing.ts", graphstore.Outgoing, 1)
	assert.ErrorIs(t, err, graphstore.ErrNodeNotFound)
}

func TestStore_ReachableFiles_IncludesEntities(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedChain(t, s, 1, []string{"a.ts", "b.ts"}, [][2]string{{"a.ts", "b.ts"}})

	b := model.FileNodeID(1, "b.ts")
	require.NoError(t, s.CreateEntityNodes(ctx, b, []graphstore.EntityNode{
		{ID: model.EntityNodeID(1, "b.ts", "helper"), Label: graphstore.LabelFunction, Name: "helper", FilePath: "b.ts", StartLine: 1, EndLine: 4, Exported: true},
		{ID: model.EntityNodeID(1, "b.ts", "Widget"), Label: graphstore.LabelClass, Name: "Widget", FilePath: "b.ts", StartLine: 5, EndLine: 9},
	}))

	got, err := s.ReachableFiles(ctx, model.FileNodeID(1, "a.ts"), graphstore.Outgoing, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Entities, 2)
	for _, e := range got[0].Entities {
		assert.Equal(t, int64(1), e.RepositoryID)
	}
}

func TestStore_CreateEntityNodes_Validation(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	err := s.CreateEntityNodes(ctx, "file-1-none.ts", []graphstore.EntityNode{
		{ID: "entity-1-none.ts-x", Label: graphstore.LabelFunction, Name: "x"},
	})
	assert.ErrorIs(t, err, graphstore.ErrNodeNotFound)

	seedChain(t, s, 1, []string{"a.ts"}, nil)
	err = s.CreateEntityNodes(ctx, model.FileNodeID(1, "a.ts"), []graphstore.EntityNode{
		{ID: "entity-1-a.ts-x", Label: "File", Name: "x"},
	})
	assert.ErrorIs(t, err, graphstore.ErrUnsupportedLabel)
}

func TestStore_CreateRelationship(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedChain(t, s, 1, []string{"a.ts", "b.ts"}, nil)
	a, b := model.FileNodeID(1, "a.ts"), model.FileNodeID(1, "b.ts")

	err := s.CreateRelationship(ctx, graphstore.Edge{Source: a, Target: b, Type: "DEPENDS"})
	assert.ErrorIs(t, err, graphstore.ErrUnsupportedRelationship)

	require.NoError(t, s.CreateRelationship(ctx, graphstore.Edge{Source: a, Target: b, Type: graphstore.RelImports}))

	got, err := s.RepositoryFiles(ctx, 1, graphstore.FileQuery{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, got[0].Imports, 1)
	assert.Equal(t, b, got[0].Imports[0].Target)
	assert.Nil(t, got[0].Imports[0].Properties)
}

func TestStore_CreateImportRelationships_SkipsMissingEndpoints(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedChain(t, s, 1, []string{"a.ts", "b.ts"}, nil)
	seedChain(t, s, 2, []string{"z.ts"}, nil)

	n, err := s.CreateImportRelationships(ctx, []graphstore.ImportEdge{
		{SourceFileID: model.FileNodeID(1, "a.ts"), TargetFileID: model.FileNodeID(1, "b.ts")},
		{SourceFileID: model.FileNodeID(1, "a.ts"), TargetFileID: model.FileNodeID(1, "missing.ts")},
		{SourceFileID: model.FileNodeID(1, "a.ts"), TargetFileID: model.FileNodeID(2, "z.ts")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CreateImportRelationships(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_RepositoryFiles_Pagination(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	paths := []string{"e.ts", "a.ts", "d.tsx", "c.ts", "b.js"}
	seedChain(t, s, 3, paths, [][2]string{{"a.ts", "b.js"}})

	page1, err := s.RepositoryFiles(ctx, 3, graphstore.FileQuery{Limit: 2, Offset: 0})
	require.NoError(t, err)
	page2, err := s.RepositoryFiles(ctx, 3, graphstore.FileQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	page3, err := s.RepositoryFiles(ctx, 3, graphstore.FileQuery{Limit: 2, Offset: 4})
	require.NoError(t, err)
	empty, err := s.RepositoryFiles(ctx, 3, graphstore.FileQuery{Limit: 2, Offset: 10})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.ts", "b.js"}, filePaths(page1))
	assert.Equal(t, []string{"c.ts", "d.tsx"}, filePaths(page2))
	assert.Equal(t, []string{"e.ts"}, filePaths(page3))
	assert.Empty(t, empty)

	require.Len(t, page1[0].Imports, 1)
	assert.Equal(t, model.FileNodeID(3, "b.js"), page1[0].Imports[0].Target)

	byType, err := s.RepositoryFiles(ctx, 3, graphstore.FileQuery{FileType: "ts"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts", "c.ts", "e.ts"}, filePaths(byType))
}

func TestStore_FindCycles(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	t.Run("two node cycle", func(t *testing.T) {
		seedChain(t, s, 1, []string{"a.ts", "b.ts"}, [][2]string{{"a.ts", "b.ts"}, {"b.ts", "a.ts"}})

		cycles, err := s.FindCycles(ctx, 1, 100)
		require.NoError(t, err)
		require.Len(t, cycles, 1)
		assert.Equal(t, 2, cycles[0].Length)
		assert.Equal(t, []string{model.FileNodeID(1, "a.ts"), model.FileNodeID(1, "b.ts"), model.FileNodeID(1, "a.ts")}, cycles[0].NodeIDs)
		assert.Equal(t, []string{"a.ts", "b.ts", "a.ts"}, cycles[0].Paths)
	})

	t.Run("no cycle", func(t *testing.T) {
		seedChain(t, s, 2, []string{"a.ts", "b.ts"}, [][2]string{{"a.ts", "b.ts"}})

		cycles, err := s.FindCycles(ctx, 2, 100)
		require.NoError(t, err)
		assert.Empty(t, cycles)
	})

	t.Run("ordered by length and capped", func(t *testing.T) {
		seedChain(t, s, 3, []string{"a.ts", "b.ts", "c.ts", "d.ts"}, [][2]string{
			{"a.ts", "b.ts"}, {"b.ts", "c.ts"}, {"c.ts", "a.ts"},
			{"c.ts", "d.ts"}, {"d.ts", "c.ts"},
		})

		cycles, err := s.FindCycles(ctx, 3, 100)
		require.NoError(t, err)
		require.Len(t, cycles, 2)
		assert.Equal(t, 2, cycles[0].Length)
		assert.Equal(t, 3, cycles[1].Length)
		lengths := []int{cycles[0].Length, cycles[1].Length}
		assert.True(t, sort.IntsAreSorted(lengths))

		capped, err := s.FindCycles(ctx, 3, 1)
		require.NoError(t, err)
		assert.Len(t, capped, 1)
	})
}

func TestStore_FindCycles_DenseComponentKeepsShortCycles(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	// 8 个文件两两互相导入，另有独立的 y <-> z
	var paths []string
	for i := 0; i < 8; i++ {
		paths = append(paths, fmt.Sprintf("f%d.ts", i))
	}
	var imports [][2]string
	for _, a := range paths {
		for _, b := range paths {
			if a != b {
				imports = append(imports, [2]string{a, b})
			}
		}
	}
	imports = append(imports, [2]string{"y.ts", "z.ts"}, [2]string{"z.ts", "y.ts"})
	seedChain(t, s, 1, append(paths, "y.ts", "z.ts"), imports)

	yz := []string{model.FileNodeID(1, "y.ts"), model.FileNodeID(1, "z.ts"), model.FileNodeID(1, "y.ts")}

	cycles, err := s.FindCycles(ctx, 1, 100)
	require.NoError(t, err)
	require.Len(t, cycles, 100)

	lengths := make([]int, len(cycles))
	counts := make(map[int]int)
	found := false
	for i, c := range cycles {
		lengths[i] = c.Length
		counts[c.Length]++
		if assert.ObjectsAreEqual(yz, c.NodeIDs) {
			found = true
		}
	}
	assert.True(t, sort.IntsAreSorted(lengths))
	// C(8,2) 个两节点环加上 y <-> z
	assert.Equal(t, 29, counts[2])
	assert.Equal(t, 71, counts[3])
	assert.True(t, found, "y <-> z must not be crowded out by longer cycles")

	twoCycles, err := s.FindCycles(ctx, 1, 29)
	require.NoError(t, err)
	require.Len(t, twoCycles, 29)
	for _, c := range twoCycles {
		assert.Equal(t, 2, c.Length)
	}
	assert.Equal(t, yz, twoCycles[28].NodeIDs)
}

func TestStore_DeleteRepository(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedChain(t, s, 1, []string{"a.ts", "b.ts"}, [][2]string{{"a.ts", "b.ts"}})
	seedChain(t, s, 12, []string{"a.ts"}, nil)
	require.NoError(t, s.CreateEntityNodes(ctx, model.FileNodeID(1, "a.ts"), []graphstore.EntityNode{
		{ID: model.EntityNodeID(1, "a.ts", "f"), Label: graphstore.LabelFunction, Name: "f"},
	}))

	require.NoError(t, s.DeleteRepository(ctx, 1))

	files, err := s.RepositoryFiles(ctx, 1, graphstore.FileQuery{})
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = s.ReachableFiles(ctx, model.FileNodeID(1, "a.ts"), graphstore.Outgoing, 1)
	assert.ErrorIs(t, err, graphstore.ErrNodeNotFound)

	// 其他仓库不受影响，包括 ID 前缀相同的仓库
	other, err := s.RepositoryFiles(ctx, 12, graphstore.FileQuery{})
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestStore_RunGCInMemory(t *testing.T) {
	s := setupStore(t)
	assert.NoError(t, s.RunGC())
	assert.NoError(t, s.EnsureIndexes(context.Background()))
}
