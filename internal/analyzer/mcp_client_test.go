package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_graph_server/config"
)

// newTestClient 每次调用都启动一个内存 MCP server
func newTestClient(t *testing.T, handler func(context.Context, *mcp.CallToolRequest, Request) (*mcp.CallToolResult, any, error), timeout time.Duration) *MCPClient {
	t.Helper()

	factory := func() (mcp.Transport, error) {
		server := mcp.NewServer(&mcp.Implementation{Name: "fake-analyzer", Version: "0.0.1"}, nil)
		mcp.AddTool[Request, any](server, &mcp.Tool{
			Name:        "analyze_repository",
			Description: "Analyze a window of repository files",
		}, handler)

		serverTransport, clientTransport := mcp.NewInMemoryTransports()
		if _, err := server.Connect(context.Background(), serverTransport, nil); err != nil {
			return nil, err
		}
		return clientTransport, nil
	}
	return NewMCPClientWithTransport(factory, "analyze_repository", timeout)
}

func jsonResult(t *testing.T, v any) *mcp.CallToolResult {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}
}

func TestMCPClient_Analyze(t *testing.T) {
	var got Request
	client := newTestClient(t, func(ctx context.Context, req *mcp.CallToolRequest, in Request) (*mcp.CallToolResult, any, error) {
		got = in
		return jsonResult(t, Result{
			Summary: Summary{TotalFiles: 2, SuccessfulAnalyses: 1, FailedAnalyses: 1},
			Files: []FileResult{
				{FilePath: "/tmp/r/src/a.ts", RelativePath: "src/a.ts", Analysis: &FileAnalysis{
					FileName: "a.ts", FileType: "ts", Lines: 10,
					Imports:  []Import{{Source: "./b", Specifiers: []string{"b"}}},
					Entities: []Entity{{Name: "a", Type: "function", StartLine: 1, EndLine: 3}},
				}},
				{FilePath: "/tmp/r/src/b.ts", RelativePath: "src/b.ts", Error: "parse error"},
			},
		}), nil, nil
	}, 5*time.Second)

	res, err := client.Analyze(context.Background(), &Request{
		RepositoryURL: "https://github.com/a/b",
		RepositoryID:  9,
		MaxFiles:      50,
		SkipFiles:     100,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/a/b", got.RepositoryURL)
	assert.Equal(t, int64(9), got.RepositoryID)
	assert.Equal(t, 50, got.MaxFiles)
	assert.Equal(t, 100, got.SkipFiles)

	assert.Equal(t, 2, res.Summary.TotalFiles)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "src/a.ts", res.Files[0].Path())
	require.NotNil(t, res.Files[0].Analysis)
	assert.Equal(t, "./b", res.Files[0].Analysis.Imports[0].Source)
	assert.Nil(t, res.Files[1].Analysis)
	assert.Equal(t, 1, Analysed(res.Files))
}

func TestMCPClient_ToolError(t *testing.T) {
	client := newTestClient(t, func(ctx context.Context, req *mcp.CallToolRequest, in Request) (*mcp.CallToolResult, any, error) {
		return nil, nil, errors.New("repository not reachable")
	}, 5*time.Second)

	_, err := client.Analyze(context.Background(), &Request{RepositoryURL: "https://github.com/a/b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolFailed)
	assert.Contains(t, err.Error(), "repository not reachable")
}

func TestMCPClient_Timeout(t *testing.T) {
	client := newTestClient(t, func(ctx context.Context, req *mcp.CallToolRequest, in Request) (*mcp.CallToolResult, any, error) {
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
		return jsonResult(t, Result{}), nil, nil
	}, 50*time.Millisecond)

	start := time.Now()
	_, err := client.Analyze(context.Background(), &Request{RepositoryURL: "https://github.com/a/b"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDecodeResult(t *testing.T) {
	t.Run("structured content preferred", func(t *testing.T) {
		res := &mcp.CallToolResult{
			StructuredContent: map[string]any{
				"summary": map[string]any{"totalFiles": 3},
				"files":   []any{},
			},
			Content: []mcp.Content{&mcp.TextContent{Text: "not json"}},
		}
		out, err := decodeResult(res)
		require.NoError(t, err)
		assert.Equal(t, 3, out.Summary.TotalFiles)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := decodeResult(&mcp.CallToolResult{})
		assert.ErrorIs(t, err, ErrEmptyResult)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := decodeResult(&mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "{"}}})
		assert.Error(t, err)
	})

	t.Run("is error", func(t *testing.T) {
		_, err := decodeResult(&mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "boom"}},
		})
		assert.ErrorIs(t, err, ErrToolFailed)
	})
}

func TestNewMCPClient_RequiresTransport(t *testing.T) {
	_, err := NewMCPClient(configWithout())
	assert.Error(t, err)
}

func configWithout() config.AnalyzerConfig {
	return config.AnalyzerConfig{ToolName: "analyze_repository"}
}
