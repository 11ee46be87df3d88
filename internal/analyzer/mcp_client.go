package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/qs3c/anal_graph_server/config"
)

const (
	clientName    = "anal-graph-server"
	clientVersion = "1.0.0"
)

// TransportFactory 每次调用创建一个新的传输层
type TransportFactory func() (mcp.Transport, error)

// MCPClient 通过 MCP 调用外部分析工具
type MCPClient struct {
	client    *mcp.Client
	transport TransportFactory
	toolName  string
	timeout   time.Duration
}

// NewMCPClient 根据配置选择 streamable HTTP 或 stdio 子进程传输
func NewMCPClient(cfg config.AnalyzerConfig) (*MCPClient, error) {
	var factory TransportFactory
	switch {
	case cfg.Endpoint != "":
		endpoint := cfg.Endpoint
		factory = func() (mcp.Transport, error) {
			return &mcp.StreamableClientTransport{Endpoint: endpoint}, nil
		}
	case cfg.Command != "":
		command, args := cfg.Command, cfg.Args
		factory = func() (mcp.Transport, error) {
			return &mcp.CommandTransport{Command: exec.Command(command, args...)}, nil
		}
	default:
		return nil, errors.New("analyzer: endpoint or command is required")
	}
	return NewMCPClientWithTransport(factory, cfg.ToolName, cfg.ToolTimeout()), nil
}

func NewMCPClientWithTransport(factory TransportFactory, toolName string, timeout time.Duration) *MCPClient {
	if toolName == "" {
		toolName = config.DefaultToolName
	}
	return &MCPClient{
		client:    mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil),
		transport: factory,
		toolName:  toolName,
		timeout:   timeout,
	}
}

// Analyze 调用分析工具，超时由 timeout 控制
func (c *MCPClient) Analyze(ctx context.Context, req *Request) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	transport, err := c.transport()
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect analysis tool: %w", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      c.toolName,
		Arguments: req,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", c.toolName, err)
	}

	return decodeResult(res)
}

func decodeResult(res *mcp.CallToolResult) (*Result, error) {
	if res.IsError {
		return nil, fmt.Errorf("%w: %s", ErrToolFailed, textOf(res))
	}

	var raw []byte
	if res.StructuredContent != nil {
		b, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, fmt.Errorf("encode structured content: %w", err)
		}
		raw = b
	} else if text := textOf(res); text != "" {
		raw = []byte(text)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyResult
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode analysis result: %w", err)
	}
	return &result, nil
}

// textOf 取第一段文本内容
func textOf(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return strings.TrimSpace(tc.Text)
		}
	}
	return ""
}
