package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
)

// ToolFinder 按名称后缀查找 MCP 工具
type ToolFinder interface {
	FindTool(ctx context.Context, suffix string) (tool.InvokableTool, error)
}

// MCP 以名称以 search 结尾的 MCP 工具作为搜索服务
type MCP struct {
	finder ToolFinder
}

// NewMCP 创建 MCP 搜索服务
func NewMCP(finder ToolFinder) *MCP {
	return &MCP{finder: finder}
}

// Search 实现 Searcher，结果为 JSON 数组时按条解析，否则整体作为一条结果
func (m *MCP) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	searchTool, err := m.finder.FindTool(ctx, "search")
	if err != nil {
		return nil, err
	}

	args, _ := json.Marshal(map[string]any{"query": query, "max_results": max})
	out, err := searchTool.InvokableRun(ctx, string(args))
	if err != nil {
		return nil, fmt.Errorf("mcp search: %w", err)
	}

	var results []Result
	if err := json.Unmarshal([]byte(out), &results); err != nil || len(results) == 0 {
		return []Result{{Title: query, Content: out}}, nil
	}
	return limit(results, max), nil
}
