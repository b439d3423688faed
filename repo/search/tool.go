package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ToolName 搜索工具名称
const ToolName = "web_search"

// webSearch 将 Searcher 包装为 eino 工具
type webSearch struct {
	searcher   Searcher
	maxResults int
}

// NewTool 创建 web_search 工具
func NewTool(searcher Searcher, maxResults int) tool.InvokableTool {
	return &webSearch{searcher: searcher, maxResults: maxResults}
}

// Info 工具信息
func (w *webSearch) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolName,
		Desc: "Search the web and return structured results with title, url and content.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "the search query", Required: true},
		}),
	}, nil
}

// InvokableRun 执行搜索
func (w *webSearch) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("failed to unmarshal params: %w", err)
	}

	results, err := w.searcher.Search(ctx, args.Query, w.maxResults)
	if err != nil {
		slog.Error("web_search failed, query = %s, err = %+v", args.Query, err)
		return "", err
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
