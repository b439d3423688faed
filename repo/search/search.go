package search

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrEmptyQuery 查询为空
var ErrEmptyQuery = errors.New("search query is empty")

// Result 单条搜索结果
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content"`
}

// Searcher 搜索服务
type Searcher interface {
	// Search 搜索 query，最多返回 max 条结果，max <= 0 表示不限制
	Search(ctx context.Context, query string, max int) ([]Result, error)
}

// SearcherFunc 函数适配
type SearcherFunc func(ctx context.Context, query string, max int) ([]Result, error)

// Search 实现 Searcher
func (f SearcherFunc) Search(ctx context.Context, query string, max int) ([]Result, error) {
	return f(ctx, query, max)
}

// Brief 背景调查使用的精简结果 [{title, content}]
func Brief(results []Result) string {
	type brief struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	out := make([]brief, 0, len(results))
	for _, r := range results {
		out = append(out, brief{Title: r.Title, Content: r.Content})
	}
	data, _ := json.Marshal(out)
	return string(data)
}

// limit 截断结果
func limit(results []Result, max int) []Result {
	if max > 0 && len(results) > max {
		return results[:max]
	}
	return results
}
