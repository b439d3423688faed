package search

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/network/standard"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/hildam/deerflow/entity/conf"
)

// DefaultUnifiedURL 统一搜索接口地址
const DefaultUnifiedURL = "https://cloud-iqs.aliyuncs.com/search/unified"

// unifiedRequest 统一搜索请求体
type unifiedRequest struct {
	Query      string          `json:"query"`
	EngineType string          `json:"engineType"`
	TimeRange  string          `json:"timeRange"`
	Contents   unifiedContents `json:"contents"`
}

type unifiedContents struct {
	MainText     bool `json:"mainText"`
	MarkdownText bool `json:"markdownText"`
	Summary      bool `json:"summary"`
	RerankScore  bool `json:"rerankScore"`
}

// unifiedResponse 统一搜索响应，只取页面结果
type unifiedResponse struct {
	PageItems []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		MainText string `json:"mainText"`
	} `json:"pageItems"`
}

// Unified 统一搜索 HTTP 服务
type Unified struct {
	cli     *client.Client
	url     string
	apiKey  string
	timeout time.Duration
}

// NewUnified 创建统一搜索客户端
func NewUnified(cfg *conf.SearchConfig) (*Unified, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("unified search api key is empty")
	}
	url := cfg.APIURL
	if url == "" {
		url = DefaultUnifiedURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cli, err := client.NewClient(
		client.WithDialer(standard.NewDialer()),
		client.WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}),
		client.WithClientReadTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("NewUnified failed, err: %w", err)
	}
	return &Unified{cli: cli, url: url, apiKey: cfg.APIKey, timeout: timeout}, nil
}

// Search 实现 Searcher
func (u *Unified) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	body, err := json.Marshal(&unifiedRequest{
		Query:      query,
		EngineType: "Generic",
		TimeRange:  "NoLimit",
		Contents:   unifiedContents{Summary: true, RerankScore: true},
	})
	if err != nil {
		return nil, err
	}

	req, resp := protocol.AcquireRequest(), protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetRequestURI(u.url)
	req.SetMethod(consts.MethodPost)
	req.Header.Set("Authorization", "Bearer "+u.apiKey)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.SetBody(body)

	if err := u.cli.DoTimeout(ctx, req, resp, u.timeout); err != nil {
		slog.Error("Unified.Search failed, query = %s, err = %+v", query, err)
		return nil, fmt.Errorf("unified search request: %w", err)
	}
	if code := resp.StatusCode(); code != consts.StatusOK {
		slog.Error("Unified.Search failed, query = %s, status = %d, body = %s", query, code, resp.Body())
		return nil, fmt.Errorf("unified search status %d", code)
	}

	var raw unifiedResponse
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("decode unified search response: %w", err)
	}

	results := make([]Result, 0, len(raw.PageItems))
	for _, item := range raw.PageItems {
		content := item.Snippet
		if content == "" {
			content = item.MainText
		}
		results = append(results, Result{Title: item.Title, URL: item.Link, Content: content})
	}
	slog.Debug("Unified.Search success, query = %s, results = %d", query, len(results))
	return limit(results, max), nil
}
