package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/hildam/deerflow/entity/conf"
)

// MCP 传输类型
const (
	transportStdio = "stdio"
	transportSSE   = "sse"
)

// ServerSpec MCP 服务端连接参数，全局配置和请求配置统一转换为该结构
type ServerSpec struct {
	Transport string
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Headers   map[string]string
}

// SpecFromConfig 由全局配置构造，存在 url 时视为 sse 服务
func SpecFromConfig(c conf.MCPServerConfig) ServerSpec {
	spec := ServerSpec{
		Transport: transportStdio,
		Command:   c.Command,
		Args:      c.Args,
		Env:       c.Env,
		URL:       c.URL,
		Headers:   c.Headers,
	}
	if c.URL != "" {
		spec.Transport = transportSSE
	}
	return spec
}

// SpecFromSetting 由请求中的配置构造
func SpecFromSetting(s conf.MCPServerSetting) ServerSpec {
	spec := ServerSpec{
		Transport: strings.ToLower(s.Transport),
		Command:   s.Command,
		Args:      s.Args,
		Env:       s.Env,
		URL:       s.URL,
		Headers:   s.Headers,
	}
	if spec.Transport == "" {
		spec.Transport = transportStdio
		if s.URL != "" {
			spec.Transport = transportSSE
		}
	}
	return spec
}

// validate 校验连接参数
func (s ServerSpec) validate() error {
	switch s.Transport {
	case transportStdio:
		if s.Command == "" {
			return fmt.Errorf("stdio server requires a command")
		}
	case transportSSE:
		if s.URL == "" {
			return fmt.Errorf("sse server requires a url")
		}
	default:
		return fmt.Errorf("unsupported transport %q", s.Transport)
	}
	return nil
}

// MCPTool MCP工具包装器
type MCPTool struct {
	cli         client.MCPClient      // MCP客户端
	server      string                // 所属服务名称
	toolName    string                // 工具名称
	toolDesc    string                // 工具描述
	inputSchema mcpgo.ToolInputSchema // 输入参数Schema
}

// Name 工具名称
func (t *MCPTool) Name() string {
	return t.toolName
}

// Info 获取工具信息
func (t *MCPTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params, err := convertMCPSchemaToEinoParams(t.inputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to convert schema: %w", err)
	}

	return &schema.ToolInfo{
		Name:        t.toolName,
		Desc:        t.toolDesc,
		ParamsOneOf: params,
	}, nil
}

// InvokableRun 可调用运行
func (t *MCPTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	// 解析JSON参数
	var paramsMap map[string]any
	if argumentsInJSON != "" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &paramsMap); err != nil {
			return "", fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}

	// 调用MCP工具
	callReq := mcpgo.CallToolRequest{}
	callReq.Params.Name = t.toolName
	callReq.Params.Arguments = paramsMap

	resp, err := t.cli.CallTool(ctx, callReq)
	if err != nil {
		return "", fmt.Errorf("MCP tool %s/%s call failed: %w", t.server, t.toolName, err)
	}

	text := contentText(resp.Content)
	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("MCP tool %s/%s error: %s", t.server, t.toolName, text)
	}
	return text, nil
}

// contentText 文本内容直接拼接，其它内容序列化为 JSON
func contentText(contents []mcpgo.Content) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		default:
			data, err := json.Marshal(c)
			if err != nil {
				continue
			}
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}
