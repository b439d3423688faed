package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/hildam/deerflow/entity/conf"
)

// initTimeout 单个服务初始化超时
const initTimeout = 30 * time.Second

// Manager 全局 MCP 服务客户端，进程内共享
type Manager struct {
	clients map[string]client.MCPClient // MCP服务端客户端管理

	// 工具缓存相关变量
	toolsOnce   sync.Once       // 确保工具只被初始化一次
	cachedTools []tool.BaseTool // 缓存的MCP工具
	toolsErr    error           // 初始化工具时的错误
}

// NewManager 并发连接全部配置的 MCP 服务，任一失败则关闭已建立的连接
func NewManager(ctx context.Context, servers map[string]conf.MCPServerConfig) (*Manager, error) {
	specs := make(map[string]ServerSpec, len(servers))
	for name, server := range servers {
		specs[name] = SpecFromConfig(server)
	}
	clients, err := connectAll(ctx, specs)
	if err != nil {
		return nil, err
	}
	return &Manager{clients: clients}, nil
}

// GetMCPTools 获取所有MCP工具
func (m *Manager) GetMCPTools(ctx context.Context) ([]tool.BaseTool, error) {
	if m == nil {
		return nil, nil
	}
	// 使用 sync.Once 确保工具只被初始化一次；结果进程内共享，不受首个调用方取消的影响
	m.toolsOnce.Do(func() {
		m.cachedTools, m.toolsErr = loadMCPTools(context.WithoutCancel(ctx), m.clients, nil, nil)
	})
	return m.cachedTools, m.toolsErr
}

// FindTool 按名称后缀查找工具
func (m *Manager) FindTool(ctx context.Context, suffix string) (tool.InvokableTool, error) {
	tools, err := m.GetMCPTools(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tools {
		mt, ok := t.(*MCPTool)
		if ok && strings.HasSuffix(mt.Name(), suffix) {
			return mt, nil
		}
	}
	return nil, fmt.Errorf("no mcp tool with suffix %q", suffix)
}

// Close 关闭全部连接
func (m *Manager) Close() {
	if m == nil {
		return
	}
	closeAll(m.clients)
}

// Session 单次请求内打开的 MCP 服务，用完必须关闭
type Session struct {
	clients map[string]client.MCPClient
	tools   []tool.BaseTool
}

// OpenSession 为指定 agent 打开请求级 MCP 服务：
// 只连接 add_to_agents 包含该 agent 且声明了 enabled_tools 的服务，只保留其中启用的工具
func OpenSession(ctx context.Context, settings *conf.MCPSettings, agent string) (*Session, error) {
	session := &Session{clients: map[string]client.MCPClient{}}
	if settings == nil || len(settings.Servers) == 0 {
		return session, nil
	}

	specs := make(map[string]ServerSpec)
	enabled := make(map[string][]string)
	for name, server := range settings.Servers {
		if len(server.EnabledTools) == 0 || !slices.Contains(server.AddToAgents, agent) {
			continue
		}
		specs[name] = SpecFromSetting(server)
		enabled[name] = server.EnabledTools
	}
	if len(specs) == 0 {
		return session, nil
	}

	clients, err := connectAll(ctx, specs)
	if err != nil {
		return nil, err
	}
	session.clients = clients

	tools, err := loadMCPTools(ctx, clients, enabled, func(server, desc string) string {
		return fmt.Sprintf("Powered by '%s'.\n%s", server, desc)
	})
	if err != nil {
		session.Close()
		return nil, err
	}
	session.tools = tools
	slog.Debug("OpenSession debug, agent = %s, servers = %d, tools = %d", agent, len(clients), len(tools))
	return session, nil
}

// Tools 会话内可用的工具
func (s *Session) Tools() []tool.BaseTool {
	if s == nil {
		return nil
	}
	return s.tools
}

// Close 关闭会话内的全部连接
func (s *Session) Close() {
	if s == nil {
		return
	}
	closeAll(s.clients)
	s.clients = nil
}

// connectAll 并发创建并初始化客户端
func connectAll(ctx context.Context, specs map[string]ServerSpec) (map[string]client.MCPClient, error) {
	var mu sync.Mutex
	clients := make(map[string]client.MCPClient, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	for name, spec := range specs {
		g.Go(func() error {
			cli, err := newClient(gctx, name, spec)
			if err != nil {
				return err
			}
			mu.Lock()
			clients[name] = cli
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(clients)
		return nil, err
	}
	return clients, nil
}

// newClient 创建MCP客户端并完成初始化握手
func newClient(ctx context.Context, name string, spec ServerSpec) (client.MCPClient, error) {
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid MCP server %s: %w", name, err)
	}

	var (
		mcpClient client.MCPClient
		err       error
	)
	slog.Debug("newClient debug, load mcp client = %+v, mcp type = %+v", name, spec.Transport)
	if spec.Transport == transportSSE {
		options := []transport.ClientOption{}
		if len(spec.Headers) > 0 {
			options = append(options, transport.WithHeaders(spec.Headers))
		}

		var sseClient *client.Client
		sseClient, err = client.NewSSEMCPClient(spec.URL, options...)
		if err == nil {
			err = sseClient.Start(ctx)
			if err != nil {
				_ = sseClient.Close()
			}
		}
		mcpClient = sseClient
	} else {
		var env []string
		for k, v := range spec.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		mcpClient, err = client.NewStdioMCPClient(spec.Command, env, spec.Args...)
		slog.Debug("newClient debug, load mcp stdio client = %+v, command = %s, args = %+v", name, spec.Command, spec.Args)
	}
	if err != nil {
		slog.Error("newClient failed, name = %+v, err = %+v", name, err)
		return nil, fmt.Errorf("failed to create MCP client for %s: %w", name, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	initRequest := mcpgo.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcpgo.Implementation{
		Name:    "deerflow",
		Version: "0.1.0",
	}
	initRequest.Params.Capabilities = mcpgo.ClientCapabilities{}

	if _, err := mcpClient.Initialize(initCtx, initRequest); err != nil {
		_ = mcpClient.Close()
		slog.Error("newClient failed, initialize name = %+v, err = %+v", name, err)
		return nil, fmt.Errorf("failed to initialize MCP client for %s: %w", name, err)
	}
	return mcpClient, nil
}

// closeAll 关闭客户端，忽略关闭错误
func closeAll(clients map[string]client.MCPClient) {
	for name, c := range clients {
		if err := c.Close(); err != nil {
			slog.Debug("closeAll debug, close %s err = %+v", name, err)
		}
	}
}

// loadMCPTools 加载工具；enabled 非空时只保留其中列出的工具，describe 可改写工具描述
func loadMCPTools(ctx context.Context, clients map[string]client.MCPClient,
	enabled map[string][]string, describe func(server, desc string) string) ([]tool.BaseTool, error) {
	// 服务名排序，保证工具顺序稳定
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)

	var allTools []tool.BaseTool
	for _, serverName := range names {
		mcpClient := clients[serverName]
		slog.Debug("loadMCPTools debug, Loading tools from MCP server = %s", serverName)

		// 获取工具列表
		toolsResp, err := mcpClient.ListTools(ctx, mcpgo.ListToolsRequest{})
		if err != nil {
			if enabled != nil {
				return nil, fmt.Errorf("list tools from %s: %w", serverName, err)
			}
			slog.Error("loadMCPTools failed, Error listing tools from %s = %v", serverName, err)
			continue
		}

		// 为每个工具创建MCPTool包装器
		for _, mcpTool := range toolsResp.Tools {
			if enabled != nil && !slices.Contains(enabled[serverName], mcpTool.Name) {
				continue
			}
			desc := mcpTool.Description
			if describe != nil {
				desc = describe(serverName, desc)
			}
			allTools = append(allTools, &MCPTool{
				cli:         mcpClient,
				server:      serverName,
				toolName:    mcpTool.Name,
				toolDesc:    desc,
				inputSchema: mcpTool.InputSchema,
			})
		}
	}

	slog.Debug("loadMCPTools debug, Total tools loaded: %d", len(allTools))
	return allTools, nil
}

// convertMCPSchemaToEinoParams 将MCP的InputSchema转换为eino的ParamsOneOf
func convertMCPSchemaToEinoParams(inputSchema mcpgo.ToolInputSchema) (*schema.ParamsOneOf, error) {
	schemaBytes, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema: %w", err)
	}

	// 解析为map以便修改
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaBytes, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal to map: %w", err)
	}

	// 确保schema有type字段
	if _, hasType := schemaMap["type"]; !hasType {
		if _, hasAnyOf := schemaMap["anyOf"]; !hasAnyOf {
			schemaMap["type"] = "object"
		}
	}

	// 属性缺少type时默认为string
	if properties, ok := schemaMap["properties"].(map[string]any); ok {
		for _, propValue := range properties {
			if propMap, ok := propValue.(map[string]any); ok {
				if _, hasType := propMap["type"]; !hasType {
					if _, hasAnyOf := propMap["anyOf"]; !hasAnyOf {
						propMap["type"] = "string"
					}
				}
			}
		}
	}

	fixedSchemaBytes, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fixed schema: %w", err)
	}

	var openAPISchema openapi3.Schema
	if err := json.Unmarshal(fixedSchemaBytes, &openAPISchema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal to OpenAPI schema: %w", err)
	}
	return schema.NewParamsOneOfByOpenAPIV3(&openAPISchema), nil
}
