package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hildam/deerflow/entity/conf"
)

// newInProcessClient 启动一个进程内 MCP 服务，提供 web_search 和 fetch 两个工具
func newInProcessClient(t *testing.T) client.MCPClient {
	t.Helper()

	s := server.NewMCPServer("test", "0.0.1")
	s.AddTool(mcpgo.NewTool("web_search",
		mcpgo.WithDescription("search the web"),
		mcpgo.WithString("query", mcpgo.Required()),
	), func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		query, _ := req.GetArguments()["query"].(string)
		return mcpgo.NewToolResultText("results for " + query), nil
	})
	s.AddTool(mcpgo.NewTool("fetch", mcpgo.WithDescription("fetch a page")),
		func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultError("boom"), nil
		})

	cli, err := client.NewInProcessClient(s)
	require.NoError(t, err)
	require.NoError(t, cli.Start(context.Background()))

	initRequest := mcpgo.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcpgo.Implementation{Name: "test", Version: "0.0.1"}
	_, err = cli.Initialize(context.Background(), initRequest)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func TestLoadMCPTools(t *testing.T) {
	ctx := context.Background()
	clients := map[string]client.MCPClient{"web": newInProcessClient(t)}

	all, err := loadMCPTools(ctx, clients, nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := loadMCPTools(ctx, clients, map[string][]string{"web": {"web_search"}},
		func(server, desc string) string { return "Powered by '" + server + "'.\n" + desc })
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	info, err := filtered[0].Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "web_search", info.Name)
	assert.Equal(t, "Powered by 'web'.\nsearch the web", info.Desc)
}

func TestMCPToolInvoke(t *testing.T) {
	ctx := context.Background()
	tools, err := loadMCPTools(ctx, map[string]client.MCPClient{"web": newInProcessClient(t)}, nil, nil)
	require.NoError(t, err)

	byName := map[string]tool.InvokableTool{}
	for _, bt := range tools {
		mt := bt.(*MCPTool)
		byName[mt.Name()] = mt
	}

	out, err := byName["web_search"].InvokableRun(ctx, `{"query": "golang"}`)
	require.NoError(t, err)
	assert.Equal(t, "results for golang", out)

	_, err = byName["fetch"].InvokableRun(ctx, `{}`)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "boom"))

	_, err = byName["web_search"].InvokableRun(ctx, `not json`)
	assert.Error(t, err)
}

func TestManagerFindTool(t *testing.T) {
	ctx := context.Background()
	m := &Manager{clients: map[string]client.MCPClient{"web": newInProcessClient(t)}}

	found, err := m.FindTool(ctx, "search")
	require.NoError(t, err)
	info, err := found.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "web_search", info.Name)

	_, err = m.FindTool(ctx, "crawl")
	assert.Error(t, err)

	var empty *Manager
	tools, err := empty.GetMCPTools(ctx)
	assert.NoError(t, err)
	assert.Empty(t, tools)
}

func TestManagerToolsSurviveCancelledCaller(t *testing.T) {
	m := &Manager{clients: map[string]client.MCPClient{"web": newInProcessClient(t)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tools, err := m.GetMCPTools(ctx)
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	tools, err = m.GetMCPTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)
}

func TestOpenSessionSkipsUnassignedServers(t *testing.T) {
	settings := &conf.MCPSettings{Servers: map[string]conf.MCPServerSetting{
		"other-agent": {Transport: "stdio", Command: "does-not-exist", EnabledTools: []string{"x"}, AddToAgents: []string{"coder"}},
		"no-tools":    {Transport: "stdio", Command: "does-not-exist", AddToAgents: []string{"researcher"}},
	}}
	session, err := OpenSession(context.Background(), settings, "researcher")
	require.NoError(t, err)
	assert.Empty(t, session.Tools())
	session.Close()

	session, err = OpenSession(context.Background(), nil, "researcher")
	require.NoError(t, err)
	assert.Empty(t, session.Tools())
}

func TestOpenSessionInvalidServer(t *testing.T) {
	settings := &conf.MCPSettings{Servers: map[string]conf.MCPServerSetting{
		"broken": {Transport: "websocket", EnabledTools: []string{"x"}, AddToAgents: []string{"researcher"}},
	}}
	_, err := OpenSession(context.Background(), settings, "researcher")
	assert.Error(t, err)
}

func TestServerSpec(t *testing.T) {
	spec := SpecFromConfig(conf.MCPServerConfig{URL: "http://localhost:9000/sse"})
	assert.Equal(t, transportSSE, spec.Transport)
	assert.NoError(t, spec.validate())

	spec = SpecFromSetting(conf.MCPServerSetting{Command: "uvx"})
	assert.Equal(t, transportStdio, spec.Transport)
	assert.NoError(t, spec.validate())

	assert.Error(t, ServerSpec{Transport: transportSSE}.validate())
	assert.Error(t, ServerSpec{Transport: transportStdio}.validate())
}

func TestConvertSchema(t *testing.T) {
	params, err := convertMCPSchemaToEinoParams(mcpgo.ToolInputSchema{
		Properties: map[string]any{"query": map[string]any{"description": "q"}},
		Required:   []string{"query"},
	})
	require.NoError(t, err)

	js, err := params.ToOpenAPIV3()
	require.NoError(t, err)
	assert.Equal(t, "object", js.Type)
	assert.Equal(t, "string", js.Properties["query"].Value.Type)
}

func TestContentText(t *testing.T) {
	out := contentText([]mcpgo.Content{
		mcpgo.TextContent{Type: "text", Text: "a"},
		mcpgo.NewTextContent("b"),
	})
	assert.Equal(t, "a\nb", out)
}
