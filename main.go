package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/schema"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/spf13/cobra"

	"github.com/hildam/deerflow/agent"
	"github.com/hildam/deerflow/agent/comm"
	"github.com/hildam/deerflow/biz/handler"
	"github.com/hildam/deerflow/biz/router"
	"github.com/hildam/deerflow/biz/service"
	"github.com/hildam/deerflow/entity/conf"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
	"github.com/hildam/deerflow/repo/checkpoint"
	"github.com/hildam/deerflow/repo/llm"
	"github.com/hildam/deerflow/repo/mcp"
	"github.com/hildam/deerflow/repo/metrics"
	"github.com/hildam/deerflow/repo/search"
	"github.com/hildam/deerflow/repo/template"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "deerflow",
		Short:         "Multi-stage deep research workflow",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return conf.Init(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the chat stream API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}, &cobra.Command{
		Use:   "console",
		Short: "Run one research request interactively in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), os.Stdin, os.Stdout)
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// services 进程内共享的服务，启动时创建一次
type services struct {
	engine  *agent.Engine
	closers []func()
}

// Close 释放 MCP 连接、检查点存储等资源
func (r *services) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// newServices 创建模型、搜索、MCP、检查点存储并组装引擎
func newServices(ctx context.Context, cfg *conf.AppConfig) (*services, error) {
	rt := &services{}

	chatModel, err := llm.NewChatModel(ctx, &cfg.Model)
	if err != nil {
		return nil, err
	}
	planModel, err := llm.NewPlanModel(ctx, &cfg.Model)
	if err != nil {
		return nil, err
	}

	// 全局 MCP 服务
	manager, err := mcp.NewManager(ctx, cfg.MCP.Servers)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, manager.Close)

	var searcher search.Searcher
	switch cfg.Search.Provider {
	case "mcp":
		searcher = search.NewMCP(manager)
	default:
		unified, err := search.NewUnified(&cfg.Search)
		if err != nil {
			rt.Close()
			return nil, err
		}
		searcher = unified
	}

	store, closeStore, err := checkpoint.New(ctx, &cfg.Checkpoint)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeStore)

	m := metrics.Default()
	deps := &comm.Deps{
		ChatModel:     chatModel,
		PlanModel:     planModel,
		Renderer:      template.NewRenderer(cfg.Setting.PromptDir),
		Searcher:      searcher,
		Tools:         manager,
		OpenSession:   mcp.OpenSession,
		Metrics:       m,
		MaxLimitToken: cfg.Setting.MaxLimitToken,
	}
	rt.engine, err = agent.NewEngine(agent.NewAgents(deps), store, m)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// runServer 启动 HTTP 服务
func runServer(ctx context.Context) error {
	cfg := conf.GetCfg()
	rt, err := newServices(ctx, cfg)
	if err != nil {
		slog.Error("runServer failed, err = %+v", err)
		return err
	}
	defer rt.Close()

	h := server.Default(server.WithHostPorts(cfg.Server.Addr))
	svc := service.NewChatService(rt.engine, conf.GetCfg)
	router.Register(h, handler.NewChatHandler(svc), nil)

	slog.Info("runServer listening on %s", cfg.Server.Addr)
	h.Spin()
	return nil
}

// runConsole 运行控制台：读取需求，流式打印输出，遇到计划审核时读取用户反馈
func runConsole(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg := conf.GetCfg()
	rt, err := newServices(ctx, cfg)
	if err != nil {
		slog.Error("runConsole failed, err = %+v", err)
		return err
	}
	defer rt.Close()

	// 读取用户终端输入
	reader := bufio.NewReader(in)
	fmt.Fprint(out, "请输入你的需求： ")
	userPrompt, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	userPrompt = strings.TrimSpace(userPrompt)

	runCfg := cfg.RunConfig()
	state := model.NewState([]*schema.Message{schema.UserMessage(userPrompt)}, cfg.Setting.AutoAcceptedPlan, cfg.BackgroundInvestigation())
	traces, threadID, err := rt.engine.Start(ctx, consts.DefaultThread, state, runCfg)
	if err != nil {
		return err
	}

	for {
		interrupt, err := printTraces(out, traces)
		if err != nil || interrupt == nil {
			return err
		}

		// 读取反馈直到格式正确
		for {
			fmt.Fprintf(out, "\n\n%s\n", interrupt.Prompt)
			for _, opt := range interrupt.Options {
				fmt.Fprintf(out, "  %s: %s\n", opt.Value, opt.Text)
			}
			fmt.Fprint(out, "> ")
			line, err := reader.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			if strings.TrimSpace(line) == "" && errors.Is(err, io.EOF) {
				return nil
			}

			traces, err = rt.engine.Resume(ctx, threadID, consoleReply(line), runCfg)
			if errors.Is(err, model.ErrInvalidFeedback) {
				fmt.Fprintln(out, err)
				continue
			}
			if err != nil {
				return err
			}
			break
		}
	}
}

// consoleReply 将 "accepted 补充说明" 转换为 "[accepted] 补充说明"
func consoleReply(line string) string {
	value, text, _ := strings.Cut(strings.TrimSpace(line), " ")
	return strings.TrimSpace(fmt.Sprintf("[%s] %s", value, strings.TrimSpace(text)))
}

// printTraces 打印消息内容，返回挂起时的中断请求
func printTraces(out io.Writer, traces *schema.StreamReader[*model.Trace]) (*model.Interrupt, error) {
	defer traces.Close()

	p := &service.Projector{}
	lastAgent := ""
	var interrupt *model.Interrupt
	for {
		t, err := traces.Recv()
		if errors.Is(err, io.EOF) {
			return interrupt, nil
		}
		if err != nil {
			return nil, err
		}
		if t.Err != nil {
			return nil, t.Err
		}
		if t.Interrupt != nil {
			interrupt = t.Interrupt
			continue
		}

		ev := p.Project(t)
		if ev == nil {
			continue
		}
		resp, ok := ev.Data.(*model.ChatResp)
		if !ok {
			continue
		}
		if resp.Agent != lastAgent {
			lastAgent = resp.Agent
			fmt.Fprintf(out, "\n==================\n [%s]\n==================\n", resp.Agent)
		}
		switch ev.Type {
		case consts.EventToolCalls:
			for _, call := range resp.ToolCalls {
				fmt.Fprintf(out, "\n-> %s %s\n", call.Name, model.MustJSON(call.Args))
			}
		case consts.EventToolCallResult:
			fmt.Fprintf(out, "\n<- tool result (%d bytes)\n", len(resp.Content))
		case consts.EventMessageChunk:
			fmt.Fprint(out, resp.Content)
		}
	}
}
