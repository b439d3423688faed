package service

import (
	"context"
	"fmt"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/entity/conf"
	"github.com/hildam/deerflow/entity/model"
)

// Runner 工作流引擎
type Runner interface {
	Start(ctx context.Context, threadID string, state *model.State, cfg *conf.RunConfig) (*schema.StreamReader[*model.Trace], string, error)
	Resume(ctx context.Context, threadID, reply string, cfg *conf.RunConfig) (*schema.StreamReader[*model.Trace], error)
	Continue(ctx context.Context, threadID string, cfg *conf.RunConfig) (*schema.StreamReader[*model.Trace], error)
}

// ChatService 对话服务：合并运行配置，选择新建或恢复运行，并投影事件
type ChatService struct {
	runner Runner
	config func() *conf.AppConfig // 读取最新的全局配置
}

// NewChatService 创建实例，config 为空时使用 conf.GetCfg
func NewChatService(runner Runner, config func() *conf.AppConfig) *ChatService {
	if config == nil {
		config = conf.GetCfg
	}
	return &ChatService{runner: runner, config: config}
}

// Stream 执行一次对话请求，返回实际线程ID和对外事件流
func (s *ChatService) Stream(ctx context.Context, req *model.ChatRequest) (string, *schema.StreamReader[*model.Event], error) {
	app := s.config()
	if app == nil {
		app = &conf.AppConfig{}
	}

	cfg := s.runConfig(app, req)
	autoAccepted := app.Setting.AutoAcceptedPlan
	if req.AutoAcceptedPlan != nil {
		autoAccepted = *req.AutoAcceptedPlan
	}
	background := app.BackgroundInvestigation()
	if req.EnableBackgroundInvestigation != nil {
		background = *req.EnableBackgroundInvestigation
	}

	var (
		traces   *schema.StreamReader[*model.Trace]
		threadID = req.ThreadID
		err      error
	)
	switch {
	case !autoAccepted && req.InterruptFeedback != "":
		resume := req.ResumeText()
		slog.Info("ChatService resume, thread = %s, input = %s", threadID, resume)
		traces, err = s.runner.Resume(ctx, threadID, resume, cfg)
	case req.Retry():
		slog.Info("ChatService continue, thread = %s", threadID)
		traces, err = s.runner.Continue(ctx, threadID, cfg)
	default:
		state := model.NewState(req.SchemaMessages(), autoAccepted, background)
		traces, threadID, err = s.runner.Start(ctx, threadID, state, cfg)
	}
	if err != nil {
		slog.Error("ChatService failed, thread = %s, err = %+v", threadID, err)
		return threadID, nil, fmt.Errorf("chat stream: %w", err)
	}

	p := &Projector{ThreadID: threadID}
	events := schema.StreamReaderWithConvert(traces, func(t *model.Trace) (*model.Event, error) {
		ev := p.Project(t)
		if ev == nil {
			return nil, schema.ErrNoValue
		}
		return ev, nil
	})
	return threadID, events, nil
}

// runConfig 请求参数覆盖全局配置，全局配置缺失的字段使用默认值
func (s *ChatService) runConfig(app *conf.AppConfig, req *model.ChatRequest) *conf.RunConfig {
	base, def := app.RunConfig(), conf.DefaultRunConfig()
	if base.MaxPlanIterations <= 0 {
		base.MaxPlanIterations = def.MaxPlanIterations
	}
	if base.MaxStepNum <= 0 {
		base.MaxStepNum = def.MaxStepNum
	}
	if base.MaxSearchResults <= 0 {
		base.MaxSearchResults = def.MaxSearchResults
	}
	if base.ExecutorTimeout <= 0 {
		base.ExecutorTimeout = def.ExecutorTimeout
	}

	cfg := base.Override(req.MaxPlanIterations, req.MaxStepNum, req.MaxSearchResults)
	cfg.MCPSettings = req.MCPSettings
	cfg.Debug = req.Debug
	return cfg
}
