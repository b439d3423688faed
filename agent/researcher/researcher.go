package researcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/agent/comm"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
	"github.com/hildam/deerflow/repo/callback"
	"github.com/hildam/deerflow/repo/search"
	"github.com/hildam/deerflow/repo/template"
)

// citationReminder 引用格式指导，要求在文末统一列出参考资料而非内联引用
const citationReminder = "IMPORTANT: DO NOT include inline citations in the text. Instead, track all sources and include a References section at the end using link reference format. Include an empty line between each citation for better readability. Use this format for each reference:\n- [Source Title](URL)\n\n- [Another Source](URL)"

// singleResearcherImpl 单个研究者
type singleResearcherImpl struct {
	deps *comm.Deps
}

// NewSingleResearcher 创建实例
func NewSingleResearcher(deps *comm.Deps) *singleResearcherImpl {
	return &singleResearcherImpl{deps: deps}
}

// Stage 阶段名称
func (r *singleResearcherImpl) Stage() consts.Stage {
	return consts.Researcher
}

// Run 执行第一个待执行步骤，结果写回计划副本并记录为观察结果
func (r *singleResearcherImpl) Run(ctx context.Context, in *model.Input) (*model.Command, error) {
	state := in.State

	plan := state.Plan().Clone()
	idx := -1
	if plan != nil {
		idx = plan.FirstPending()
	}
	if idx < 0 {
		slog.Error("researcher found no pending step, thread = %s", in.ThreadID)
		return model.Continue(nil, consts.ResearchTeam), nil
	}
	step := &plan.Steps[idx]
	slog.Info("researcher executing step = %s", step.Title)

	messages, err := r.deps.Renderer.Render(ctx, consts.Researcher.String(), template.Vars(state, in.Config), taskMessages(plan, idx, state.Locale))
	if err != nil {
		slog.Error("researcher failed, render prompt err = %+v", err)
		return nil, err
	}

	if in.Config.ExecutorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.Config.ExecutorTimeout)
		defer cancel()
	}

	result, err := r.execute(ctx, in, messages)
	if err != nil {
		slog.Error("researcher failed, step = %s, err = %+v", step.Title, err)
		return nil, err
	}
	slog.Debug("researcher debug, step = %s, result = %s", step.Title, result)

	step.ExecutionRes = model.Ptr(result)
	msg := schema.UserMessage(result)
	msg.Name = consts.Researcher.String()

	// 返回调度中心，由 ResearchTeam 决定下一步
	return model.Continue(&model.Update{
		Messages:     []*schema.Message{msg},
		Observations: []string{result},
		CurrentPlan:  model.PlanOf(plan),
	}, consts.ResearchTeam), nil
}

// execute 创建 ReAct Agent 并执行，请求级 MCP 会话在返回前关闭
func (r *singleResearcherImpl) execute(ctx context.Context, in *model.Input, messages []*schema.Message) (string, error) {
	tools := []tool.BaseTool{search.NewTool(r.deps.Searcher, in.Config.MaxSearchResults)}

	if r.deps.Tools != nil {
		global, err := r.deps.Tools.GetMCPTools(ctx)
		if err != nil {
			// 失败不影响使用
			slog.Error("researcher failed, get mcp tools err = %+v", err)
		}
		tools = append(tools, global...)
	}

	if r.deps.OpenSession != nil && in.Config.MCPSettings != nil {
		session, err := r.deps.OpenSession(ctx, in.Config.MCPSettings, consts.AgentTypeResearcher)
		if err != nil {
			return "", fmt.Errorf("open mcp session failed: %w", err)
		}
		defer session.Close()
		tools = append(tools, session.Tools()...)
	}

	reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
		MaxStep:               comm.RecursionLimit(in.Config.AgentRecursionLimit),
		ToolCallingModel:      r.deps.ChatModel,
		ToolsConfig:           compose.ToolsNodeConfig{Tools: tools},
		MessageModifier:       comm.ModifyInputFunc(r.deps.MaxLimitToken), // 消息长度限制处理器
		StreamToolCallChecker: comm.ToolCallChecker,                       // 工具调用检测器
	})
	if err != nil {
		return "", fmt.Errorf("create react agent failed: %w", err)
	}

	cb := callback.NewTraceCallback(consts.Researcher.String(), in.Emitter, r.deps.Metrics)
	sr, err := reactAgent.Stream(ctx, messages, agent.WithComposeOptions(compose.WithCallbacks(cb)))
	if err != nil {
		return "", fmt.Errorf("react agent stream failed: %w", err)
	}
	defer sr.Close()

	var sb strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("react agent recv failed: %w", err)
		}
		if chunk != nil {
			sb.WriteString(chunk.Content)
		}
	}
	return sb.String(), nil
}

// taskMessages 已完成步骤的研究结果、当前任务和引用格式提醒
func taskMessages(plan *model.Plan, idx int, locale string) []*schema.Message {
	var sb strings.Builder
	completed := 0
	for i := 0; i < idx; i++ {
		s := plan.Steps[i]
		if s.Pending() {
			continue
		}
		if completed == 0 {
			sb.WriteString("# Existing Research Findings\n\n")
		}
		completed++
		fmt.Fprintf(&sb, "## Existing Finding %d: %s\n\n<finding>\n%s\n</finding>\n\n", completed, s.Title, *s.ExecutionRes)
	}

	step := plan.Steps[idx]
	fmt.Fprintf(&sb, "# Current Task\n\n## Title\n\n%s\n\n## Description\n\n%s\n\n## Locale\n\n%s", step.Title, step.Description, locale)

	reminder := schema.UserMessage(citationReminder)
	reminder.Name = "system"
	return []*schema.Message{schema.UserMessage(sb.String()), reminder}
}
