package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/agent/comm"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
	"github.com/hildam/deerflow/repo/template"
)

// HandoffTool 转交给 planner 的工具名称
const HandoffTool = "handoff_to_planner"

// handoffToPlanner Coordinator 唯一可用的工具，用于将任务移交给 Planner，同时检测用户语言
var handoffToPlanner = &schema.ToolInfo{
	Name: HandoffTool,
	Desc: "Handoff to planner agent to do plan.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"task_title": {
			Type:     schema.String,
			Desc:     "The title of the task to be handed off.",
			Required: true,
		},
		"locale": {
			Type:     schema.String,
			Desc:     "The user's detected language locale (e.g., en-US, zh-CN).",
			Required: true,
		},
	}),
}

// coordinatorImpl 任务协调者
type coordinatorImpl struct {
	deps *comm.Deps
}

// NewCoordinator 创建实例
func NewCoordinator(deps *comm.Deps) *coordinatorImpl {
	return &coordinatorImpl{deps: deps}
}

// Stage 阶段名称
func (c *coordinatorImpl) Stage() consts.Stage {
	return consts.Coordinator
}

// Run 与用户沟通，模型调用 handoff_to_planner 时进入规划流程，否则结束
func (c *coordinatorImpl) Run(ctx context.Context, in *model.Input) (*model.Command, error) {
	state := in.State

	messages, err := c.deps.Renderer.Render(ctx, consts.Coordinator.String(), template.Vars(state, in.Config), state.Messages)
	if err != nil {
		slog.Error("coordinator failed, render prompt err = %+v", err)
		return nil, err
	}

	// 创建配置了工具的聊天模型
	coorModel, err := c.deps.ChatModel.WithTools([]*schema.ToolInfo{handoffToPlanner})
	if err != nil {
		return nil, fmt.Errorf("coordinator bind tools failed: %w", err)
	}

	resp, err := c.deps.Stream(ctx, consts.Coordinator, coorModel, messages, in)
	if err != nil {
		slog.Error("coordinator failed, stream err = %+v", err)
		return nil, err
	}

	// 没有工具调用，直接结束流程
	if len(resp.ToolCalls) == 0 {
		slog.Info("coordinator response contains no tool calls, terminating workflow, thread = %s", in.ThreadID)
		return model.Continue(&model.Update{Locale: model.Ptr(state.Locale)}, consts.End), nil
	}

	locale := state.Locale
	for _, call := range resp.ToolCalls {
		if call.Function.Name != HandoffTool {
			continue
		}
		// 解析工具调用的参数，获取语言设置，解析失败时保留原值
		args := map[string]any{}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			slog.Error("coordinator failed, unmarshal tool arguments err = %+v, args = %s", err, call.Function.Arguments)
			continue
		}
		if l, ok := args["locale"].(string); ok && l != "" {
			locale = l
			break
		}
	}

	// 根据配置决定下一步：是否启用背景调查
	next := consts.Planner
	if state.EnableBackgroundInvestigation {
		next = consts.BackgroundInvestigator
	}
	return model.Continue(&model.Update{Locale: model.Ptr(locale)}, next), nil
}
