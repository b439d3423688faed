package planner

import (
	"context"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/agent/comm"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
	"github.com/hildam/deerflow/repo/template"
)

// plannerImpl 计划者
type plannerImpl struct {
	deps *comm.Deps
}

// NewPlanner 创建实例
func NewPlanner(deps *comm.Deps) *plannerImpl {
	return &plannerImpl{deps: deps}
}

// Stage 阶段名称
func (p *plannerImpl) Stage() consts.Stage {
	return consts.Planner
}

// Run 生成研究计划
func (p *plannerImpl) Run(ctx context.Context, in *model.Input) (*model.Command, error) {
	state := in.State

	// 迭代次数用尽，直接生成报告
	if state.PlanIterations >= in.Config.MaxPlanIterations {
		slog.Info("planner reached max plan iterations = %d, goto reporter", in.Config.MaxPlanIterations)
		return model.Continue(nil, consts.Reporter), nil
	}

	// 首轮规划时附上背景调查结果
	var extra []*schema.Message
	if state.PlanIterations == 0 && state.EnableBackgroundInvestigation && state.BackgroundInvestigationResults != nil {
		extra = append(extra, schema.UserMessage(
			"background investigation results of user query:\n"+*state.BackgroundInvestigationResults+"\n"))
	}

	messages, err := p.deps.Renderer.Render(ctx, consts.Planner.String(), template.Vars(state, in.Config), state.Messages, extra...)
	if err != nil {
		slog.Error("planner failed, render prompt err = %+v", err)
		return nil, err
	}

	text, err := p.generate(ctx, in, messages)
	if err != nil {
		slog.Error("planner failed, generate err = %+v", err)
		return nil, err
	}
	slog.Debug("planner debug, response = %s", text)

	plan, ok := model.ParsePlan(text)
	if !ok {
		slog.Error("planner failed, response is not a valid plan, iterations = %d", state.PlanIterations)
		if state.PlanIterations > 0 {
			return model.Continue(nil, consts.Reporter), nil
		}
		return model.Continue(nil, consts.End), nil
	}

	msg := schema.AssistantMessage(text, nil)
	msg.Name = consts.Planner.String()

	// 上下文充分，直接生成报告
	if plan.HasEnoughContext {
		slog.Info("planner response has enough context")
		return model.Continue(&model.Update{
			Messages:    []*schema.Message{msg},
			CurrentPlan: model.PlanOf(plan),
		}, consts.Reporter), nil
	}

	// 需要人工审核，保留模型原文
	return model.Continue(&model.Update{
		Messages:    []*schema.Message{msg},
		CurrentPlan: model.RawPlanOf(text),
	}, consts.Human), nil
}

// generate 流式模式拼接增量，否则使用结构化输出的计划模型
func (p *plannerImpl) generate(ctx context.Context, in *model.Input, messages []*schema.Message) (string, error) {
	if in.Config.PlannerStreaming || p.deps.PlanModel == nil {
		resp, err := p.deps.Stream(ctx, consts.Planner, p.deps.ChatModel, messages, in)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	resp, err := p.deps.Generate(ctx, consts.Planner, p.deps.PlanModel, messages, in)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
