package human

import (
	"context"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
)

// ReviewPrompt 计划审核提示
const ReviewPrompt = "Please review the plan."

// humanImpl 人工审核
type humanImpl struct{}

// NewHuman 创建实例
func NewHuman() *humanImpl {
	return &humanImpl{}
}

// Stage 阶段名称
func (h *humanImpl) Stage() consts.Stage {
	return consts.Human
}

// Run 未自动接受计划时挂起等待人工反馈；接受后重新解析计划并决定流向
func (h *humanImpl) Run(ctx context.Context, in *model.Input) (*model.Command, error) {
	state := in.State

	if !state.AutoAcceptedPlan {
		switch {
		case in.Feedback == nil:
			// 中断并等待用户输入
			return model.Suspend(ReviewPrompt, model.ReviewOptions()), nil
		case in.Feedback.EditPlan():
			// 用户要求修改计划，流向 Planner 重新规划
			msg := schema.UserMessage(in.Feedback.Raw)
			msg.Name = "feedback"
			return model.Continue(&model.Update{Messages: []*schema.Message{msg}}, consts.Planner), nil
		case !in.Feedback.Accepted():
			return nil, model.ErrInvalidFeedback
		}
		slog.Info("human plan accepted, thread = %s", in.ThreadID)
	}

	plan, ok := model.ParsePlan(state.CurrentPlan.Text())
	if !ok {
		slog.Error("human failed, current plan is not a valid plan, iterations = %d", state.PlanIterations)
		if state.PlanIterations > 0 {
			return model.Continue(nil, consts.Reporter), nil
		}
		return model.Continue(nil, consts.End), nil
	}

	update := &model.Update{
		PlanIterations: model.Ptr(state.PlanIterations + 1),
		CurrentPlan:    model.PlanOf(plan),
	}
	if plan.Locale != "" {
		update.Locale = model.Ptr(plan.Locale)
	}
	if plan.HasEnoughContext {
		return model.Continue(update, consts.Reporter), nil
	}
	return model.Continue(update, consts.ResearchTeam), nil
}
