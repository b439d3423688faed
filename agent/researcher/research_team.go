package researcher

import (
	"context"

	"github.com/HildaM/logs/slog"

	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
)

// researcherTeamImpl 研究团队，根据计划中第一个待执行步骤决定下一个执行的阶段
type researcherTeamImpl struct{}

// NewResearcherTeam 创建实例
func NewResearcherTeam() *researcherTeamImpl {
	return &researcherTeamImpl{}
}

// Stage 阶段名称
func (r *researcherTeamImpl) Stage() consts.Stage {
	return consts.ResearchTeam
}

// Run 没有计划或全部步骤已完成时回到 Planner；研究步骤交给 Researcher
func (r *researcherTeamImpl) Run(ctx context.Context, in *model.Input) (*model.Command, error) {
	plan := in.State.Plan()
	if plan == nil || len(plan.Steps) == 0 {
		return model.Continue(nil, consts.Planner), nil
	}
	if plan.Complete() {
		slog.Debug("research team debug, all steps executed, goto planner")
		return model.Continue(nil, consts.Planner), nil
	}

	step := plan.Steps[plan.FirstPending()]
	switch step.StepType {
	case model.Research:
		return model.Continue(nil, consts.Researcher), nil
	default:
		// 处理类步骤暂无执行者，交回 Planner
		slog.Info("research team has no executor for step type = %s, title = %s, goto planner", step.StepType, step.Title)
		return model.Continue(nil, consts.Planner), nil
	}
}
