package agent

import (
	"context"
	"fmt"

	"github.com/HildaM/logs/slog"

	"github.com/hildam/deerflow/agent/comm"
	"github.com/hildam/deerflow/agent/coordinator"
	"github.com/hildam/deerflow/agent/human"
	"github.com/hildam/deerflow/agent/investigator"
	"github.com/hildam/deerflow/agent/planner"
	"github.com/hildam/deerflow/agent/repoter"
	"github.com/hildam/deerflow/agent/researcher"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
)

// Agent 阶段处理器：读取状态副本，返回继续或挂起命令
type Agent interface {
	// Stage 处理的阶段
	Stage() consts.Stage
	// Run 执行阶段逻辑，不得直接修改 in.State
	Run(ctx context.Context, in *model.Input) (*model.Command, error)
}

// NewAgents 创建全部阶段处理器
func NewAgents(deps *comm.Deps) []Agent {
	return []Agent{
		coordinator.NewCoordinator(deps),
		investigator.NewInvestigator(deps),
		planner.NewPlanner(deps),
		human.NewHuman(),
		researcher.NewResearcherTeam(),
		researcher.NewSingleResearcher(deps),
		repoter.NewRepoter(deps),
	}
}

// buildRegistry 按阶段索引处理器，每个执行阶段必须恰好有一个处理器
func buildRegistry(agents []Agent) ([consts.StageCount]Agent, error) {
	var registry [consts.StageCount]Agent
	for _, a := range agents {
		if a == nil {
			return registry, fmt.Errorf("nil agent")
		}
		stage := a.Stage()
		if !stage.Valid() || stage == consts.End {
			return registry, fmt.Errorf("agent registered for invalid stage %s", stage)
		}
		if registry[stage] != nil {
			slog.Error("Agent key mismatch: stage %s registered twice", stage)
			return registry, fmt.Errorf("agent key mismatch: stage %s registered twice", stage)
		}
		registry[stage] = a
	}

	// 确保图中每个阶段都有对应的处理器
	for _, stage := range consts.GetAgentNameList() {
		if registry[stage] == nil {
			slog.Error("Agent key mismatch: missing handler for stage %s", stage)
			return registry, fmt.Errorf("agent key mismatch: missing handler for stage %s", stage)
		}
	}
	return registry, nil
}
