package consts

// transitions 阶段流转表，key 为当前阶段，value 为允许的下一阶段
var transitions = [StageCount][]Stage{
	Coordinator:            {End, BackgroundInvestigator, Planner},
	BackgroundInvestigator: {Planner},
	Planner:                {End, Reporter, Planner, Human},
	Human:                  {End, Planner, ResearchTeam, Reporter},
	ResearchTeam:           {Planner, Researcher},
	Researcher:             {ResearchTeam},
	Reporter:               {End},
	End:                    nil,
}

// EntryStage 图的入口阶段（START -> coordinator）
const EntryStage = Coordinator

// CanTransition 判断 from -> to 是否为合法边
func CanTransition(from, to Stage) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStages 返回某阶段允许的全部后继
func NextStages(from Stage) []Stage {
	if !from.Valid() {
		return nil
	}
	out := make([]Stage, len(transitions[from]))
	copy(out, transitions[from])
	return out
}
