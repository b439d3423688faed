package consts

import (
	"fmt"
)

const (
	GraphName     = "deer_flow_go_agent" // 代理图名称，用于标识整个工作流
	DefaultThread = "__default__"        // 未指定会话时的线程ID占位符，由引擎生成新ID
	DefaultLocale = "en-US"              // 默认语言
)

// Stage 工作流阶段，闭合枚举
type Stage uint8

// 阶段定义，End 为终止标记
const (
	Coordinator            Stage = iota // 任务协调者，负责意图识别和语言检测
	BackgroundInvestigator              // 背景调查者，负责规划前的联网搜索
	Planner                             // 计划者，负责制定和优化执行计划
	Human                               // 人工反馈，负责计划审核
	ResearchTeam                        // 研究团队，负责分派待执行的步骤
	Researcher                          // 研究者，负责执行研究步骤
	Reporter                            // 报告者，负责生成最终报告
	End                                 // 流程结束
	StageCount                          // 阶段总数，仅用于数组长度
)

// stageNames 阶段名称，与对外事件中的 agent 字段一致
var stageNames = [StageCount]string{
	Coordinator:            "coordinator",
	BackgroundInvestigator: "background_investigator",
	Planner:                "planner",
	Human:                  "human_feedback",
	ResearchTeam:           "research_team",
	Researcher:             "researcher",
	Reporter:               "reporter",
	End:                    "__end__",
}

// String 返回阶段名称
func (s Stage) String() string {
	if s >= StageCount {
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
	return stageNames[s]
}

// Valid 是否为合法阶段
func (s Stage) Valid() bool {
	return s < StageCount
}

// ParseStage 根据名称解析阶段
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// MarshalText 序列化为阶段名称，checkpoint 中以名称存储
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText 从阶段名称反序列化
func (s *Stage) UnmarshalText(text []byte) error {
	stage, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = stage
	return nil
}

// GetAgentNameList 返回全部执行阶段（不含 End）
func GetAgentNameList() []Stage {
	return []Stage{
		Coordinator,
		BackgroundInvestigator,
		Planner,
		Human,
		ResearchTeam,
		Researcher,
		Reporter,
	}
}

// 人类反馈选项，对应中断事件中的 options.value
const (
	EditPlan   = "edit_plan" // 编辑计划选项，用户选择修改当前计划
	AcceptPlan = "accepted"  // 接受计划选项，用户确认当前计划
)

// 恢复输入中的标签
const (
	TagEditPlan = "EDIT_PLAN"
	TagAccepted = "ACCEPTED"
)

// 对外事件类型
const (
	EventMessageChunk   = "message_chunk"
	EventToolCalls      = "tool_calls"
	EventToolCallChunks = "tool_call_chunks"
	EventToolCallResult = "tool_call_result"
	EventInterrupt      = "interrupt"
	EventError          = "error"
)

// 执行者类型，对应 mcp_settings 中的 add_to_agents
const (
	AgentTypeResearcher = "researcher"
)
