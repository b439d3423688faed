package repoter

import (
	"context"
	"fmt"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/agent/comm"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
	"github.com/hildam/deerflow/repo/template"
)

// formatInstruction 报告格式的详细指导，强调结构化输出和Markdown表格的使用
const formatInstruction = "IMPORTANT: Structure your report according to the format in the prompt. Remember to include:\n\n1. Key Points - A bulleted list of the most important findings\n2. Overview - A brief introduction to the topic\n3. Detailed Analysis - Organized into logical sections\n4. Survey Note (optional) - For more comprehensive reports\n5. Key Citations - List all references at the end\n\nFor citations, DO NOT include inline citations in the text. Instead, place all citations in the 'Key Citations' section at the end using the format: `- [Source Title](URL)`. Include an empty line between each citation for better readability.\n\nPRIORITIZE USING MARKDOWN TABLES for data presentation and comparison. Use tables whenever presenting comparative data, statistics, features, or options. Structure tables with clear headers and aligned columns. Example table format:\n\n| Feature | Description | Pros | Cons |\n|---------|-------------|------|------|\n| Feature 1 | Description 1 | Pros 1 | Cons 1 |\n| Feature 2 | Description 2 | Pros 2 | Cons 2 |"

// repoterImpl 报告者
type repoterImpl struct {
	deps *comm.Deps
}

// NewRepoter 创建实例
func NewRepoter(deps *comm.Deps) *repoterImpl {
	return &repoterImpl{deps: deps}
}

// Stage 阶段名称
func (r *repoterImpl) Stage() consts.Stage {
	return consts.Reporter
}

// Run 汇总研究任务和全部观察结果生成最终报告，流程到此结束
func (r *repoterImpl) Run(ctx context.Context, in *model.Input) (*model.Command, error) {
	state := in.State

	messages, err := r.deps.Renderer.Render(ctx, consts.Reporter.String(), template.Vars(state, in.Config),
		[]*schema.Message{requirements(state.Plan())}, instructions(state.Observations)...)
	if err != nil {
		slog.Error("repoter failed, render prompt err = %+v", err)
		return nil, err
	}

	resp, err := r.deps.Stream(ctx, consts.Reporter, r.deps.ChatModel, messages, in)
	if err != nil {
		slog.Error("repoter failed, err = %+v", err)
		return nil, err
	}
	slog.Debug("repoter debug, report length = %d", len(resp.Content))

	return model.Continue(&model.Update{FinalReport: model.Ptr(resp.Content)}, consts.End), nil
}

// requirements 研究任务的基本信息（标题和描述）
func requirements(plan *model.Plan) *schema.Message {
	var title, thought string
	if plan != nil {
		title, thought = plan.Title, plan.Thought
	}
	return schema.UserMessage(fmt.Sprintf("# Research Requirements\n\n## Task\n\n %v \n\n## Description\n\n %v", title, thought))
}

// instructions 格式指导和每条观察结果，内容不经过模板渲染
func instructions(observations []string) []*schema.Message {
	out := make([]*schema.Message, 0, len(observations)+1)
	out = append(out, schema.SystemMessage(formatInstruction))
	for _, obs := range observations {
		out = append(out, schema.UserMessage(fmt.Sprintf("Below are some observations for the research task:\n\n %v", obs)))
	}
	return out
}
