package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HildaM/logs/slog"
	"github.com/kaptinlin/jsonrepair"
)

// StepType 步骤类型
type StepType string

const (
	Research   StepType = "research"   // 研究类步骤，需要信息收集
	Processing StepType = "processing" // 处理类步骤，需要计算或代码处理
)

// UnmarshalJSON 反序列化时校验枚举值，大小写不敏感
func (t *StepType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("step_type must be a string: %w", err)
	}
	switch StepType(strings.ToLower(strings.TrimSpace(raw))) {
	case Research:
		*t = Research
	case Processing:
		*t = Processing
	default:
		return fmt.Errorf("unknown step_type %q", raw)
	}
	return nil
}

// Step 计划中的单个步骤
type Step struct {
	NeedWebSearch bool     `json:"need_web_search"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	StepType      StepType `json:"step_type"`
	ExecutionRes  *string  `json:"execution_res,omitempty"` // 为空表示步骤尚未执行
}

// Pending 步骤是否待执行
func (s *Step) Pending() bool {
	return s.ExecutionRes == nil
}

// Plan 研究计划
type Plan struct {
	Locale           string `json:"locale"`
	HasEnoughContext bool   `json:"has_enough_context"`
	Thought          string `json:"thought"`
	Title            string `json:"title"`
	Steps            []Step `json:"steps"`
}

// Complete 全部步骤均已执行
func (p *Plan) Complete() bool {
	for i := range p.Steps {
		if p.Steps[i].Pending() {
			return false
		}
	}
	return true
}

// FirstPending 返回第一个待执行步骤的下标，没有时返回 -1
func (p *Plan) FirstPending() int {
	for i := range p.Steps {
		if p.Steps[i].Pending() {
			return i
		}
	}
	return -1
}

// Clone 深拷贝计划
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]Step, len(p.Steps))
	for i, step := range p.Steps {
		if step.ExecutionRes != nil {
			res := *step.ExecutionRes
			step.ExecutionRes = &res
		}
		out.Steps[i] = step
	}
	return &out
}

// ParsePlan 从模型输出中修复并解析计划，失败时返回 false，调用方保留原文
func ParsePlan(text string) (plan *Plan, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ParsePlan failed, panic = %v", r)
			plan, ok = nil, false
		}
	}()

	repaired, ok := RepairJSON(text)
	if !ok {
		return nil, false
	}

	// 顶层必须是对象，且至少包含计划的关键字段，避免把任意文本修复成"计划"
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(repaired), &fields); err != nil || fields == nil {
		slog.Debug("ParsePlan failed, not a json object, err = %+v", err)
		return nil, false
	}
	_, hasContext := fields["has_enough_context"]
	_, hasSteps := fields["steps"]
	if !hasContext && !hasSteps {
		return nil, false
	}

	plan = &Plan{}
	if err := json.Unmarshal([]byte(repaired), plan); err != nil {
		slog.Debug("ParsePlan failed, decode err = %+v", err)
		return nil, false
	}
	if plan.Steps == nil {
		plan.Steps = []Step{}
	}
	// 缺失 step_type 或 null 元素不会触发 UnmarshalJSON，需单独校验
	for i := range plan.Steps {
		if t := plan.Steps[i].StepType; t != Research && t != Processing {
			slog.Debug("ParsePlan failed, step %d has no valid step_type", i)
			return nil, false
		}
	}
	return plan, true
}

// RepairJSON 去除代码块标记并修复常见的 JSON 瑕疵（尾逗号、未加引号的 key 等）
// 仅当内容看起来是 JSON 且修复成功时返回 true
func RepairJSON(content string) (string, bool) {
	content = strings.TrimSpace(content)

	isJSONLike := strings.HasPrefix(content, "{") ||
		strings.HasPrefix(content, "[") ||
		strings.Contains(content, "```json") ||
		strings.Contains(content, "```ts")
	if !isJSONLike {
		return content, false
	}

	processed := content
	switch {
	case strings.HasPrefix(processed, "```json"):
		processed = strings.TrimPrefix(processed, "```json")
	case strings.HasPrefix(processed, "```ts"):
		processed = strings.TrimPrefix(processed, "```ts")
	case strings.HasPrefix(processed, "```"):
		processed = strings.TrimPrefix(processed, "```")
	}
	processed = strings.TrimSuffix(strings.TrimSpace(processed), "```")
	processed = strings.TrimSpace(processed)
	if processed == "" {
		return content, false
	}

	// 合法 JSON 直接返回，避免修复器改写内容
	if json.Valid([]byte(processed)) {
		return processed, true
	}

	repaired, err := jsonrepair.JSONRepair(processed)
	if err != nil {
		slog.Debug("RepairJSON failed, jsonrepair err = %+v", err)
		return content, false
	}
	if !json.Valid([]byte(repaired)) {
		return content, false
	}
	return repaired, true
}
