package model

import (
	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/entity/consts"
)

// CurrentPlan 当前计划：已校验的计划或模型原文，二者至多其一
type CurrentPlan struct {
	Plan *Plan  `json:"plan,omitempty"`
	Raw  string `json:"raw,omitempty"`
}

// PlanOf 包装已校验计划
func PlanOf(p *Plan) *CurrentPlan {
	return &CurrentPlan{Plan: p}
}

// RawPlanOf 包装未解析的计划原文
func RawPlanOf(raw string) *CurrentPlan {
	return &CurrentPlan{Raw: raw}
}

// Text 返回计划文本，已校验计划会重新序列化
func (c *CurrentPlan) Text() string {
	if c == nil {
		return ""
	}
	if c.Plan != nil {
		return MustJSON(c.Plan)
	}
	return c.Raw
}

// State 单个会话线程在阶段间流转的状态
type State struct {
	// 对话消息，只追加
	Messages []*schema.Message `json:"messages,omitempty"`

	Locale                         string       `json:"locale,omitempty"`
	Observations                   []string     `json:"observations,omitempty"` // 只追加
	PlanIterations                 int          `json:"plan_iterations"`
	CurrentPlan                    *CurrentPlan `json:"current_plan,omitempty"`
	FinalReport                    string       `json:"final_report,omitempty"`
	AutoAcceptedPlan               bool         `json:"auto_accepted_plan"`
	EnableBackgroundInvestigation  bool         `json:"enable_background_investigation"`
	BackgroundInvestigationResults *string      `json:"background_investigation_results,omitempty"`
}

// NewState 创建带默认值的初始状态
func NewState(messages []*schema.Message, autoAccepted, enableBackground bool) *State {
	return &State{
		Messages:                      append([]*schema.Message{}, messages...),
		Locale:                        consts.DefaultLocale,
		Observations:                  []string{},
		AutoAcceptedPlan:              autoAccepted,
		EnableBackgroundInvestigation: enableBackground,
	}
}

// Clone 拷贝状态，阶段函数只拿到副本
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]*schema.Message, len(s.Messages))
	for i, msg := range s.Messages {
		if msg == nil {
			continue
		}
		m := *msg
		out.Messages[i] = &m
	}
	out.Observations = append([]string{}, s.Observations...)
	if s.CurrentPlan != nil {
		out.CurrentPlan = &CurrentPlan{Plan: s.CurrentPlan.Plan.Clone(), Raw: s.CurrentPlan.Raw}
	}
	if s.BackgroundInvestigationResults != nil {
		res := *s.BackgroundInvestigationResults
		out.BackgroundInvestigationResults = &res
	}
	return &out
}

// LastMessage 最后一条消息
func (s *State) LastMessage() *schema.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// Plan 返回已校验计划，原文或不存在时返回 nil
func (s *State) Plan() *Plan {
	if s.CurrentPlan == nil {
		return nil
	}
	return s.CurrentPlan.Plan
}
