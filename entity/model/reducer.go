package model

import (
	"github.com/cloudwego/eino/schema"
)

// Update 阶段函数返回的声明式状态更新，nil 表示不修改该字段
type Update struct {
	Messages                       []*schema.Message `json:"messages,omitempty"`
	Locale                         *string           `json:"locale,omitempty"`
	Observations                   []string          `json:"observations,omitempty"`
	PlanIterations                 *int              `json:"plan_iterations,omitempty"`
	CurrentPlan                    *CurrentPlan      `json:"current_plan,omitempty"`
	FinalReport                    *string           `json:"final_report,omitempty"`
	AutoAcceptedPlan               *bool             `json:"auto_accepted_plan,omitempty"`
	EnableBackgroundInvestigation  *bool             `json:"enable_background_investigation,omitempty"`
	BackgroundInvestigationResults *string           `json:"background_investigation_results,omitempty"`
}

// MergeRule 字段合并规则
type MergeRule string

const (
	Append    MergeRule = "append"    // 追加
	Overwrite MergeRule = "overwrite" // 后写覆盖
)

// reducer 单个字段的合并函数
type reducer struct {
	Field string
	Rule  MergeRule
	Apply func(s *State, u *Update)
}

// reducers 字段合并表，所有状态字段的合并规则集中在此
var reducers = []reducer{
	{"messages", Append, func(s *State, u *Update) {
		s.Messages = append(s.Messages, u.Messages...)
	}},
	{"locale", Overwrite, func(s *State, u *Update) {
		if u.Locale != nil {
			s.Locale = *u.Locale
		}
	}},
	{"observations", Append, func(s *State, u *Update) {
		s.Observations = append(s.Observations, u.Observations...)
	}},
	{"plan_iterations", Overwrite, func(s *State, u *Update) {
		if u.PlanIterations != nil {
			s.PlanIterations = *u.PlanIterations
		}
	}},
	{"current_plan", Overwrite, func(s *State, u *Update) {
		if u.CurrentPlan != nil {
			s.CurrentPlan = u.CurrentPlan
		}
	}},
	{"final_report", Overwrite, func(s *State, u *Update) {
		if u.FinalReport != nil {
			s.FinalReport = *u.FinalReport
		}
	}},
	{"auto_accepted_plan", Overwrite, func(s *State, u *Update) {
		if u.AutoAcceptedPlan != nil {
			s.AutoAcceptedPlan = *u.AutoAcceptedPlan
		}
	}},
	{"enable_background_investigation", Overwrite, func(s *State, u *Update) {
		if u.EnableBackgroundInvestigation != nil {
			s.EnableBackgroundInvestigation = *u.EnableBackgroundInvestigation
		}
	}},
	{"background_investigation_results", Overwrite, func(s *State, u *Update) {
		if u.BackgroundInvestigationResults != nil {
			res := *u.BackgroundInvestigationResults
			s.BackgroundInvestigationResults = &res
		}
	}},
}

// Apply 按合并表把更新应用到状态
func Apply(s *State, u *Update) {
	if s == nil || u == nil {
		return
	}
	for _, r := range reducers {
		r.Apply(s, u)
	}
}

// MergeRules 返回字段到合并规则的映射
func MergeRules() map[string]MergeRule {
	out := make(map[string]MergeRule, len(reducers))
	for _, r := range reducers {
		out[r.Field] = r.Rule
	}
	return out
}

// Ptr 取地址辅助函数
func Ptr[T any](v T) *T {
	return &v
}
