package model

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryUpdateFieldHasReducer(t *testing.T) {
	rules := MergeRules()
	typ := reflect.TypeOf(Update{})
	require.Equal(t, typ.NumField(), len(rules))
	for i := 0; i < typ.NumField(); i++ {
		tag := strings.Split(typ.Field(i).Tag.Get("json"), ",")[0]
		_, ok := rules[tag]
		assert.True(t, ok, "field %s has no reducer", tag)
	}
	assert.Equal(t, Append, rules["messages"])
	assert.Equal(t, Append, rules["observations"])
	assert.Equal(t, Overwrite, rules["current_plan"])
}

func TestApply(t *testing.T) {
	s := NewState([]*schema.Message{schema.UserMessage("hi")}, false, true)
	assert.Equal(t, "en-US", s.Locale)

	Apply(s, &Update{
		Messages:       []*schema.Message{schema.AssistantMessage("a", nil)},
		Observations:   []string{"o1"},
		Locale:         Ptr("zh-CN"),
		PlanIterations: Ptr(1),
	})
	Apply(s, &Update{
		Observations:                   []string{"o2"},
		FinalReport:                    Ptr("report"),
		BackgroundInvestigationResults: Ptr("[]"),
		AutoAcceptedPlan:               Ptr(true),
	})

	assert.Len(t, s.Messages, 2)
	assert.Equal(t, []string{"o1", "o2"}, s.Observations)
	assert.Equal(t, "zh-CN", s.Locale)
	assert.Equal(t, 1, s.PlanIterations)
	assert.Equal(t, "report", s.FinalReport)
	assert.True(t, s.AutoAcceptedPlan)
	assert.True(t, s.EnableBackgroundInvestigation)
	require.NotNil(t, s.BackgroundInvestigationResults)
	assert.Equal(t, "[]", *s.BackgroundInvestigationResults)

	// 空更新不改变任何字段
	before := s.Clone()
	Apply(s, &Update{})
	assert.Equal(t, before, s)
}

func TestAppendOnlyFieldsNeverShrink(t *testing.T) {
	s := NewState(nil, false, false)
	updates := []*Update{
		{Observations: []string{"a"}},
		{Observations: nil, Messages: nil},
		{Messages: []*schema.Message{schema.UserMessage("x")}},
		{Observations: []string{}},
		{Observations: []string{"b", "c"}},
	}
	prevObs, prevMsgs := 0, 0
	for _, u := range updates {
		Apply(s, u)
		assert.GreaterOrEqual(t, len(s.Observations), prevObs)
		assert.GreaterOrEqual(t, len(s.Messages), prevMsgs)
		prevObs, prevMsgs = len(s.Observations), len(s.Messages)
	}
	assert.Equal(t, []string{"a", "b", "c"}, s.Observations)
}

func TestStateClone(t *testing.T) {
	s := NewState([]*schema.Message{schema.UserMessage("hi")}, false, false)
	s.CurrentPlan = PlanOf(&Plan{Title: "p", Steps: []Step{{Title: "s"}}})

	c := s.Clone()
	c.Messages[0].Content = "changed"
	c.Observations = append(c.Observations, "x")
	c.CurrentPlan.Plan.Steps[0].ExecutionRes = Ptr("done")

	assert.Equal(t, "hi", s.Messages[0].Content)
	assert.Empty(t, s.Observations)
	assert.True(t, s.Plan().Steps[0].Pending())
}

func TestStateJSON(t *testing.T) {
	s := NewState([]*schema.Message{schema.UserMessage("hi")}, true, false)
	s.CurrentPlan = RawPlanOf("not a plan")

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var out State
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "not a plan", out.CurrentPlan.Text())
	assert.Nil(t, out.Plan())
	assert.True(t, out.AutoAcceptedPlan)
	assert.Equal(t, "hi", out.LastMessage().Content)
}

func TestCurrentPlanText(t *testing.T) {
	var empty *CurrentPlan
	assert.Equal(t, "", empty.Text())

	cp := PlanOf(&Plan{Title: "t", Steps: []Step{}})
	parsed, ok := ParsePlan(cp.Text())
	require.True(t, ok)
	assert.Equal(t, "t", parsed.Title)
}
