package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		ok        bool
		title     string
		stepCount int
	}{
		{
			name:      "plain json",
			input:     `{"locale":"en-US","has_enough_context":false,"thought":"t","title":"AI","steps":[{"need_web_search":true,"title":"s1","description":"d1","step_type":"research"}]}`,
			ok:        true,
			title:     "AI",
			stepCount: 1,
		},
		{
			name:      "json fence",
			input:     "```json\n{\"has_enough_context\": true, \"title\": \"fenced\", \"steps\": []}\n```",
			ok:        true,
			title:     "fenced",
			stepCount: 0,
		},
		{
			name:      "ts fence",
			input:     "```ts\n{\"has_enough_context\": true, \"title\": \"ts\"}\n```",
			ok:        true,
			title:     "ts",
			stepCount: 0,
		},
		{
			name:      "trailing comma",
			input:     `{"has_enough_context": false, "title": "comma", "steps": [{"title": "a", "step_type": "processing"},],}`,
			ok:        true,
			title:     "comma",
			stepCount: 1,
		},
		{
			name:      "upper case step type",
			input:     `{"has_enough_context": false, "steps": [{"title": "a", "step_type": "RESEARCH"}]}`,
			ok:        true,
			stepCount: 1,
		},
		{
			name:      "unquoted keys and single quotes",
			input:     `{has_enough_context: true, title: 'q', steps: [{need_web_search: true, title: 'a', description: 'd', step_type: 'research'}]}`,
			ok:        true,
			title:     "q",
			stepCount: 1,
		},
		{name: "prose", input: "I cannot produce a plan for this.", ok: false},
		{name: "missing step type", input: `{"has_enough_context": false, "steps": [{"title": "a", "description": "d"}]}`, ok: false},
		{name: "null step", input: `{"has_enough_context":false,"steps":[null]}`, ok: false},
		{name: "empty", input: "", ok: false},
		{name: "empty fence", input: "```json\n```", ok: false},
		{name: "unknown step type", input: `{"has_enough_context": false, "steps": [{"title": "a", "step_type": "coding"}]}`, ok: false},
		{name: "steps not array", input: `{"has_enough_context": false, "steps": "many"}`, ok: false},
		{name: "wrong field type", input: `{"has_enough_context": "yes", "steps": []}`, ok: false},
		{name: "object without plan fields", input: `{"answer": 42}`, ok: false},
		{name: "top level array", input: `[1, 2, 3]`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, ok := ParsePlan(tt.input)
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.Nil(t, plan)
				return
			}
			require.NotNil(t, plan)
			assert.Equal(t, tt.title, plan.Title)
			assert.Len(t, plan.Steps, tt.stepCount)
		})
	}
}

func TestParsePlanNeverPanics(t *testing.T) {
	inputs := []string{
		"{", "}", "[", "```", "```json", "{\"steps\": [", "{'steps': [{'title': 'x'", "\x00\x01{",
		"{\"steps\": [null]}", "{\"steps\": [{\"execution_res\": 12}]}",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { ParsePlan(in) }, in)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	res := "done"
	plan := &Plan{
		Locale:           "zh-CN",
		HasEnoughContext: false,
		Thought:          "think",
		Title:            "title",
		Steps: []Step{
			{NeedWebSearch: true, Title: "a", Description: "da", StepType: Research, ExecutionRes: &res},
			{Title: "b", Description: "db", StepType: Processing},
		},
	}

	data, err := json.Marshal(plan)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"execution_res":null`)

	parsed, ok := ParsePlan(string(data))
	require.True(t, ok)
	assert.Equal(t, plan, parsed)
}

func TestPlanCompleteness(t *testing.T) {
	res := "r"
	plan := &Plan{Steps: []Step{{Title: "a", ExecutionRes: &res}, {Title: "b"}}}
	assert.False(t, plan.Complete())
	assert.Equal(t, 1, plan.FirstPending())

	clone := plan.Clone()
	clone.Steps[1].ExecutionRes = &res
	assert.True(t, clone.Complete())
	assert.Equal(t, -1, clone.FirstPending())
	assert.True(t, plan.Steps[1].Pending(), "clone must not share steps")

	empty := &Plan{}
	assert.True(t, empty.Complete())
}

func TestRepairJSON(t *testing.T) {
	out, ok := RepairJSON("```json\n{\"a\": 1,}\n```")
	require.True(t, ok)
	assert.JSONEq(t, `{"a": 1}`, out)

	out, ok = RepairJSON("hello world")
	assert.False(t, ok)
	assert.Equal(t, "hello world", out)
}

func TestParsePlanRepairsUnquotedJSON(t *testing.T) {
	plan, ok := ParsePlan(`{has_enough_context: true, title: 'q', steps: [{need_web_search: true, title: 'a', description: 'd', step_type: 'research'}]}`)
	require.True(t, ok)
	require.NotNil(t, plan)
	assert.True(t, plan.HasEnoughContext)
	assert.Equal(t, "q", plan.Title)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, Step{NeedWebSearch: true, Title: "a", Description: "d", StepType: Research}, plan.Steps[0])
}
