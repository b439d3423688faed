package human

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hildam/deerflow/agent/agenttest"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
)

const rawPlan = `{"locale":"zh-CN","has_enough_context":false,"thought":"t","title":"Deer","steps":[{"need_web_search":true,"title":"diet","description":"d","step_type":"research"}]}`

func reviewState(raw string) *model.State {
	state := model.NewState(nil, false, true)
	state.CurrentPlan = model.RawPlanOf(raw)
	return state
}

func feedback(t *testing.T, raw string) *model.Feedback {
	t.Helper()
	fb, err := model.ParseFeedback(raw)
	require.NoError(t, err)
	return fb
}

func TestHumanSuspendsWithoutFeedback(t *testing.T) {
	h := NewHuman()
	assert.Equal(t, consts.Human, h.Stage())

	cmd, err := h.Run(context.Background(), agenttest.Input(reviewState(rawPlan), nil))
	require.NoError(t, err)
	require.True(t, cmd.Suspended())
	assert.Equal(t, ReviewPrompt, cmd.Interrupt.Prompt)
	assert.Equal(t, model.ReviewOptions(), cmd.Interrupt.Options)
}

func TestHumanAccepted(t *testing.T) {
	in := agenttest.Input(reviewState(rawPlan), nil)
	in.Feedback = feedback(t, "[accepted] looks good")

	cmd, err := NewHuman().Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, consts.ResearchTeam, cmd.Goto)
	assert.Equal(t, 1, *cmd.Update.PlanIterations)
	assert.Equal(t, "zh-CN", *cmd.Update.Locale)
	require.NotNil(t, cmd.Update.CurrentPlan.Plan)
	assert.Len(t, cmd.Update.CurrentPlan.Plan.Steps, 1)
}

func TestHumanEditPlan(t *testing.T) {
	in := agenttest.Input(reviewState(rawPlan), nil)
	in.Feedback = feedback(t, "[EDIT_PLAN] add a step about habitat")

	cmd, err := NewHuman().Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, consts.Planner, cmd.Goto)
	require.Len(t, cmd.Update.Messages, 1)
	assert.Equal(t, "feedback", cmd.Update.Messages[0].Name)
	assert.Equal(t, "[EDIT_PLAN] add a step about habitat", cmd.Update.Messages[0].Content)
	assert.Nil(t, cmd.Update.PlanIterations)
}

func TestHumanAutoAccepted(t *testing.T) {
	state := reviewState(`{"has_enough_context":true,"steps":[]}`)
	state.AutoAcceptedPlan = true
	state.PlanIterations = 2

	cmd, err := NewHuman().Run(context.Background(), agenttest.Input(state, nil))
	require.NoError(t, err)
	assert.Equal(t, consts.Reporter, cmd.Goto)
	assert.Equal(t, 3, *cmd.Update.PlanIterations)
	assert.Nil(t, cmd.Update.Locale)
}

func TestHumanInvalidPlan(t *testing.T) {
	for _, tt := range []struct {
		iterations int
		want       consts.Stage
	}{{0, consts.End}, {1, consts.Reporter}} {
		state := reviewState("not a plan")
		state.AutoAcceptedPlan = true
		state.PlanIterations = tt.iterations

		cmd, err := NewHuman().Run(context.Background(), agenttest.Input(state, nil))
		require.NoError(t, err)
		assert.Equal(t, tt.want, cmd.Goto)
		assert.Nil(t, cmd.Update)
	}
}

func TestHumanRejectsUnknownFeedback(t *testing.T) {
	in := agenttest.Input(reviewState(rawPlan), nil)
	in.Feedback = &model.Feedback{Tag: "MAYBE", Raw: "[MAYBE]"}

	_, err := NewHuman().Run(context.Background(), in)
	assert.ErrorIs(t, err, model.ErrInvalidFeedback)
}
