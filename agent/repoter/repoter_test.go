package repoter

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hildam/deerflow/agent/agenttest"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
)

func TestRepoterWritesFinalReport(t *testing.T) {
	cm := agenttest.NewChatModel(schema.AssistantMessage("# Deer Report\n\nDeer eat {{ grass }}.", nil))
	rec := &agenttest.Recorder{}

	state := model.NewState(nil, true, false)
	state.CurrentPlan = model.PlanOf(&model.Plan{Title: "Deer", Thought: "diet study"})
	state.Observations = []string{"forests", "grass {{ x }}"}

	r := NewRepoter(agenttest.Deps(cm))
	assert.Equal(t, consts.Reporter, r.Stage())
	cmd, err := r.Run(context.Background(), agenttest.Input(state, rec))
	require.NoError(t, err)
	assert.Equal(t, consts.End, cmd.Goto)
	assert.Equal(t, "# Deer Report\n\nDeer eat {{ grass }}.", *cmd.Update.FinalReport)
	assert.Equal(t, *cmd.Update.FinalReport, rec.Content())

	calls := cm.Calls()
	require.Len(t, calls, 1)
	msgs := calls[0]
	// system prompt, requirements, format instruction, two observations
	require.Len(t, msgs, 5)
	assert.Contains(t, msgs[1].Content, "## Task\n\n Deer")
	assert.Contains(t, msgs[1].Content, "diet study")
	assert.Equal(t, formatInstruction, msgs[2].Content)
	assert.Equal(t, "Below are some observations for the research task:\n\n grass {{ x }}", msgs[4].Content)
}

func TestRepoterWithoutPlan(t *testing.T) {
	cm := agenttest.NewChatModel(schema.AssistantMessage("report", nil))
	cmd, err := NewRepoter(agenttest.Deps(cm)).Run(context.Background(), agenttest.Input(model.NewState(nil, true, false), nil))
	require.NoError(t, err)
	assert.Equal(t, "report", *cmd.Update.FinalReport)
}
