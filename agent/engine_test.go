package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hildam/deerflow/agent/agenttest"
	"github.com/hildam/deerflow/agent/coordinator"
	"github.com/hildam/deerflow/entity/conf"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
	"github.com/hildam/deerflow/repo/checkpoint"
)

const (
	enoughPlan = `{"locale":"en-US","has_enough_context":true,"thought":"known","title":"Deer","steps":[]}`
	reviewPlan = `{"locale":"en-US","has_enough_context":false,"thought":"t","title":"Deer","steps":[{"need_web_search":true,"title":"diet","description":"d","step_type":"RESEARCH"}]}`
)

// stubAgent 测试用阶段处理器
type stubAgent struct {
	stage consts.Stage
	run   func(ctx context.Context, in *model.Input) (*model.Command, error)
}

func (s *stubAgent) Stage() consts.Stage { return s.stage }

func (s *stubAgent) Run(ctx context.Context, in *model.Input) (*model.Command, error) {
	return s.run(ctx, in)
}

func handoff() *schema.Message {
	return agenttest.ToolCall("c1", coordinator.HandoffTool, `{"task_title":"deer","locale":"en-US"}`)
}

func newEngine(t *testing.T, cm *agenttest.ChatModel, replace ...Agent) (*Engine, checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewMemory(16)
	require.NoError(t, err)

	agents := NewAgents(agenttest.Deps(cm))
	for _, r := range replace {
		for i, a := range agents {
			if a.Stage() == r.Stage() {
				agents[i] = r
			}
		}
	}
	e, err := NewEngine(agents, store, nil)
	require.NoError(t, err)
	return e, store
}

func userState() *model.State {
	return model.NewState([]*schema.Message{schema.UserMessage("what do deer eat?")}, false, false)
}

func drain(t *testing.T, sr *schema.StreamReader[*model.Trace]) []*model.Trace {
	t.Helper()
	defer sr.Close()
	var out []*model.Trace
	for {
		tr, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, tr)
	}
}

func traceErr(traces []*model.Trace) error {
	for _, tr := range traces {
		if tr.Err != nil {
			return tr.Err
		}
	}
	return nil
}

func interrupts(traces []*model.Trace) []*model.Trace {
	var out []*model.Trace
	for _, tr := range traces {
		if tr.Interrupt != nil {
			out = append(out, tr)
		}
	}
	return out
}

func TestEngineEnoughContextGoesToReporter(t *testing.T) {
	cm := agenttest.NewChatModel(handoff(), schema.AssistantMessage(enoughPlan, nil), schema.AssistantMessage("final report", nil))
	e, _ := newEngine(t, cm)
	ctx := context.Background()

	sr, threadID, err := e.Start(ctx, "thread-1", userState(), conf.DefaultRunConfig())
	require.NoError(t, err)
	assert.Equal(t, "thread-1", threadID)

	traces := drain(t, sr)
	require.NoError(t, traceErr(traces))
	assert.Empty(t, interrupts(traces))

	var agents []string
	for _, tr := range traces {
		agent, _, _ := strings.Cut(tr.Namespace, ":")
		if len(agents) == 0 || agents[len(agents)-1] != agent {
			agents = append(agents, agent)
		}
	}
	assert.Equal(t, []string{"coordinator", "planner", "reporter"}, agents)

	cp, err := e.Checkpoint(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, consts.End, cp.Next)
	assert.Nil(t, cp.Interrupt)
	assert.Equal(t, 3, cp.Step)
	assert.Equal(t, "final report", cp.State.FinalReport)
	assert.Equal(t, 0, cp.State.PlanIterations)

	_, err = e.Resume(ctx, threadID, "[ACCEPTED]", nil)
	assert.ErrorIs(t, err, ErrNoPendingInterrupt)
}

func TestEngineUnparsableFirstPlanEnds(t *testing.T) {
	cm := agenttest.NewChatModel(handoff(), schema.AssistantMessage("no plan today", nil))
	e, _ := newEngine(t, cm)

	sr, threadID, err := e.Start(context.Background(), consts.DefaultThread, userState(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, consts.DefaultThread, threadID)
	assert.NotEmpty(t, threadID)
	require.NoError(t, traceErr(drain(t, sr)))

	cp, err := e.Checkpoint(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, consts.End, cp.Next)
	assert.Empty(t, cp.State.FinalReport)
	assert.Len(t, cm.Calls(), 2, "reporter never runs")
}

func TestEngineInterruptAndAccept(t *testing.T) {
	cm := agenttest.NewChatModel(
		handoff(),
		schema.AssistantMessage(reviewPlan, nil),
		schema.AssistantMessage("Deer eat grass.", nil),
		schema.AssistantMessage("final report", nil),
	)
	e, store := newEngine(t, cm)
	ctx := context.Background()

	sr, threadID, err := e.Start(ctx, "", userState(), nil)
	require.NoError(t, err)
	traces := drain(t, sr)
	require.NoError(t, traceErr(traces))

	pending := interrupts(traces)
	require.Len(t, pending, 1)
	assert.Equal(t, "Please review the plan.", pending[0].Interrupt.Prompt)
	assert.True(t, strings.HasPrefix(pending[0].Namespace, "human_feedback:"))

	cp, err := e.Checkpoint(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, consts.Human, cp.Next)
	require.NotNil(t, cp.Interrupt)
	assert.Equal(t, pending[0].Interrupt.ID, cp.Interrupt.ID)
	before, _, err := store.Get(ctx, threadID)
	require.NoError(t, err)

	// 不支持的反馈被拒绝，检查点保持不变
	_, err = e.Resume(ctx, threadID, "[MAYBE] sure", nil)
	assert.ErrorIs(t, err, model.ErrInvalidFeedback)
	after, _, err := store.Get(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	sr, err = e.Resume(ctx, threadID, "[accepted] go", nil)
	require.NoError(t, err)
	traces = drain(t, sr)
	require.NoError(t, traceErr(traces))
	assert.Empty(t, interrupts(traces))

	calls := cm.Calls()
	require.Len(t, calls, 4)
	researcherInput := calls[2]
	assert.Contains(t, researcherInput[len(researcherInput)-1].Content, "DO NOT include inline citations")

	cp, err = e.Checkpoint(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, consts.End, cp.Next)
	assert.Equal(t, 1, cp.State.PlanIterations)
	assert.Equal(t, []string{"Deer eat grass."}, cp.State.Observations)
	assert.Equal(t, "final report", cp.State.FinalReport)
	require.NotNil(t, cp.State.Plan())
	assert.True(t, cp.State.Plan().Complete())
}

func TestEngineResumeUnknownThread(t *testing.T) {
	e, _ := newEngine(t, agenttest.NewChatModel())
	_, err := e.Resume(context.Background(), "missing", "[ACCEPTED]", nil)
	assert.ErrorIs(t, err, ErrUnknownThread)

	// 锁已释放
	_, err = e.Resume(context.Background(), "missing", "[ACCEPTED]", nil)
	assert.ErrorIs(t, err, ErrUnknownThread)
}

func TestEngineThreadBusy(t *testing.T) {
	release := make(chan struct{})
	blocking := &stubAgent{stage: consts.Coordinator, run: func(ctx context.Context, in *model.Input) (*model.Command, error) {
		<-release
		return model.Continue(nil, consts.End), nil
	}}
	e, _ := newEngine(t, agenttest.NewChatModel(), blocking)
	ctx := context.Background()

	sr, _, err := e.Start(ctx, "busy", userState(), nil)
	require.NoError(t, err)

	_, _, err = e.Start(ctx, "busy", userState(), nil)
	assert.ErrorIs(t, err, ErrThreadBusy)
	_, err = e.Resume(ctx, "busy", "[ACCEPTED]", nil)
	assert.ErrorIs(t, err, ErrThreadBusy)

	// 其它线程不受影响
	other, _, err := e.Start(ctx, "other", userState(), nil)
	require.NoError(t, err)

	close(release)
	require.NoError(t, traceErr(drain(t, sr)))
	require.NoError(t, traceErr(drain(t, other)))

	sr, _, err = e.Start(ctx, "busy", userState(), nil)
	require.NoError(t, err)
	drain(t, sr)
}

func TestEngineIllegalTransition(t *testing.T) {
	bad := &stubAgent{stage: consts.Coordinator, run: func(ctx context.Context, in *model.Input) (*model.Command, error) {
		return model.Continue(&model.Update{FinalReport: model.Ptr("skipped")}, consts.Reporter), nil
	}}
	e, _ := newEngine(t, agenttest.NewChatModel(), bad)

	sr, threadID, err := e.Start(context.Background(), "illegal", userState(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, traceErr(drain(t, sr)), ErrIllegalTransition)

	_, err = e.Checkpoint(context.Background(), threadID)
	assert.ErrorIs(t, err, ErrUnknownThread, "no checkpoint is written for a rejected update")
}

func TestEngineStageErrorKeepsCheckpoint(t *testing.T) {
	boom := errors.New("search down")
	failing := &stubAgent{stage: consts.Planner, run: func(ctx context.Context, in *model.Input) (*model.Command, error) {
		return nil, boom
	}}
	e, _ := newEngine(t, agenttest.NewChatModel(handoff()), failing)

	sr, threadID, err := e.Start(context.Background(), "fails", userState(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, traceErr(drain(t, sr)), boom)

	cp, err := e.Checkpoint(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, consts.Planner, cp.Next)
	assert.Equal(t, 1, cp.Step)
}

func TestEngineContinueAfterStageError(t *testing.T) {
	var calls int
	flaky := &stubAgent{stage: consts.Planner, run: func(ctx context.Context, in *model.Input) (*model.Command, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("model timeout")
		}
		assert.Nil(t, in.Feedback)
		assert.Equal(t, "what do deer eat?", in.State.Messages[0].Content)
		return model.Continue(&model.Update{FinalReport: model.Ptr("skipped")}, consts.Reporter), nil
	}}
	reporter := &stubAgent{stage: consts.Reporter, run: func(ctx context.Context, in *model.Input) (*model.Command, error) {
		return model.Continue(&model.Update{FinalReport: model.Ptr("deer eat plants")}, consts.End), nil
	}}
	e, _ := newEngine(t, agenttest.NewChatModel(handoff()), flaky, reporter)
	ctx := context.Background()

	sr, threadID, err := e.Start(ctx, "retry", userState(), nil)
	require.NoError(t, err)
	require.Error(t, traceErr(drain(t, sr)))

	sr, err = e.Continue(ctx, threadID, nil)
	require.NoError(t, err)
	assert.NoError(t, traceErr(drain(t, sr)))
	assert.Equal(t, 2, calls)

	cp, err := e.Checkpoint(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, consts.End, cp.Next)
	assert.Equal(t, 3, cp.Step)
	assert.Equal(t, "deer eat plants", cp.State.FinalReport)

	_, err = e.Continue(ctx, threadID, nil)
	assert.ErrorIs(t, err, ErrThreadFinished)

	_, err = e.Continue(ctx, "nobody", nil)
	assert.ErrorIs(t, err, ErrUnknownThread)
}

func TestEngineDebugPayload(t *testing.T) {
	// 未调用 handoff 工具，coordinator 直接结束，但仍会写入 locale
	e, _ := newEngine(t, agenttest.NewChatModel(schema.AssistantMessage("hi", nil)))

	cfg := conf.DefaultRunConfig()
	cfg.Debug = true

	sr, _, err := e.Start(context.Background(), "debug", userState(), cfg)
	require.NoError(t, err)

	var payloads []any
	for _, tr := range drain(t, sr) {
		if tr.Payload != nil {
			payloads = append(payloads, tr.Payload)
		}
	}
	require.Len(t, payloads, 1)
	update, ok := payloads[0].(map[string]any)["coordinator"].(*model.Update)
	require.True(t, ok)
	assert.Equal(t, consts.DefaultLocale, *update.Locale)
}

func TestEngineCancelsWhenReaderCloses(t *testing.T) {
	done := make(chan struct{})
	chatty := &stubAgent{stage: consts.Coordinator, run: func(ctx context.Context, in *model.Input) (*model.Command, error) {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				in.Emit(ctx, "m1", schema.AssistantMessage("tick", nil))
			}
		}
	}}
	e, _ := newEngine(t, agenttest.NewChatModel(), chatty)

	sr, _, err := e.Start(context.Background(), "cancel", userState(), nil)
	require.NoError(t, err)
	_, err = sr.Recv()
	require.NoError(t, err)
	sr.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled after the reader closed")
	}
	require.Eventually(t, func() bool {
		if !e.tryLock("cancel") {
			return false
		}
		e.unlock("cancel")
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewEngineValidatesRegistry(t *testing.T) {
	store, err := checkpoint.NewMemory(4)
	require.NoError(t, err)
	agents := NewAgents(agenttest.Deps(agenttest.NewChatModel()))

	_, err = NewEngine(agents[1:], store, nil)
	assert.ErrorContains(t, err, "missing handler for stage coordinator")

	_, err = NewEngine(append(agents, agents[0]), store, nil)
	assert.ErrorContains(t, err, "registered twice")

	end := &stubAgent{stage: consts.End}
	_, err = NewEngine(append(agents, end), store, nil)
	assert.Error(t, err)

	_, err = NewEngine(agents, nil, nil)
	assert.Error(t, err)
}
