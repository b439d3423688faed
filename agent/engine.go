package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/hildam/deerflow/entity/conf"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
	"github.com/hildam/deerflow/repo/checkpoint"
	"github.com/hildam/deerflow/repo/metrics"
)

var (
	ErrThreadBusy         = errors.New("thread is already running")
	ErrIllegalTransition  = errors.New("illegal stage transition")
	ErrNoPendingInterrupt = errors.New("thread has no pending interrupt")
	ErrUnknownThread      = errors.New("unknown thread")
	ErrStepLimit          = errors.New("stage step limit exceeded")
	ErrInterruptPending   = errors.New("thread is waiting for feedback")
	ErrThreadFinished     = errors.New("thread has already finished")
)

const (
	defaultMaxSteps   = 200 // 单次运行最多执行的阶段数
	defaultTraceQueue = 64  // 事件管道缓冲
)

// Option 引擎选项
type Option func(*Engine)

// WithMaxSteps 单次运行最多执行的阶段数
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// Engine 工作流驱动：按阶段表执行处理器，合并状态更新并按线程持久化检查点
type Engine struct {
	agents   [consts.StageCount]Agent
	store    checkpoint.Store
	metrics  *metrics.Metrics
	maxSteps int

	mu      sync.Mutex
	running map[string]struct{} // 正在运行的线程
}

// NewEngine 创建引擎，校验处理器注册表
func NewEngine(agents []Agent, store checkpoint.Store, m *metrics.Metrics, opts ...Option) (*Engine, error) {
	registry, err := buildRegistry(agents)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	e := &Engine{
		agents:   registry,
		store:    store,
		metrics:  m,
		maxSteps: defaultMaxSteps,
		running:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start 从入口阶段开始新的运行，返回原始事件流和实际使用的线程ID
func (e *Engine) Start(ctx context.Context, threadID string, state *model.State, cfg *conf.RunConfig) (*schema.StreamReader[*model.Trace], string, error) {
	if threadID == "" || threadID == consts.DefaultThread {
		threadID = uuid.New().String()
	}
	if state == nil {
		state = model.NewState(nil, false, true)
	}
	if !e.tryLock(threadID) {
		return nil, threadID, ErrThreadBusy
	}

	cp := &model.Checkpoint{ThreadID: threadID, State: state, Next: consts.EntryStage}
	return e.launch(ctx, cp, nil, cfg), threadID, nil
}

// Resume 携带人工反馈从挂起的检查点继续运行；反馈不合法时不修改检查点
func (e *Engine) Resume(ctx context.Context, threadID, reply string, cfg *conf.RunConfig) (*schema.StreamReader[*model.Trace], error) {
	fb, err := model.ParseFeedback(reply)
	if err != nil {
		return nil, err
	}
	if !e.tryLock(threadID) {
		return nil, ErrThreadBusy
	}

	cp, err := e.Checkpoint(ctx, threadID)
	if err != nil {
		e.unlock(threadID)
		return nil, err
	}
	if cp.Interrupt == nil {
		e.unlock(threadID)
		return nil, fmt.Errorf("%w: %s", ErrNoPendingInterrupt, threadID)
	}
	slog.Info("Resume info, thread = %s, stage = %s, feedback = %s", threadID, cp.Next, fb.Tag)
	return e.launch(ctx, cp, fb, cfg), nil
}

// Continue 从最近一次检查点的下一阶段继续运行，用于中断或失败后的重试
func (e *Engine) Continue(ctx context.Context, threadID string, cfg *conf.RunConfig) (*schema.StreamReader[*model.Trace], error) {
	if !e.tryLock(threadID) {
		return nil, ErrThreadBusy
	}

	cp, err := e.Checkpoint(ctx, threadID)
	if err != nil {
		e.unlock(threadID)
		return nil, err
	}
	switch {
	case cp.Interrupt != nil:
		e.unlock(threadID)
		return nil, fmt.Errorf("%w: %s", ErrInterruptPending, threadID)
	case cp.Next == consts.End:
		e.unlock(threadID)
		return nil, fmt.Errorf("%w: %s", ErrThreadFinished, threadID)
	}
	slog.Info("Continue info, thread = %s, stage = %s, step = %d", threadID, cp.Next, cp.Step)
	return e.launch(ctx, cp, nil, cfg), nil
}

// Checkpoint 读取线程的最新检查点
func (e *Engine) Checkpoint(ctx context.Context, threadID string) (*model.Checkpoint, error) {
	data, ok, err := e.store.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	cp := &model.Checkpoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return cp, nil
}

// launch 在独立协程中运行，事件写入管道；读取端关闭时取消运行
func (e *Engine) launch(ctx context.Context, cp *model.Checkpoint, fb *model.Feedback, cfg *conf.RunConfig) *schema.StreamReader[*model.Trace] {
	if cfg == nil {
		cfg = conf.DefaultRunConfig()
	}
	sr, sw := schema.Pipe[*model.Trace](defaultTraceQueue)
	runCtx, cancel := context.WithCancel(ctx)

	var sendMu sync.Mutex
	emit := func(t *model.Trace) {
		sendMu.Lock()
		defer sendMu.Unlock()
		if closed := sw.Send(t, nil); closed {
			cancel()
		}
	}

	e.metrics.RunStarted()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("engine panic, thread = %s, panic = %+v", cp.ThreadID, r)
				emit(&model.Trace{Err: fmt.Errorf("engine panic: %v", r)})
			}
			// 先释放线程锁再关闭管道，读取端收到 EOF 后即可恢复该线程
			e.unlock(cp.ThreadID)
			e.metrics.RunFinished()
			cancel()
			sw.Close()
		}()

		if err := e.drive(runCtx, cp, fb, cfg, emit); err != nil {
			slog.Error("engine drive failed, thread = %s, err = %+v", cp.ThreadID, err)
			emit(&model.Trace{Err: err})
		}
	}()
	return sr
}

// drive 执行阶段循环直到结束或挂起
func (e *Engine) drive(ctx context.Context, cp *model.Checkpoint, fb *model.Feedback, cfg *conf.RunConfig, emit func(*model.Trace)) error {
	state, stage, step := cp.State, cp.Next, cp.Step
	resuming := cp.Interrupt != nil

	for stage != consts.End {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step >= cp.Step+e.maxSteps {
			return fmt.Errorf("%w: %d", ErrStepLimit, e.maxSteps)
		}
		if !stage.Valid() || e.agents[stage] == nil {
			return fmt.Errorf("no handler for stage %s", stage)
		}

		namespace := fmt.Sprintf("%s:%s", stage, uuid.New().String())
		in := &model.Input{
			ThreadID: cp.ThreadID,
			State:    state.Clone(),
			Config:   cfg,
			Emitter: model.EmitterFunc(func(_ context.Context, t *model.Trace) {
				t.Namespace = namespace
				emit(t)
			}),
		}
		// 反馈只交给挂起时所在的阶段
		if resuming {
			in.Feedback = fb
			resuming = false
		}

		start := time.Now()
		cmd, err := e.agents[stage].Run(ctx, in)
		if err != nil {
			e.metrics.ObserveStage(stage.String(), "error", time.Since(start))
			return fmt.Errorf("stage %s: %w", stage, err)
		}
		if cmd == nil {
			e.metrics.ObserveStage(stage.String(), "error", time.Since(start))
			return fmt.Errorf("stage %s returned no command", stage)
		}

		if cmd.Suspended() {
			e.metrics.ObserveStage(stage.String(), "interrupt", time.Since(start))
			cmd.Interrupt.ID = uuid.New().String()
			if err := e.save(ctx, &model.Checkpoint{ThreadID: cp.ThreadID, State: state, Next: stage, Interrupt: cmd.Interrupt, Step: step}); err != nil {
				return err
			}
			e.metrics.IncInterrupt()
			slog.Info("engine suspended, thread = %s, stage = %s", cp.ThreadID, stage)
			emit(&model.Trace{Namespace: namespace, MessageID: cmd.Interrupt.ID, Interrupt: cmd.Interrupt})
			return nil
		}

		if !consts.CanTransition(stage, cmd.Goto) {
			e.metrics.ObserveStage(stage.String(), "error", time.Since(start))
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, stage, cmd.Goto)
		}
		e.metrics.ObserveStage(stage.String(), "ok", time.Since(start))

		model.Apply(state, cmd.Update)
		step++
		if err := e.save(ctx, &model.Checkpoint{ThreadID: cp.ThreadID, State: state, Next: cmd.Goto, Step: step}); err != nil {
			return err
		}
		if cfg.Debug && cmd.Update != nil {
			emit(&model.Trace{Namespace: namespace, MessageID: uuid.New().String(), Payload: map[string]any{stage.String(): cmd.Update}})
		}

		slog.Debug("engine route, thread = %s, %s -> %s", cp.ThreadID, stage, cmd.Goto)
		stage = cmd.Goto
	}
	return nil
}

// save 持久化检查点；取消后仍写入，保证最近一次状态可恢复
func (e *Engine) save(ctx context.Context, cp *model.Checkpoint) error {
	cp.UpdatedAt = time.Now()
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.ThreadID, err)
	}
	if err := e.store.Set(context.WithoutCancel(ctx), cp.ThreadID, data); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ThreadID, err)
	}
	return nil
}

func (e *Engine) tryLock(threadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[threadID]; ok {
		return false
	}
	e.running[threadID] = struct{}{}
	return true
}

func (e *Engine) unlock(threadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, threadID)
}
