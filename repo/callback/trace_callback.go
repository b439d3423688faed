package callback

import (
	"context"
	"errors"
	"io"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	ecmodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/hildam/deerflow/entity/model"
	"github.com/hildam/deerflow/repo/metrics"
)

// TraceCallback 将 agent 内部的模型输出和工具结果转换为原始事件
type TraceCallback struct {
	callbacks.HandlerBuilder // 可以用 callbacks.HandlerBuilder 来辅助实现 callback

	Stage   string        // 当前阶段名称
	Emitter model.Emitter // 原始事件接收者
	Metrics *metrics.Metrics
}

// NewTraceCallback 创建回调，返回值可直接用于 compose.WithCallbacks
func NewTraceCallback(stage string, emitter model.Emitter, m *metrics.Metrics) *TraceCallback {
	return &TraceCallback{Stage: stage, Emitter: emitter, Metrics: m}
}

// pushMsg 推送单条消息增量
func (cb *TraceCallback) pushMsg(ctx context.Context, msgID string, msg *schema.Message) {
	if msg == nil || cb.Emitter == nil {
		return
	}
	if msg.Role == schema.Tool {
		cb.Metrics.IncToolCall(cb.Stage)
	}
	cb.Emitter.Emit(ctx, &model.Trace{MessageID: msgID, Message: msg})
}

// pushFrame 按帧类型推送；工具节点同一批输出的每条结果使用各自的消息ID
func (cb *TraceCallback) pushFrame(ctx context.Context, msgID string, frame any) {
	switch v := frame.(type) {
	case *schema.Message:
		cb.pushMsg(ctx, msgID, v)
	case *ecmodel.CallbackOutput:
		if v != nil {
			cb.pushMsg(ctx, msgID, v.Message)
		}
	case []*schema.Message:
		for _, m := range v {
			if m == nil {
				continue
			}
			id := m.ToolCallID
			if id == "" {
				id = msgID
			}
			cb.pushMsg(ctx, id, m)
		}
	}
}

// traced 只关注模型和工具节点
func traced(info *callbacks.RunInfo) bool {
	if info == nil {
		return false
	}
	return info.Component == components.ComponentOfChatModel || info.Component == compose.ComponentOfToolsNode
}

// OnStart 组件开始执行
func (cb *TraceCallback) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	return ctx
}

// OnEnd 非流式执行结束，整条消息作为一个增量推送
func (cb *TraceCallback) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if !traced(info) {
		return ctx
	}
	if info.Component == components.ComponentOfChatModel {
		cb.Metrics.IncModelCall(cb.Stage, "ok")
	}
	cb.pushFrame(ctx, uuid.New().String(), output)
	return ctx
}

// OnError 组件执行出错
func (cb *TraceCallback) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if info != nil && info.Component == components.ComponentOfChatModel {
		cb.Metrics.IncModelCall(cb.Stage, "error")
	}
	name := ""
	if info != nil {
		name = info.Name
	}
	slog.Error("TraceCallback OnError, stage = %s, component = %s, err = %+v", cb.Stage, name, err)
	return ctx
}

// OnEndWithStreamOutput 处理流式输出
// 同步读取回调流的副本，保证同一阶段内的事件顺序与模型输出顺序一致
func (cb *TraceCallback) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	// 确保流在函数结束时被正确关闭
	defer output.Close()
	if !traced(info) {
		return ctx
	}
	if info.Component == components.ComponentOfChatModel {
		cb.Metrics.IncModelCall(cb.Stage, "ok")
	}

	// 生成唯一消息ID，同一次流式输出的分片共享该ID
	msgID := uuid.New().String()
	defer func() {
		if err := recover(); err != nil {
			slog.Error("OnEndStream panic_recover, msgID = %s, err = %v", msgID, err)
		}
	}()
	for {
		frame, err := output.Recv()
		if errors.Is(err, io.EOF) {
			return ctx
		}
		if err != nil {
			slog.Error("OnEndStream recv_error, msgID = %s, err = %v", msgID, err)
			return ctx
		}
		cb.pushFrame(ctx, msgID, frame)
	}
}

// OnStartWithStreamInput 处理流式输入，仅释放资源
func (cb *TraceCallback) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}
