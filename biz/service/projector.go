package service

import (
	"encoding/json"
	"strings"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
)

// roleAssistant 对外事件固定的角色
const roleAssistant = "assistant"

// Projector 将引擎的原始事件转换为对外事件
type Projector struct {
	ThreadID string
}

// Project 按优先级转换：中断 > 聚合结果 > 错误 > 工具结果 > 工具调用 > 普通消息块；无可输出内容时返回 nil
func (p *Projector) Project(t *model.Trace) *model.Event {
	if t == nil {
		return nil
	}

	switch {
	case t.Interrupt != nil:
		return &model.Event{Type: consts.EventInterrupt, Data: &model.ChatResp{
			ThreadID:     p.ThreadID,
			Agent:        agentName(t.Namespace),
			ID:           t.Interrupt.ID,
			Role:         roleAssistant,
			Content:      t.Interrupt.Prompt,
			FinishReason: "interrupt",
			Options:      t.Interrupt.Options,
		}}
	case t.Payload != nil:
		return &model.Event{Type: consts.EventMessageChunk, Data: t.Payload}
	case t.Err != nil:
		return &model.Event{Type: consts.EventError, Data: &model.ErrorResp{ThreadID: p.ThreadID, Error: t.Err.Error()}}
	case t.Message != nil:
		return p.pushMsg(t.Namespace, t.MessageID, t.Message)
	}
	return nil
}

// pushMsg 根据消息类型（普通消息、工具调用、工具结果）构造事件
func (p *Projector) pushMsg(namespace, msgID string, msg *schema.Message) *model.Event {
	data := &model.ChatResp{
		ThreadID:     p.ThreadID,
		Agent:        agentName(namespace),
		ID:           msgID,
		Role:         roleAssistant,
		Content:      msg.Content,
		FinishReason: finishReason(msg),
	}

	// 处理工具调用结果消息
	if msg.Role == schema.Tool {
		data.ToolCallID = msg.ToolCallID
		return &model.Event{Type: consts.EventToolCallResult, Data: data}
	}

	// 处理包含工具调用的消息
	if len(msg.ToolCalls) > 0 {
		event := consts.EventToolCallChunks
		for _, call := range msg.ToolCalls {
			fn := call.Function.Name
			// 存在工具名称时为完整的工具调用
			if fn != "" {
				event = consts.EventToolCalls
				data.ToolCalls = append(data.ToolCalls, model.ToolResp{
					Name: fn,
					Args: toolArgs(call.Function.Arguments),
					Type: "tool_call",
					ID:   call.ID,
				})
			}
			data.ToolCallChunks = append(data.ToolCallChunks, model.ToolChunkResp{
				Name:  fn,
				Args:  call.Function.Arguments,
				Type:  "tool_call_chunk",
				ID:    call.ID,
				Index: call.Index,
			})
		}
		return &model.Event{Type: event, Data: data}
	}

	// 处理普通消息块
	return &model.Event{Type: consts.EventMessageChunk, Data: data}
}

// agentName 命名空间中第一个 ":" 之前的部分
func agentName(namespace string) string {
	name, _, _ := strings.Cut(namespace, ":")
	return name
}

// finishReason 优先取响应元数据，其次取模型原始返回中的 finish_reason
func finishReason(msg *schema.Message) string {
	if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
		return msg.ResponseMeta.FinishReason
	}
	if fr, ok := msg.Extra["finish_reason"].(string); ok {
		return fr
	}
	return ""
}

// toolArgs 完整工具调用的参数，无法解析时返回空对象
func toolArgs(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		slog.Debug("toolArgs debug, unmarshal err = %+v, args = %s", err, raw)
		return map[string]any{}
	}
	return args
}
