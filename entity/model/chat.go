package model

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/entity/conf"
	"github.com/hildam/deerflow/entity/consts"
)

// ChatMessage 请求中的单条消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 对话请求
type ChatRequest struct {
	Messages                      []ChatMessage     `json:"messages"`
	Debug                         bool              `json:"debug"`
	ThreadID                      string            `json:"thread_id"`
	MaxPlanIterations             *int              `json:"max_plan_iterations,omitempty"`
	MaxStepNum                    *int              `json:"max_step_num,omitempty"`
	MaxSearchResults              *int              `json:"max_search_results,omitempty"`
	AutoAcceptedPlan              *bool             `json:"auto_accepted_plan,omitempty"`
	InterruptFeedback             string            `json:"interrupt_feedback,omitempty"`
	MCPSettings                   *conf.MCPSettings `json:"mcp_settings,omitempty"`
	EnableBackgroundInvestigation *bool             `json:"enable_background_investigation,omitempty"`
}

// SchemaMessages 转换为 eino 消息
func (r *ChatRequest) SchemaMessages() []*schema.Message {
	out := make([]*schema.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		switch schema.RoleType(m.Role) {
		case schema.Assistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		case schema.System:
			out = append(out, schema.SystemMessage(m.Content))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

// ResumeText 构造恢复输入："[feedback] 最后一条消息"
func (r *ChatRequest) ResumeText() string {
	text := fmt.Sprintf("[%s]", r.InterruptFeedback)
	if n := len(r.Messages); n > 0 {
		text += " " + r.Messages[n-1].Content
	}
	return text
}

// Retry 指定已有线程且不带新消息时，从该线程最近的检查点继续
func (r *ChatRequest) Retry() bool {
	return len(r.Messages) == 0 && r.InterruptFeedback == "" &&
		r.ThreadID != "" && r.ThreadID != consts.DefaultThread
}

// ToolResp 完整的工具调用
type ToolResp struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
	Type string         `json:"type"`
	ID   string         `json:"id"`
}

// ToolChunkResp 工具调用分片
type ToolChunkResp struct {
	Name  string `json:"name"`
	Args  string `json:"args"`
	Type  string `json:"type"`
	ID    string `json:"id"`
	Index *int   `json:"index,omitempty"`
}

// ChatResp 对外事件的数据体
type ChatResp struct {
	ThreadID       string          `json:"thread_id"`
	Agent          string          `json:"agent,omitempty"`
	ID             string          `json:"id"`
	Role           string          `json:"role"`
	Content        string          `json:"content,omitempty"`
	FinishReason   string          `json:"finish_reason,omitempty"`
	ToolCallID     string          `json:"tool_call_id,omitempty"`
	ToolCalls      []ToolResp      `json:"tool_calls,omitempty"`
	ToolCallChunks []ToolChunkResp `json:"tool_call_chunks,omitempty"`
	Options        []Option        `json:"options,omitempty"`
}

// ErrorResp 终止错误事件的数据体
type ErrorResp struct {
	ThreadID string `json:"thread_id"`
	Error    string `json:"error"`
}

// Event 对外事件
type Event struct {
	Type string
	Data any
}

// Encode 编码为 "event: <type>\ndata: <json>\n\n"
func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, data)), nil
}

// IsTerminal 是否为终止事件
func (e *Event) IsTerminal() bool {
	return e.Type == consts.EventError
}

// MustJSON 序列化，失败时返回空串
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
