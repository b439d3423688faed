// Package agenttest 提供阶段函数测试使用的脚本化模型和依赖
package agenttest

import (
	"context"
	"errors"
	"sync"

	ecmodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/agent/comm"
	"github.com/hildam/deerflow/entity/conf"
	"github.com/hildam/deerflow/entity/model"
	"github.com/hildam/deerflow/repo/search"
	"github.com/hildam/deerflow/repo/template"
)

// ErrScriptExhausted 脚本中的回复已用完
var ErrScriptExhausted = errors.New("scripted model has no more responses")

// script 多个 WithTools 副本共享的回复脚本
type script struct {
	mu        sync.Mutex
	responses []*schema.Message
	err       error
	calls     [][]*schema.Message
}

// ChatModel 按顺序返回预设回复的模型
type ChatModel struct {
	s     *script
	tools []*schema.ToolInfo
}

// NewChatModel 创建脚本化模型
func NewChatModel(responses ...*schema.Message) *ChatModel {
	return &ChatModel{s: &script{responses: responses}}
}

// FailingChatModel 每次调用都返回 err
func FailingChatModel(err error) *ChatModel {
	return &ChatModel{s: &script{err: err}}
}

// Calls 每次调用收到的输入
func (m *ChatModel) Calls() [][]*schema.Message {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([][]*schema.Message(nil), m.s.calls...)
}

// Tools 绑定的工具
func (m *ChatModel) Tools() []*schema.ToolInfo {
	return m.tools
}

func (m *ChatModel) next(input []*schema.Message) (*schema.Message, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.calls = append(m.s.calls, input)
	if m.s.err != nil {
		return nil, m.s.err
	}
	if len(m.s.responses) == 0 {
		return nil, ErrScriptExhausted
	}
	out := m.s.responses[0]
	m.s.responses = m.s.responses[1:]
	return out, nil
}

// Generate 返回下一条回复
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...ecmodel.Option) (*schema.Message, error) {
	out, err := m.next(input)
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// Stream 下一条回复按内容拆成两片返回，工具调用放在第一片
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...ecmodel.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := m.next(input)
	if err != nil {
		return nil, err
	}

	half := len(out.Content) / 2
	first := &schema.Message{Role: schema.Assistant, Content: out.Content[:half], ToolCalls: out.ToolCalls}
	second := &schema.Message{Role: schema.Assistant, Content: out.Content[half:], ResponseMeta: &schema.ResponseMeta{FinishReason: "stop"}}
	return schema.StreamReaderFromArray([]*schema.Message{first, second}), nil
}

// WithTools 返回绑定工具的副本，与原模型共享脚本
func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (ecmodel.ToolCallingChatModel, error) {
	return &ChatModel{s: m.s, tools: tools}, nil
}

// ToolCall 构造一条只包含工具调用的回复
func ToolCall(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

// Templates 各阶段的最小提示词模板
var Templates = map[string]string{
	"coordinator": "You are the coordinator. Locale {{ locale }}.",
	"planner":     "You are the planner. At most {{ max_step_num }} steps. Locale {{ locale }}.",
	"researcher":  "You are the researcher. Locale {{ locale }}.",
	"reporter":    "You are the reporter. Locale {{ locale }}.",
}

// Searcher 固定结果的搜索服务
func Searcher(results ...search.Result) search.Searcher {
	return search.SearcherFunc(func(ctx context.Context, query string, max int) ([]search.Result, error) {
		if max > 0 && len(results) > max {
			return results[:max], nil
		}
		return results, nil
	})
}

// Deps 使用脚本化模型构造依赖
func Deps(cm *ChatModel) *comm.Deps {
	return &comm.Deps{
		ChatModel: cm,
		Renderer:  template.NewStaticRenderer(Templates),
		Searcher:  Searcher(search.Result{Title: "Deer", URL: "https://example.com/deer", Content: "Deer are ruminants."}),
	}
}

// Recorder 记录阶段函数输出的原始事件
type Recorder struct {
	mu     sync.Mutex
	Traces []*model.Trace
}

// Emit 实现 model.Emitter
func (r *Recorder) Emit(ctx context.Context, t *model.Trace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Traces = append(r.Traces, t)
}

// Content 拼接全部消息增量的内容
func (r *Recorder) Content() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := ""
	for _, t := range r.Traces {
		if t.Message != nil {
			out += t.Message.Content
		}
	}
	return out
}

// Input 构造阶段函数入参
func Input(state *model.State, rec *Recorder) *model.Input {
	in := &model.Input{ThreadID: "test-thread", State: state, Config: conf.DefaultRunConfig()}
	if rec != nil {
		in.Emitter = rec
	}
	return in
}
