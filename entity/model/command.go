package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/entity/conf"
	"github.com/hildam/deerflow/entity/consts"
)

// ErrInvalidFeedback 不支持的中断反馈
var ErrInvalidFeedback = errors.New("unsupported interrupt feedback")

// Interrupt 中断请求，挂起流程等待人工输入
type Interrupt struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// Option 中断回复选项
type Option struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// ReviewOptions 计划审核的固定选项
func ReviewOptions() []Option {
	return []Option{
		{Text: "Edit plan", Value: consts.EditPlan},
		{Text: "Accept and start research", Value: consts.AcceptPlan},
	}
}

// Feedback 恢复输入，格式为 "[TAG] 可选文本"
type Feedback struct {
	Tag  string // EDIT_PLAN / ACCEPTED
	Text string // 标签后的文本
	Raw  string // 原始输入
}

// ParseFeedback 解析恢复输入，标签大小写不敏感，其它标签一律拒绝
func ParseFeedback(raw string) (*Feedback, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFeedback, raw)
	}
	end := strings.Index(trimmed, "]")
	if end < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFeedback, raw)
	}

	tag := strings.ToUpper(strings.TrimSpace(trimmed[1:end]))
	switch tag {
	case consts.TagEditPlan, consts.TagAccepted:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFeedback, raw)
	}
	return &Feedback{
		Tag:  tag,
		Text: strings.TrimSpace(trimmed[end+1:]),
		Raw:  raw,
	}, nil
}

// Accepted 用户接受计划
func (f *Feedback) Accepted() bool {
	return f != nil && f.Tag == consts.TagAccepted
}

// EditPlan 用户要求修改计划
func (f *Feedback) EditPlan() bool {
	return f != nil && f.Tag == consts.TagEditPlan
}

// Command 阶段函数的返回：继续（更新+下一阶段）或挂起（中断）
type Command struct {
	Update    *Update
	Goto      consts.Stage
	Interrupt *Interrupt
}

// Continue 继续执行到下一阶段
func Continue(update *Update, next consts.Stage) *Command {
	return &Command{Update: update, Goto: next}
}

// Suspend 挂起流程等待外部输入
func Suspend(prompt string, options []Option) *Command {
	return &Command{Interrupt: &Interrupt{Prompt: prompt, Options: options}}
}

// Suspended 是否挂起
func (c *Command) Suspended() bool {
	return c != nil && c.Interrupt != nil
}

// Input 阶段函数入参
type Input struct {
	ThreadID string
	State    *State          // 状态副本，阶段函数不应修改
	Config   *conf.RunConfig // 本次运行配置
	Feedback *Feedback       // 恢复时携带的人工反馈，仅 human_feedback 使用
	Emitter  Emitter         // 增量输出
}

// Emit 输出一条增量消息，emitter 为空时忽略
func (in *Input) Emit(ctx context.Context, msgID string, msg *schema.Message) {
	if in == nil || in.Emitter == nil || msg == nil {
		return
	}
	in.Emitter.Emit(ctx, &Trace{MessageID: msgID, Message: msg})
}

// Trace 引擎的原始执行事件
type Trace struct {
	Namespace string          // "<stage>:<run id>"
	MessageID string          // 同一次模型输出的分片共享一个ID
	Message   *schema.Message // 消息增量
	Payload   any             // 非增量的聚合结果
	Interrupt *Interrupt      // 中断通知
	Err       error           // 终止错误
}

// Emitter 原始事件接收者
type Emitter interface {
	Emit(ctx context.Context, t *Trace)
}

// EmitterFunc 函数适配
type EmitterFunc func(ctx context.Context, t *Trace)

// Emit 实现 Emitter
func (f EmitterFunc) Emit(ctx context.Context, t *Trace) {
	f(ctx, t)
}

// Checkpoint 线程状态快照，包含待执行阶段
type Checkpoint struct {
	ThreadID  string       `json:"thread_id"`
	State     *State       `json:"state"`
	Next      consts.Stage `json:"next"`
	Interrupt *Interrupt   `json:"interrupt,omitempty"` // 非空表示流程挂起在 Next 阶段
	Step      int          `json:"step"`
	UpdatedAt time.Time    `json:"updated_at"`
}
