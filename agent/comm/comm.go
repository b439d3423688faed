package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/HildaM/logs/slog"
	ecmodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/hildam/deerflow/entity/conf"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
	"github.com/hildam/deerflow/repo/mcp"
	"github.com/hildam/deerflow/repo/metrics"
	"github.com/hildam/deerflow/repo/search"
	"github.com/hildam/deerflow/repo/template"
)

// DefaultRecursionLimit researcher 默认最大执行步数
const DefaultRecursionLimit = 25

// ToolProvider 全局工具来源
type ToolProvider interface {
	GetMCPTools(ctx context.Context) ([]tool.BaseTool, error)
}

// SessionOpener 打开请求级 MCP 会话
type SessionOpener func(ctx context.Context, settings *conf.MCPSettings, agent string) (*mcp.Session, error)

// Deps 各阶段共享的外部服务，在 main 中创建一次后注入
type Deps struct {
	ChatModel     ecmodel.ToolCallingChatModel // 默认模型
	PlanModel     ecmodel.ToolCallingChatModel // 结构化输出的计划模型，为空时使用默认模型
	Renderer      template.Renderer
	Searcher      search.Searcher
	Tools         ToolProvider  // 全局 MCP 工具，可为空
	OpenSession   SessionOpener // 请求级 MCP 会话，可为空
	Metrics       *metrics.Metrics
	MaxLimitToken int // 单条消息最大长度，<= 0 不截断
}

// Stream 流式调用模型，逐片推送增量并返回拼接后的完整消息
func (d *Deps) Stream(ctx context.Context, stage consts.Stage, cm ecmodel.BaseChatModel,
	msgs []*schema.Message, in *model.Input, opts ...ecmodel.Option) (*schema.Message, error) {
	sr, err := cm.Stream(ctx, msgs, opts...)
	if err != nil {
		d.Metrics.IncModelCall(stage.String(), "error")
		return nil, fmt.Errorf("%s stream failed: %w", stage, err)
	}
	defer sr.Close()

	msgID := uuid.New().String()
	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			d.Metrics.IncModelCall(stage.String(), "error")
			return nil, fmt.Errorf("%s stream recv failed: %w", stage, err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		in.Emit(ctx, msgID, chunk)
	}
	d.Metrics.IncModelCall(stage.String(), "ok")

	if len(chunks) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("%s concat chunks failed: %w", stage, err)
	}
	return full, nil
}

// Generate 非流式调用模型，完整消息作为一个增量推送
func (d *Deps) Generate(ctx context.Context, stage consts.Stage, cm ecmodel.BaseChatModel,
	msgs []*schema.Message, in *model.Input, opts ...ecmodel.Option) (*schema.Message, error) {
	out, err := cm.Generate(ctx, msgs, opts...)
	if err != nil {
		d.Metrics.IncModelCall(stage.String(), "error")
		return nil, fmt.Errorf("%s generate failed: %w", stage, err)
	}
	d.Metrics.IncModelCall(stage.String(), "ok")
	in.Emit(ctx, uuid.New().String(), out)
	return out, nil
}

// ModifyInputFunc 输入消息长度限制，超长时保留后半段的最新信息
func ModifyInputFunc(maxLimit int) react.MessageModifier {
	return func(ctx context.Context, inputList []*schema.Message) []*schema.Message {
		if maxLimit <= 0 {
			return inputList
		}
		sum := 0
		out := make([]*schema.Message, 0, len(inputList))
		for _, input := range inputList {
			if input == nil {
				slog.Debug("ModifyInputFunc debug, input is nil")
				continue
			}

			length := len(input.Content)
			if length > maxLimit {
				slog.Debug("ModifyInputFunc debug, input content length is %d, max limit token is %d", length, maxLimit)
				// 截断, 取后半段部分的最新信息
				msg := *input
				msg.Content = strings.ToValidUTF8(input.Content[length-maxLimit:], "")
				input = &msg
			}

			sum += len(input.Content)
			out = append(out, input)
		}

		slog.Debug("ModifyInputFunc debug, input content sum length is %d", sum)
		return out
	}
}

// ToolCallChecker 工具调用检查函数
func ToolCallChecker(ctx context.Context, sr *schema.StreamReader[*schema.Message]) (bool, error) {
	defer sr.Close()

	// 遍历流式响应中的所有消息
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			// 流结束，未发现工具调用
			return false, nil
		}
		if err != nil {
			slog.Error("toolCallChecker failed, recv stream message err = %+v", err)
			return false, err
		}

		// 检查当前消息是否包含工具调用
		if len(msg.ToolCalls) > 0 {
			return true, nil
		}
	}
}

// RecursionLimit 解析最大执行步数，非正整数时使用默认值并记录告警
func RecursionLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultRecursionLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		slog.Error("RecursionLimit invalid value = %q, fallback to default %d", raw, DefaultRecursionLimit)
		return DefaultRecursionLimit
	}
	return n
}
