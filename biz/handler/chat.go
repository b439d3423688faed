package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/sse"

	"github.com/hildam/deerflow/agent"
	"github.com/hildam/deerflow/biz/service"
	"github.com/hildam/deerflow/entity/model"
)

// ChatHandler 对话接口
type ChatHandler struct {
	svc *service.ChatService
}

// NewChatHandler 创建实例
func NewChatHandler(svc *service.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// ChatStream POST /api/chat/stream，以 SSE 推送工作流事件
func (h *ChatHandler) ChatStream(ctx context.Context, c *app.RequestContext) {
	req := &model.ChatRequest{}
	if err := json.Unmarshal(c.Request.Body(), req); err != nil {
		slog.Error("ChatStream failed, unmarshal request err = %+v", err)
		c.JSON(http.StatusBadRequest, &model.ErrorResp{Error: "invalid request body"})
		return
	}

	threadID, events, err := h.svc.Stream(ctx, req)
	if err != nil {
		c.JSON(statusOf(err), &model.ErrorResp{ThreadID: threadID, Error: err.Error()})
		return
	}
	defer events.Close()

	c.SetStatusCode(http.StatusOK)
	c.Response.Header.Set("Cache-Control", "no-cache")
	c.Response.Header.Set("Connection", "keep-alive")

	// SSE写入器，用于向客户端推送实时流式数据
	w := sse.NewWriter(c)
	for {
		ev, err := events.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			slog.Error("ChatStream failed, recv event err = %+v, thread = %s", err, threadID)
			return
		}

		data, err := json.Marshal(ev.Data)
		if err != nil {
			slog.Error("ChatStream failed, marshal data err = %+v, data = %+v", err, ev.Data)
			continue
		}
		if err := w.WriteEvent("", ev.Type, data); err != nil {
			// 客户端断开，关闭事件流会取消运行
			slog.Info("ChatStream client gone, thread = %s, err = %+v", threadID, err)
			return
		}
		if ev.IsTerminal() {
			return
		}
	}
}

// statusOf 请求错误映射为 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidFeedback),
		errors.Is(err, agent.ErrNoPendingInterrupt),
		errors.Is(err, agent.ErrUnknownThread),
		errors.Is(err, agent.ErrThreadFinished):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrThreadBusy),
		errors.Is(err, agent.ErrInterruptPending):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
