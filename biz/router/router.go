package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hildam/deerflow/biz/handler"
)

// Register 注册路由；gatherer 为空时使用全局 registry
func Register(h *server.Hertz, chat *handler.ChatHandler, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	api := h.Group("/api")
	api.POST("/chat/stream", chat.ChatStream)

	h.GET("/metrics", adaptor.HertzHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
