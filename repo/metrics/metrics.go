package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 工作流运行指标
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	interrupts    prometheus.Counter
	toolCalls     *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
	runsActive    prometheus.Gauge
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default 注册到全局 registry 的指标实例
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNewMetrics 创建并注册指标，重复注册时复用已存在的 collector
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deerflow",
			Subsystem: "workflow",
			Name:      "stage_duration_seconds",
			Help:      "Duration spent in each workflow stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deerflow",
			Subsystem: "workflow",
			Name:      "stage_failures_total",
			Help:      "Total number of stage executions that ended the run with an error.",
		}, []string{"stage"}),
		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deerflow",
			Subsystem: "workflow",
			Name:      "interrupts_total",
			Help:      "Number of runs suspended for human feedback.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deerflow",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool results observed by agents.",
		}, []string{"stage"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deerflow",
			Subsystem: "agent",
			Name:      "model_calls_total",
			Help:      "Chat model invocations observed by agents.",
		}, []string{"stage", "status"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deerflow",
			Subsystem: "workflow",
			Name:      "runs_active",
			Help:      "Number of workflow runs currently executing.",
		}),
	}

	m.stageDuration = register(reg, m.stageDuration)
	m.stageFailures = register(reg, m.stageFailures)
	m.interrupts = register(reg, m.interrupts)
	m.toolCalls = register(reg, m.toolCalls)
	m.modelCalls = register(reg, m.modelCalls)
	m.runsActive = register(reg, m.runsActive)
	return m
}

// register 注册 collector，已注册时返回已有实例
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveStage 记录阶段耗时
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
	if status == "error" {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

// IncInterrupt 记录一次挂起
func (m *Metrics) IncInterrupt() {
	if m == nil {
		return
	}
	m.interrupts.Inc()
}

// IncToolCall 记录一次工具结果
func (m *Metrics) IncToolCall(stage string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(stage).Inc()
}

// IncModelCall 记录一次模型调用
func (m *Metrics) IncModelCall(stage, status string) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(stage, status).Inc()
}

// RunStarted 运行开始
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

// RunFinished 运行结束
func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.runsActive.Dec()
}
