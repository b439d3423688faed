package conf

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/HildaM/logs/slog"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DefaultMaxPlanIterations   = 1
	DefaultMaxStepNum          = 3
	DefaultMaxSearchResults    = 3
	DefaultAgentRecursionLimit = 25
	DefaultExecutorTimeout     = 30 * time.Minute
	DefaultCacheSize           = 1024
	DefaultServerAddr          = ":8000"
	DefaultLogPath             = "logs/app.log"
	DefaultPromptDir           = "prompts"
)

// envKeys 环境变量到配置键的映射
var envKeys = map[string]string{
	"MAX_PLAN_ITERATIONS":   "setting.max_plan_iterations",
	"MAX_STEP_NUM":          "setting.max_step_num",
	"MAX_SEARCH_RESULTS":    "setting.max_search_results",
	"AGENT_RECURSION_LIMIT": "setting.agent_recursion_limit",
	"EXECUTOR_TIMEOUT":      "setting.executor_timeout",
	"OPENAI_API_KEY":        "model.default_model.api_key",
	"OPENAI_BASE_URL":       "model.default_model.base_url",
	"SEARCH_API_KEY":        "search.api_key",
	"NATS_URL":              "checkpoint.nats_url",
	"SERVER_ADDR":           "server.addr",
}

var (
	// 全局 koanf 实例，使用 "." 作为键路径分隔符
	k = koanf.New(".")
	// 配置读写锁，确保并发安全
	configMu sync.RWMutex
	// 文件提供者
	f *file.File
	// 缓存的配置实例
	appConf *AppConfig
)

// Init 初始化配置
func Init(path string) error {
	// 加载配置
	if err := loadConfig(path); err != nil {
		return fmt.Errorf("Init config failed, load config err: %w", err)
	}

	// 启动配置文件监听
	startConfigWatch()

	cfg := GetCfg()
	// 初始化日志
	if err := slog.InitFile(cfg.Log.Path, slog.WithLevel(cfg.Log.Level), slog.WithColor(false)); err != nil {
		return fmt.Errorf("Init log failed, err: %+v", err)
	}

	slog.Info("Init config: %+v", cfg.Setting)
	return nil
}

// Load 读取配置文件并叠加环境变量，不修改全局配置
func Load(path string) (*AppConfig, error) {
	kk := koanf.New(".")
	if path != "" {
		if err := kk.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	return unmarshal(kk)
}

// unmarshal 叠加环境变量、解析并补全默认值
func unmarshal(kk *koanf.Koanf) (*AppConfig, error) {
	if err := kk.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	// 解析配置到结构体，使用 yaml 标签
	var config AppConfig
	if err := kk.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.fillDefaults()
	return &config, nil
}

// envKey 只接受映射表中的环境变量，其余返回空串被忽略
func envKey(s string) string {
	return envKeys[strings.ToUpper(s)]
}

// fillDefaults 补全缺省值
func (c *AppConfig) fillDefaults() {
	s := &c.Setting
	if s.MaxPlanIterations <= 0 {
		s.MaxPlanIterations = DefaultMaxPlanIterations
	}
	if s.MaxStepNum <= 0 {
		s.MaxStepNum = DefaultMaxStepNum
	}
	if s.MaxSearchResults <= 0 {
		s.MaxSearchResults = DefaultMaxSearchResults
	}
	if s.ExecutorTimeout <= 0 {
		s.ExecutorTimeout = DefaultExecutorTimeout
	}
	if s.PromptDir == "" {
		s.PromptDir = DefaultPromptDir
	}
	if c.Checkpoint.Type == "" {
		c.Checkpoint.Type = "memory"
	}
	if c.Checkpoint.CacheSize <= 0 {
		c.Checkpoint.CacheSize = DefaultCacheSize
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Log.Path == "" {
		c.Log.Path = DefaultLogPath
	}
	if c.Log.Level == "" {
		c.Log.Level = "debug"
	}
}

// loadConfig 加载配置
func loadConfig(path string) error {
	configMu.Lock()
	defer configMu.Unlock()

	// 创建文件提供者
	f = file.Provider(path)

	k = koanf.New(".")
	if err := k.Load(f, yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}

	config, err := unmarshal(k)
	if err != nil {
		return err
	}

	// 更新全局配置实例
	appConf = config
	return nil
}

// GetCfg 获取配置
func GetCfg() *AppConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConf
}

// SetCfg 替换全局配置，用于未走配置文件的场景
func SetCfg(c *AppConfig) {
	configMu.Lock()
	defer configMu.Unlock()
	appConf = c
}

// startConfigWatch 启动配置文件监听
func startConfigWatch() {
	if f == nil {
		log.Printf("file provider not initialized")
		return
	}

	// 监听文件变化并在变化时重新加载配置
	err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			log.Printf("Config file watch error: %v", err)
			return
		}

		// 配置文件发生变化，重新加载
		log.Printf("Config file changed. Reloading...")

		kk := koanf.New(".")
		if err := kk.Load(f, yaml.Parser()); err != nil {
			log.Printf("Failed to load reloaded config: %v", err)
			return
		}
		config, err := unmarshal(kk)
		if err != nil {
			log.Printf("Failed to unmarshal reloaded config: %v", err)
			return
		}

		configMu.Lock()
		k = kk
		appConf = config
		configMu.Unlock()

		log.Printf("Config reloaded: %+v", config.Setting)
	})
	if err != nil {
		log.Printf("Config watch failed: %v", err)
	}
}

// RunConfig 基于全局配置构造默认运行配置
func (c *AppConfig) RunConfig() *RunConfig {
	streaming := true
	if c.Setting.PlannerStreaming != nil {
		streaming = *c.Setting.PlannerStreaming
	}
	return &RunConfig{
		MaxPlanIterations:   c.Setting.MaxPlanIterations,
		MaxStepNum:          c.Setting.MaxStepNum,
		MaxSearchResults:    c.Setting.MaxSearchResults,
		AgentRecursionLimit: c.Setting.AgentRecursionLimit,
		ExecutorTimeout:     c.Setting.ExecutorTimeout,
		PlannerStreaming:    streaming,
	}
}

// BackgroundInvestigation 全局是否开启背景调查，缺省开启
func (c *AppConfig) BackgroundInvestigation() bool {
	if c.Setting.EnableBackgroundInvestigation == nil {
		return true
	}
	return *c.Setting.EnableBackgroundInvestigation
}

// Override 请求参数覆盖运行配置，nil 或负数表示沿用默认值，0 按原值生效
func (r *RunConfig) Override(maxPlanIterations, maxStepNum, maxSearchResults *int) *RunConfig {
	out := *r
	if maxPlanIterations != nil && *maxPlanIterations >= 0 {
		out.MaxPlanIterations = *maxPlanIterations
	}
	if maxStepNum != nil && *maxStepNum >= 0 {
		out.MaxStepNum = *maxStepNum
	}
	if maxSearchResults != nil && *maxSearchResults >= 0 {
		out.MaxSearchResults = *maxSearchResults
	}
	return &out
}

// DefaultRunConfig 无全局配置时的运行配置
func DefaultRunConfig() *RunConfig {
	c := &AppConfig{}
	c.fillDefaults()
	return c.RunConfig()
}
