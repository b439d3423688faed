package conf

import "time"

// MCPServerConfig MCP服务器配置
type MCPServerConfig struct {
	Command string            `yaml:"command" mapstructure:"command"`             // MCP服务器启动命令，stdio 模式
	Args    []string          `yaml:"args" mapstructure:"args"`                   // 命令行参数列表
	Env     map[string]string `yaml:"env,omitempty" mapstructure:"env,omitempty"` // 环境变量映射，可选配置
	URL     string            `yaml:"url,omitempty" mapstructure:"url,omitempty"` // sse 模式的服务地址
	Headers map[string]string `yaml:"headers,omitempty" mapstructure:"headers,omitempty"`
}

// MCPConfig MCP配置
type MCPConfig struct {
	Servers map[string]MCPServerConfig `yaml:"servers" mapstructure:"servers"` // MCP服务器配置映射，key为服务器名称
}

// Model 单个模型配置
type Model struct {
	ModelID string        `yaml:"model_id" mapstructure:"model_id"` // 模型ID
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"` // 模型服务的基础URL地址
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`   // 模型服务的API密钥
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`   // 单次请求超时
}

// ModelConfig 模型配置
type ModelConfig struct {
	DefaultModel Model  `yaml:"default_model" mapstructure:"default_model"` // 默认使用的模型
	PlanModel    *Model `yaml:"plan_model" mapstructure:"plan_model"`       // 规划模型，为空时使用默认模型
}

// SettingConfig 应用运行配置
type SettingConfig struct {
	MaxPlanIterations             int           `yaml:"max_plan_iterations" mapstructure:"max_plan_iterations"`     // 最大计划迭代次数
	MaxStepNum                    int           `yaml:"max_step_num" mapstructure:"max_step_num"`                   // 计划最大步骤数
	MaxSearchResults              int           `yaml:"max_search_results" mapstructure:"max_search_results"`       // 单次搜索最大结果数
	AgentRecursionLimit           string        `yaml:"agent_recursion_limit" mapstructure:"agent_recursion_limit"` // researcher 最大执行步数
	MaxLimitToken                 int           `yaml:"max_limit_token" mapstructure:"max_limit_token"`             // 最大限制token数
	ExecutorTimeout               time.Duration `yaml:"executor_timeout" mapstructure:"executor_timeout"`           // researcher 单步超时
	PlannerStreaming              *bool         `yaml:"planner_streaming" mapstructure:"planner_streaming"`         // planner 是否流式输出
	EnableBackgroundInvestigation *bool         `yaml:"enable_background_investigation" mapstructure:"enable_background_investigation"`
	AutoAcceptedPlan              bool          `yaml:"auto_accepted_plan" mapstructure:"auto_accepted_plan"`
	PromptDir                     string        `yaml:"prompt_dir" mapstructure:"prompt_dir"` // 提示词模板目录
}

// SearchConfig 搜索服务配置
type SearchConfig struct {
	Provider string        `yaml:"provider" mapstructure:"provider"` // unified / mcp
	APIURL   string        `yaml:"api_url" mapstructure:"api_url"`
	APIKey   string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CheckpointConfig 检查点存储配置
type CheckpointConfig struct {
	Type      string `yaml:"type" mapstructure:"type"`             // memory / file / nats
	CacheSize int    `yaml:"cache_size" mapstructure:"cache_size"` // memory 模式最多保留的线程数
	Dir       string `yaml:"dir" mapstructure:"dir"`               // file 模式的存储目录
	NatsURL   string `yaml:"nats_url" mapstructure:"nats_url"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig 日志配置
type LogConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Level string `yaml:"level" mapstructure:"level"`
}

// AppConfig 应用配置
type AppConfig struct {
	MCP        MCPConfig        `yaml:"mcp" mapstructure:"mcp"`         // MCP服务相关配置
	Model      ModelConfig      `yaml:"model" mapstructure:"model"`     // 大语言模型相关配置
	Setting    SettingConfig    `yaml:"setting" mapstructure:"setting"` // 应用运行时配置参数
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// MCPServerSetting 单次请求携带的 MCP 服务配置
type MCPServerSetting struct {
	Transport    string            `json:"transport"` // stdio / sse
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	URL          string            `json:"url,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	EnabledTools []string          `json:"enabled_tools,omitempty"`
	AddToAgents  []string          `json:"add_to_agents,omitempty"`
}

// MCPSettings 单次请求携带的 MCP 配置
type MCPSettings struct {
	Servers map[string]MCPServerSetting `json:"servers"`
}

// RunConfig 单次运行的配置，由全局配置和请求参数合并得到
type RunConfig struct {
	MaxPlanIterations   int
	MaxStepNum          int
	MaxSearchResults    int
	AgentRecursionLimit string
	ExecutorTimeout     time.Duration
	PlannerStreaming    bool
	MCPSettings         *MCPSettings
	Debug               bool
}
