package template

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/hildam/deerflow/entity/conf"
	"github.com/hildam/deerflow/entity/model"
)

// Renderer 提示词渲染
type Renderer interface {
	// Render 渲染名为 name 的系统提示词，并拼接会话消息与额外消息
	Render(ctx context.Context, name string, vars map[string]any, history []*schema.Message, extra ...*schema.Message) ([]*schema.Message, error)
}

// loader 按名称读取模板原文
type loader func(name string) (string, error)

// renderer Jinja2 模板渲染器
type renderer struct {
	load  loader
	mu    sync.RWMutex
	cache map[string]string
}

// NewRenderer 从目录加载 <name>.md 模板
func NewRenderer(dir string) Renderer {
	return &renderer{
		cache: make(map[string]string),
		load: func(name string) (string, error) {
			// 构造文件路径
			templatePath := filepath.Join(dir, fmt.Sprintf("%s.md", name))

			// 读取文件内容
			content, err := os.ReadFile(templatePath)
			if err != nil {
				return "", fmt.Errorf("read template file, err: %w", err)
			}
			return string(content), nil
		},
	}
}

// NewStaticRenderer 使用内存中的模板
func NewStaticRenderer(templates map[string]string) Renderer {
	return &renderer{
		cache: make(map[string]string),
		load: func(name string) (string, error) {
			content, ok := templates[name]
			if !ok {
				return "", fmt.Errorf("template %q not found", name)
			}
			return content, nil
		},
	}
}

// GetPromptTemplate 加载并返回一个提示模板，读取结果会被缓存
func (r *renderer) GetPromptTemplate(ctx context.Context, name string) (string, error) {
	r.mu.RLock()
	content, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return content, nil
	}

	content, err := r.load(name)
	if err != nil {
		msg := fmt.Errorf("GetPromptTemplate failed, name = %s, err: %w", name, err)
		slog.Error(msg.Error())
		return "", msg
	}

	r.mu.Lock()
	r.cache[name] = content
	r.mu.Unlock()
	return content, nil
}

// Render 实现 Renderer
func (r *renderer) Render(ctx context.Context, name string, vars map[string]any, history []*schema.Message, extra ...*schema.Message) ([]*schema.Message, error) {
	sysPrompt, err := r.GetPromptTemplate(ctx, name)
	if err != nil {
		return nil, err
	}

	templates := []schema.MessagesTemplate{
		schema.SystemMessage(sysPrompt),
		schema.MessagesPlaceholder("user_input", true),
	}

	variables := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		variables[k] = v
	}
	variables["user_input"] = history

	output, err := prompt.FromMessages(schema.Jinja2, templates...).Format(ctx, variables)
	if err != nil {
		return nil, fmt.Errorf("Render failed, name = %s, err: %w", name, err)
	}
	// 额外消息不经过模板渲染，原样拼接
	for _, msg := range extra {
		if msg != nil {
			output = append(output, msg)
		}
	}
	return output, nil
}

// Vars 通用模板变量
func Vars(state *model.State, cfg *conf.RunConfig) map[string]any {
	vars := map[string]any{
		"CURRENT_TIME": time.Now().Format("2006-01-02 15:04:05"), // 当前时间
		"locale":       state.Locale,                             // 用户语言设置
	}
	if cfg != nil {
		vars["max_step_num"] = cfg.MaxStepNum
		vars["max_plan_iterations"] = cfg.MaxPlanIterations
		vars["max_search_results"] = cfg.MaxSearchResults
	}
	return vars
}
