package llm

import (
	"context"
	"fmt"

	openai3 "github.com/cloudwego/eino-ext/libs/acl/openai"

	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/hildam/deerflow/entity/conf"
)

// NewChatModel 创建Chat模型
func NewChatModel(ctx context.Context, cfg *conf.ModelConfig) (*openai.ChatModel, error) {
	m := cfg.DefaultModel
	llm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:   m.ModelID,
		BaseURL: m.BaseURL,
		APIKey:  m.APIKey,
		Timeout: m.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("NewChatModel failed, err: %w", err)
	}
	return llm, nil
}

// NewPlanModel 创建计划模型，响应按计划的 JSON Schema 约束
func NewPlanModel(ctx context.Context, cfg *conf.ModelConfig) (*openai.ChatModel, error) {
	m := cfg.DefaultModel
	if cfg.PlanModel != nil && cfg.PlanModel.ModelID != "" {
		m = *cfg.PlanModel
	}

	// 定义返回结构
	planSchema, err := PlanSchema()
	if err != nil {
		return nil, err
	}

	llm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:   m.ModelID,
		BaseURL: m.BaseURL,
		APIKey:  m.APIKey,
		Timeout: m.Timeout,
		// 计划模型响应格式
		ResponseFormat: &openai3.ChatCompletionResponseFormat{
			Type: openai3.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai3.ChatCompletionResponseFormatJSONSchema{
				Name:   "plan",
				Strict: false,
				Schema: planSchema,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("NewPlanModel failed, err: %w", err)
	}
	return llm, nil
}
