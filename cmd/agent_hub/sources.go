package main

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/pkg/errors"

	"github.com/utrading/utrading-agent-hub/config"
	"github.com/utrading/utrading-agent-hub/internal/prediction"
)

// buildSources 按配置创建预测源，kind 为 http 或 llm
func buildSources(ctx context.Context, cfg *config.Config) ([]prediction.Source, error) {
	sources := make([]prediction.Source, 0, len(cfg.Predictions))
	for _, p := range cfg.Predictions {
		switch p.Kind {
		case "http", "":
			sources = append(sources, prediction.NewHTTPSource(prediction.HTTPSourceConfig{
				Name:      p.Name,
				URL:       p.URL,
				APIKey:    p.APIKey,
				Weight:    p.Weight,
				RateLimit: p.RateLimit,
				Timeout:   cfg.AgentHub.PredictionTimeout.Duration,
			}))
		case "llm":
			maxTokens := 256
			chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
				BaseURL:   p.URL,
				APIKey:    p.APIKey,
				Model:     p.Model,
				MaxTokens: &maxTokens,
				Timeout:   cfg.AgentHub.PredictionTimeout.Duration,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "init llm source %s", p.Name)
			}
			sources = append(sources, prediction.NewLLMSource(p.Name, p.Weight, chatModel))
		default:
			return nil, errors.Errorf("prediction source %s: unknown kind %q", p.Name, p.Kind)
		}
	}
	return sources, nil
}
