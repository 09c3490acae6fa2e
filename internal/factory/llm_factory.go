package factory

import (
	"context"
	"fmt"

	"github.com/mikey/email-agent/internal/adapters/bedrock"
	"github.com/mikey/email-agent/internal/adapters/gemini"
	"github.com/mikey/email-agent/internal/adapters/openai"
	"github.com/mikey/email-agent/internal/config"
	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/utils"
	"go.uber.org/zap"
)

// LLMFactory creates LLM clients
type LLMFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *LLMFactory {
	return &LLMFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateLLMClient creates a new LLM client based on the configuration
func (f *LLMFactory) CreateLLMClient(ctx context.Context) (core.LLMClient, error) {
	llmConfig := f.cfg.GetLLM()

	f.logger.Info("Creating LLM client", zap.String("provider", llmConfig.Provider))

	switch llmConfig.Provider {
	case "ollama":
		return openai.NewFactory(f.logger, f.textProcessor).CreateOllamaClient(f.cfg.GetOllama()), nil
	case "openai":
		openaiCfg := f.cfg.GetOpenAI()
		if openaiCfg.APIKey == "" && openaiCfg.BaseURL == "" {
			return nil, fmt.Errorf("openai API key is required")
		}
		return openai.NewFactory(f.logger, f.textProcessor).CreateOpenAIClient(openaiCfg), nil
	case "gemini":
		geminiCfg := f.cfg.GetGemini()
		if geminiCfg.APIKey == "" {
			return nil, fmt.Errorf("gemini API key is required")
		}
		client, err := gemini.NewGeminiClient(ctx, geminiCfg, f.logger, f.textProcessor)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "bedrock":
		client, err := bedrock.NewFromConfig(ctx, f.cfg.GetBedrock(), f.logger, f.textProcessor)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llmConfig.Provider)
	}
}

// CreateClassifier wraps the configured LLM client so that every call is
// bounded by the configured timeout and never fails
func (f *LLMFactory) CreateClassifier(client core.LLMClient) *core.LLMClassifier {
	return core.NewLLMClassifier(client, f.cfg.GetLLM().Timeout, f.logger)
}
