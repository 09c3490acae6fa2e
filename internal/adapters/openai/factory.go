package openai

import (
	"strings"

	"github.com/mikey/email-agent/internal/config"
	"github.com/mikey/email-agent/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Factory creates new instances of OpenAIClient
type Factory struct {
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewFactory creates a new factory for OpenAIClient instances
func NewFactory(logger *zap.Logger, textProcessor *utils.TextProcessor) *Factory {
	return &Factory{
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateOpenAIClient creates a client for the hosted OpenAI API
func (f *Factory) CreateOpenAIClient(cfg config.OpenAIConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return NewOpenAIClient(
		openai.NewClientWithConfig(clientCfg),
		cfg.ModelName,
		cfg.MaxTokens,
		cfg.Temperature,
		cfg.TopP,
		cfg.MaxBodySize,
		true,
		f.logger,
		f.textProcessor,
	)
}

// CreateOllamaClient creates a client for a local Ollama server through its
// OpenAI-compatible endpoint
func (f *Factory) CreateOllamaClient(cfg config.OllamaConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig("ollama")
	clientCfg.BaseURL = OllamaBaseURL(cfg.Host)

	return NewOpenAIClient(
		openai.NewClientWithConfig(clientCfg),
		cfg.Model,
		cfg.MaxTokens,
		cfg.Temperature,
		cfg.TopP,
		cfg.MaxBodySize,
		cfg.JSONMode,
		f.logger,
		f.textProcessor,
	)
}

// OllamaBaseURL maps an Ollama host to its OpenAI-compatible API root
func OllamaBaseURL(host string) string {
	host = strings.TrimRight(host, "/")
	if strings.HasSuffix(host, "/v1") {
		return host
	}
	return host + "/v1"
}
