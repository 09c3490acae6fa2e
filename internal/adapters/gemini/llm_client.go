package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/email-agent/internal/config"
	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GeminiClient is an implementation of the LLMClient interface using Google Gemini
type GeminiClient struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig, logger *zap.Logger, textProcessor *utils.TextProcessor) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.ModelName)
	model.SetTemperature(cfg.Temperature)
	model.SetTopP(cfg.TopP)
	model.SetMaxOutputTokens(int32(cfg.MaxTokens))
	model.ResponseMIMEType = "application/json"

	return &GeminiClient{
		client:        client,
		model:         model,
		modelName:     cfg.ModelName,
		maxBodySize:   cfg.MaxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}, nil
}

// Close closes the Gemini client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Classify asks Gemini which category the email belongs to
func (c *GeminiClient) Classify(ctx context.Context, req *core.ClassificationRequest) (*core.ClassificationResult, error) {
	body := c.textProcessor.ProcessText(req.BodyPreview, c.maxBodySize)

	resp, err := c.model.GenerateContent(ctx, genai.Text(core.BuildClassificationPrompt(req, body)))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: empty response from Gemini", core.ErrUnparseableResponse)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	c.logger.Debug("Gemini response received",
		zap.String("model", c.modelName),
		zap.Int("response_size", text.Len()))

	return core.ParseClassificationResponse(text.String())
}
