package openai

import (
	"context"
	"fmt"

	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const systemPrompt = "You are an email classification expert. Respond only with JSON."

// OpenAIClient is an implementation of the LLMClient interface using the
// OpenAI chat completions API. Any OpenAI-compatible server, Ollama included,
// can be reached by pointing the client at its base URL.
type OpenAIClient struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	jsonMode      bool
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(
	client *openai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	jsonMode bool,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *OpenAIClient {
	return &OpenAIClient{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		jsonMode:      jsonMode,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Classify asks the model which category the email belongs to
func (c *OpenAIClient) Classify(ctx context.Context, req *core.ClassificationRequest) (*core.ClassificationResult, error) {
	body := c.textProcessor.ProcessText(req.BodyPreview, c.maxBodySize)

	chatReq := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: core.BuildClassificationPrompt(req, body),
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}
	if c.jsonMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with %s: %w", c.modelName, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response from %s", core.ErrUnparseableResponse, c.modelName)
	}

	c.logger.Debug("LLM response received",
		zap.String("model", c.modelName),
		zap.String("response_id", resp.ID),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return core.ParseClassificationResponse(resp.Choices[0].Message.Content)
}
