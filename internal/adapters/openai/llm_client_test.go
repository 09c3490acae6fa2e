package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mikey/email-agent/internal/config"
	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type chatRequest struct {
	Model          string `json:"model"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newChatServer(t *testing.T, reply string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   seen.Model,
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": reply}, "finish_reason": "stop"}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFactory() *Factory {
	return NewFactory(zap.NewNop(), utils.NewTextProcessor(zap.NewNop()))
}

func TestOllamaClient_Classify(t *testing.T) {
	var seen chatRequest
	srv := newChatServer(t, `Sure: {"category": "Invoice", "confidence": 92, "reason": "amount due"}`, &seen)

	client := newFactory().CreateOllamaClient(config.OllamaConfig{
		Host:        srv.URL,
		Model:       "mistral",
		MaxTokens:   200,
		MaxBodySize: 4096,
	})

	result, err := client.Classify(context.Background(), &core.ClassificationRequest{
		Subject:        "Your Invoice #12345",
		Sender:         "billing@company.com",
		BodyPreview:    "Amount due: 120 EUR",
		HasAttachments: true,
	})
	require.NoError(t, err)
	assert.Equal(t, core.CategoryInvoice, result.Category)
	assert.Equal(t, 92, result.Confidence)
	assert.Equal(t, "amount due", result.Reason)

	assert.Equal(t, "mistral", seen.Model)
	assert.Nil(t, seen.ResponseFormat)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Contains(t, seen.Messages[1].Content, "Subject: Your Invoice #12345")
	assert.Contains(t, seen.Messages[1].Content, "Has attachments: true")
}

func TestOpenAIClient_JSONModeAndUnparseable(t *testing.T) {
	var seen chatRequest
	srv := newChatServer(t, "I think it is an invoice", &seen)

	client := newFactory().CreateOpenAIClient(config.OpenAIConfig{
		APIKey:    "sk-test",
		BaseURL:   srv.URL + "/v1",
		ModelName: "gpt-4o-mini",
	})

	_, err := client.Classify(context.Background(), &core.ClassificationRequest{Subject: "hello"})
	assert.ErrorIs(t, err, core.ErrUnparseableResponse)
	require.NotNil(t, seen.ResponseFormat)
	assert.Equal(t, "json_object", seen.ResponseFormat.Type)
}

func TestOpenAIClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newFactory().CreateOpenAIClient(config.OpenAIConfig{BaseURL: srv.URL + "/v1", ModelName: "gpt-4o-mini"})
	_, err := client.Classify(context.Background(), &core.ClassificationRequest{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrUnparseableResponse)
}

func TestOllamaBaseURL(t *testing.T) {
	assert.Equal(t, "http://ollama:11434/v1", OllamaBaseURL("http://ollama:11434"))
	assert.Equal(t, "http://ollama:11434/v1", OllamaBaseURL("http://ollama:11434/"))
	assert.Equal(t, "http://ollama:11434/v1", OllamaBaseURL("http://ollama:11434/v1"))
}
