package config

import (
	"fmt"
	"time"

	"github.com/mikey/email-agent/internal/core"
)

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider string
	Timeout  time.Duration
}

// OllamaConfig represents the configuration for a local Ollama server
type OllamaConfig struct {
	Host        string
	Model       string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
	JSONMode    bool
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// RulesConfig locates the rule file
type RulesConfig struct {
	Path              string
	UnknownConditions string
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Type string
	DSN  string
}

// SyncConfig controls mailbox synchronization
type SyncConfig struct {
	Folder        string
	BatchSize     int
	Concurrency   int
	PreviewLength int
}

// ConnectorConfig holds provider endpoints and timeouts
type ConnectorConfig struct {
	IMAPTimeout   time.Duration
	GmailEndpoint string
	GraphURL      string
}

// ScheduleConfig holds the cron specs of the daemon jobs
type ScheduleConfig struct {
	Sync          string
	Classify      string
	ClassifyLimit int
	Purge         string
}

// MaintenanceConfig holds retention settings
type MaintenanceConfig struct {
	QuarantineDays int
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	timeout, err := c.GetDuration("llm.timeout")
	if err != nil {
		timeout = 120 * time.Second
	}
	return LLMConfig{
		Provider: c.GetString("llm.provider"),
		Timeout:  timeout,
	}
}

// GetOllama returns the Ollama configuration
func (c *Config) GetOllama() OllamaConfig {
	return OllamaConfig{
		Host:        c.GetString("ollama.host"),
		Model:       c.GetString("ollama.model"),
		MaxTokens:   c.GetInt("ollama.max_tokens"),
		Temperature: float32(c.GetFloat64("ollama.temperature")),
		TopP:        float32(c.GetFloat64("ollama.top_p")),
		MaxBodySize: c.GetInt("ollama.max_body_size"),
		JSONMode:    c.GetBool("ollama.json_mode"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetRules returns the rule file configuration
func (c *Config) GetRules() RulesConfig {
	return RulesConfig{
		Path:              c.GetString("rules.path"),
		UnknownConditions: c.GetString("rules.unknown_conditions"),
	}
}

// GetPolicy builds the action policy. Folder overrides are merged over the
// built-in defaults; an empty folder disables the move for that category.
func (c *Config) GetPolicy() (core.Policy, error) {
	policy := core.DefaultPolicy()

	if conf := c.GetInt("policy.rule_confidence"); conf > 0 {
		policy.RuleConfidence = min(conf, 100)
	}

	for name, folder := range c.GetStringMapString("policy.folders") {
		category, ok := core.ParseCategory(name)
		if !ok {
			return core.Policy{}, fmt.Errorf("unknown category in policy.folders: %s", name)
		}
		if folder == "" {
			delete(policy.Folders, category)
			continue
		}
		policy.Folders[category] = folder
	}

	policy.DeleteCategories = nil
	for _, name := range c.GetStringSlice("policy.delete_categories") {
		category, ok := core.ParseCategory(name)
		if !ok {
			return core.Policy{}, fmt.Errorf("unknown category in policy.delete_categories: %s", name)
		}
		policy.DeleteCategories = append(policy.DeleteCategories, category)
	}

	return policy, nil
}

// GetStore returns the store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type: c.GetString("store.type"),
		DSN:  c.GetString("store.dsn"),
	}
}

// GetSync returns the sync configuration
func (c *Config) GetSync() SyncConfig {
	return SyncConfig{
		Folder:        c.GetString("sync.folder"),
		BatchSize:     c.GetInt("sync.batch_size"),
		Concurrency:   c.GetInt("sync.concurrency"),
		PreviewLength: c.GetInt("sync.preview_length"),
	}
}

// GetConnectors returns the connector configuration
func (c *Config) GetConnectors() ConnectorConfig {
	timeout, err := c.GetDuration("connectors.imap_timeout")
	if err != nil {
		timeout = 30 * time.Second
	}
	return ConnectorConfig{
		IMAPTimeout:   timeout,
		GmailEndpoint: c.GetString("connectors.gmail_endpoint"),
		GraphURL:      c.GetString("connectors.graph_url"),
	}
}

// GetSchedule returns the daemon schedule
func (c *Config) GetSchedule() ScheduleConfig {
	return ScheduleConfig{
		Sync:          c.GetString("schedule.sync"),
		Classify:      c.GetString("schedule.classify"),
		ClassifyLimit: c.GetInt("schedule.classify_limit"),
		Purge:         c.GetString("schedule.purge"),
	}
}

// GetMaintenance returns the retention settings
func (c *Config) GetMaintenance() MaintenanceConfig {
	return MaintenanceConfig{
		QuarantineDays: c.GetInt("maintenance.quarantine_days"),
	}
}
