package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance from the default search paths
func New() (*Config, error) {
	return Load("")
}

// Load creates a configuration instance. A non-empty path names the config
// file explicitly; otherwise config.yaml is searched for in the usual places.
// An optional .env file in the working directory is loaded first so its
// values are visible through the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/email-agent/")
		v.AddConfigPath("$HOME/.email-agent")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("EMAIL_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.timeout", "120s")

	v.SetDefault("ollama.host", "http://ollama:11434")
	v.SetDefault("ollama.model", "mistral")
	v.SetDefault("ollama.max_tokens", 500)
	v.SetDefault("ollama.temperature", 0.1)
	v.SetDefault("ollama.top_p", 0.9)
	v.SetDefault("ollama.max_body_size", 4096)
	v.SetDefault("ollama.json_mode", true)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 4096)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-1.5-flash")
	v.SetDefault("gemini.max_tokens", 500)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 4096)

	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-3-haiku-20240307-v1:0")
	v.SetDefault("bedrock.max_tokens", 500)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 4096)

	v.SetDefault("rules.path", "./configs/rules/global_rules.yaml")
	v.SetDefault("rules.unknown_conditions", "never_match")

	v.SetDefault("policy.rule_confidence", 95)
	v.SetDefault("policy.folders", map[string]string{})
	v.SetDefault("policy.delete_categories", []string{"spam"})

	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.dsn", "/data/email_agent.db")

	v.SetDefault("sync.folder", "INBOX")
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.preview_length", 500)

	v.SetDefault("connectors.imap_timeout", "30s")
	v.SetDefault("connectors.gmail_endpoint", "")
	v.SetDefault("connectors.graph_url", "")

	v.SetDefault("schedule.sync", "*/5 * * * *")
	v.SetDefault("schedule.classify", "*/10 * * * *")
	v.SetDefault("schedule.classify_limit", 100)
	v.SetDefault("schedule.purge", "0 2 * * *")

	v.SetDefault("maintenance.quarantine_days", 7)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetStringMapString gets a string map from the configuration
func (c *Config) GetStringMapString(key string) map[string]string {
	return c.v.GetStringMapString(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
