package di

import (
	"context"
	"flag"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/email-agent/internal/config"
	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/factory"
	"github.com/mikey/email-agent/internal/logging"
	"github.com/mikey/email-agent/internal/rules"
	"github.com/mikey/email-agent/internal/utils"
)

// CLIFlags contains all command line flags for the rules-check tool
type CLIFlags struct {
	RulesFile  string
	InputFile  string
	ListRules  bool
	Classify   bool
	Provider   string
	Model      string
	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags(fs *flag.FlagSet, args []string) (*CLIFlags, error) {
	flags := &CLIFlags{}

	fs.StringVar(&flags.RulesFile, "rules", "", "Rule file to test (defaults to rules.path from the configuration)")
	fs.StringVar(&flags.InputFile, "file", "", "Input email file in RFC 822 format (use stdin if not specified)")
	fs.BoolVar(&flags.ListRules, "list", false, "List the loaded rules and exit")
	fs.BoolVar(&flags.Classify, "classify", false, "Ask the LLM for a classification as well")
	fs.StringVar(&flags.Provider, "provider", "", "LLM provider override (ollama, openai, gemini, bedrock)")
	fs.StringVar(&flags.Model, "model", "", "Model override for the selected provider")
	fs.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	fs.StringVar(&flags.ConfigFile, "config", "", "Path to config file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags, nil
}

// BuildCLIContainer creates and configures a dependency injection container
// for the rules-check tool. The LLM client is only constructed when a
// caller asks for it.
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		cfg, err := config.Load(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		if used := cfg.GetViper().ConfigFileUsed(); used != "" {
			logger.Info("Loaded configuration from file", zap.String("file", used))
		}
		applyFlags(cfg, flags)
		return cfg, nil
	}); err != nil {
		return nil, err
	}

	providers := []interface{}{
		utils.NewTextProcessor,
		factory.NewLLMFactory,
		factory.NewRulesFactory,
		func(f *factory.RulesFactory) (*rules.Engine, error) {
			return f.CreateEngine(context.Background())
		},
		func(f *factory.LLMFactory) (core.LLMClient, error) {
			return f.CreateLLMClient(context.Background())
		},
		func(f *factory.LLMFactory, client core.LLMClient) core.Classifier {
			return f.CreateClassifier(client)
		},
		func(cfg *config.Config) (core.Policy, error) {
			return cfg.GetPolicy()
		},
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return nil, err
		}
	}

	return container, nil
}

// applyFlags lets command line flags override the loaded configuration
func applyFlags(cfg *config.Config, flags *CLIFlags) {
	v := cfg.GetViper()
	if flags.RulesFile != "" {
		v.Set("rules.path", flags.RulesFile)
	}
	if flags.Provider != "" {
		v.Set("llm.provider", flags.Provider)
	}
	if flags.Model == "" {
		return
	}
	switch cfg.GetLLM().Provider {
	case "ollama":
		v.Set("ollama.model", flags.Model)
	case "openai":
		v.Set("openai.model_name", flags.Model)
	case "gemini":
		v.Set("gemini.model_name", flags.Model)
	case "bedrock":
		v.Set("bedrock.model_id", flags.Model)
	}
}
