package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mikey/email-agent/internal/adapters/connector"
	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/di"
	"github.com/mikey/email-agent/internal/rules"
	"github.com/mikey/email-agent/internal/utils"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

const previewLength = 500

func main() {
	flags, err := di.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(func(logger *zap.Logger, engine *rules.Engine, text *utils.TextProcessor, policy core.Policy) error {
		defer logger.Sync()
		return run(container, flags, logger, engine, text, policy)
	}); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(container *dig.Container, flags *di.CLIFlags, logger *zap.Logger, engine *rules.Engine, text *utils.TextProcessor, policy core.Policy) error {
	if flags.ListRules {
		printRules(engine.Rules())
		return nil
	}

	raw, err := readInput(flags.InputFile, logger)
	if err != nil {
		return err
	}

	parsed, err := connector.ParseMessage(raw)
	if err != nil {
		return fmt.Errorf("failed to parse email: %w", err)
	}

	email := &core.Email{
		Subject:        parsed.Subject,
		Sender:         parsed.Sender,
		BodyPreview:    text.Preview(parsed.Body, previewLength),
		HasAttachments: len(parsed.Attachments) > 0,
		Attachments:    parsed.Attachments,
	}

	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", email.Sender)
	fmt.Printf("Subject: %s\n", email.Subject)
	fmt.Printf("Attachments: %d\n", len(email.Attachments))
	for _, a := range email.Attachments {
		fmt.Printf("  - %s (%s)\n", a.Filename, a.ContentType)
	}

	fmt.Printf("\n=== Rules ===\n")
	fmt.Printf("Loaded: %d\n", len(engine.Rules()))

	rule := engine.FindMatchingRule(email.Normalized())
	if rule != nil {
		fmt.Printf("Matched rule: %s (priority %d)\n", rule.Name, rule.Priority)
		fmt.Printf("Category: %s\n", rule.Category)
		fmt.Printf("Action: %s\n", describeAction(rule.Folder, rule.AutoDelete))
	} else {
		fmt.Printf("Matched rule: none\n")
	}

	if !flags.Classify {
		return nil
	}

	return container.Invoke(func(classifier core.Classifier, client core.LLMClient) {
		defer func() {
			if closer, ok := client.(interface{ Close() error }); ok {
				closer.Close()
			}
		}()

		start := time.Now()
		result := classifier.Classify(context.Background(), email.ClassificationRequest())

		fmt.Printf("\n=== LLM Classification ===\n")
		fmt.Printf("Category: %s\n", result.Category)
		fmt.Printf("Confidence: %d\n", result.Confidence)
		fmt.Printf("Reason: %s\n", result.Reason)
		fmt.Printf("Default action: %s\n", describeAction(policy.FolderFor(result.Category), policy.ShouldDelete(result.Category)))
		fmt.Printf("Processing time: %v\n", time.Since(start))
	})
}

func readInput(path string, logger *zap.Logger) ([]byte, error) {
	if path == "" {
		logger.Info("Reading email from stdin")
		return io.ReadAll(os.Stdin)
	}
	logger.Info("Reading email from file", zap.String("file", path))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	return data, nil
}

func describeAction(folder string, autoDelete bool) string {
	switch {
	case autoDelete:
		return "delete"
	case folder != "":
		return "move to " + folder
	default:
		return "leave in place"
	}
}

func printRules(loaded []*rules.Rule) {
	fmt.Printf("%d rules, in evaluation order:\n", len(loaded))
	for _, r := range loaded {
		fmt.Printf("\n%s (priority %d) -> %s, %s\n", r.Name, r.Priority, r.Category, describeAction(r.Folder, r.AutoDelete))
		for _, c := range r.Conditions {
			if c.Type == rules.HasAttachments {
				fmt.Printf("  %s: %t\n", c.Type, c.Flag)
				continue
			}
			fmt.Printf("  %s: %q\n", c.Type, c.Value)
		}
	}
}
