package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/di"
	"github.com/mikey/email-agent/internal/rules"
	"github.com/mikey/email-agent/internal/scheduler"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "", "Path to config file")
	once       = flag.Bool("once", false, "Run one sync and classification pass, then exit")
)

func main() {
	flag.Parse()

	container, err := di.BuildContainer(*configFile)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	sched *scheduler.Scheduler,
	engine *rules.Engine,
	store core.Store,
	llmClient core.LLMClient,
) error {
	defer logger.Sync()
	defer closeResources(logger, store, llmClient)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		logger.Info("Running a single pass")
		sched.RunSync(ctx)
		sched.RunClassify(ctx)
		return nil
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	logger.Info("Email agent started", zap.Strings("jobs", sched.Jobs()))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			if err := engine.Reload(ctx); err != nil {
				logger.Error("Rule reload failed, keeping previous rules", zap.Error(err))
				continue
			}
			logger.Info("Rules reloaded", zap.Int("count", len(engine.Rules())))
		case <-ctx.Done():
			logger.Info("Shutting down...")
			sched.Stop()
			logger.Info("Shutdown complete")
			return nil
		}
	}
}

func closeResources(logger *zap.Logger, store core.Store, llmClient core.LLMClient) {
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM client", zap.Error(err))
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("Failed to close store", zap.Error(err))
	}
}
