package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fable/internal/agents"
	"fable/internal/assistant"
	"fable/internal/config"
	"fable/internal/executions"
	"fable/internal/llm"
	"fable/internal/logging"
	"fable/internal/messages"
	"fable/internal/registry"
	"fable/internal/server"
	"fable/internal/taskstack"
	"fable/internal/workspace"
)

func main() {
	root := &cobra.Command{
		Use:   "fable-server",
		Short: "Fable backend: task stack, workspace, and agent execution API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fable-server: %v\n", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewComponentLogger("Server")

	client := buildLLMClient(cfg, logger)

	tasks := taskstack.NewStore(logging.NewComponentLogger("TaskStack"))
	msgs := messages.NewStore(tasks, logging.NewComponentLogger("Messages"))
	execs := executions.NewStore(logging.NewComponentLogger("Executions"))

	ws, err := workspace.New(cfg.RuntimeDir, cfg.WorkspaceID, workspace.Options{}, logging.NewComponentLogger("Workspace"))
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}

	reg := registry.New(client, nil, logging.NewComponentLogger("Registry"))
	if err := agents.Register(reg); err != nil {
		return fmt.Errorf("register agents: %w", err)
	}
	if discovered, err := reg.DiscoverDir(cfg.AgentsDir); err != nil {
		return fmt.Errorf("discover agents: %w", err)
	} else if discovered > 0 {
		logger.Info("discovered %d agent manifest(s) in %s", discovered, cfg.AgentsDir)
	}

	svc := assistant.New(reg, tasks, execs, ws, logging.NewComponentLogger("Assistant"))

	srv := server.New(server.Deps{
		Tasks:      tasks,
		Messages:   msgs,
		Executions: execs,
		Workspace:  ws,
		Registry:   reg,
		Assistant:  svc,
		Logger:     logger,
	})

	logger.Info("listening on %s (%d agents, workspace %s)", cfg.ListenAddr, reg.Count(), cfg.WorkspaceID)
	return srv.Start(ctx, cfg.ListenAddr)
}

// buildLLMClient picks the OpenAI-compatible client when an API key is
// configured and falls back to the deterministic mock otherwise, so the
// server stays runnable in offline development.
func buildLLMClient(cfg *config.Config, logger logging.Logger) llm.Client {
	if cfg.LLM.APIKey == "" {
		logger.Warn("no LLM API key configured, using mock client")
		return llm.NewMockClient()
	}
	return llm.NewOpenAIClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})
}
