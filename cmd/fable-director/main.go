package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fable/internal/config"
	"fable/internal/director"
	"fable/internal/logging"
)

func main() {
	var quiet bool

	root := &cobra.Command{
		Use:   "fable-director",
		Short: "Fable director: polls the backend and delegates work to agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDirector(cmd.Context(), quiet)
		},
		SilenceUsage: true,
	}
	root.Flags().BoolVar(&quiet, "quiet", false, "suppress console output")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fable-director: %v\n", err)
		os.Exit(1)
	}
}

func runDirector(ctx context.Context, quiet bool) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	d := director.New(director.NewClient(cfg.BackendBaseURL), director.Options{
		PollingInterval: cfg.PollingInterval,
		Quiet:           quiet,
	}, logging.NewComponentLogger("Director"))

	return d.Run(ctx)
}
