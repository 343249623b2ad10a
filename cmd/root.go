// Package cmd implements the localrag command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/localrag/localrag/internal/app"
	"github.com/localrag/localrag/internal/config"
	"github.com/localrag/localrag/internal/log"
)

var (
	flagProvider string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "localrag",
	Short: "localrag - local-first document knowledge pipeline",
	Long: `localrag ingests documents into a PostgreSQL/pgvector store and answers
questions against them by embedding similarity, with a substring fallback.

Embeddings come from a local Ollama instance by default; OpenAI and Gemini
are available when their API keys are configured.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "",
		"embedding provider for this invocation (ollama, openai, gemini)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable debug logging")
}

// setupApp loads configuration and wires the application for one command.
// Callers must Close the returned App.
func setupApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}
