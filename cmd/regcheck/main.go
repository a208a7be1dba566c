// Package main implements the regcheck CLI. It runs ingestion, search and
// assessment in-process against the configured vector store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dgallion1/regcheck/internal/app"
	"github.com/dgallion1/regcheck/internal/config"
)

var (
	// outputJSON prints machine-readable results
	outputJSON bool
	// verbose lowers the log level to debug
	verbose bool
	version = "dev"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "regcheck",
	Short: "Check compliance concerns against regulatory documents",
	Long: `regcheck ingests regulatory documents into a vector store and assesses
compliance concerns against them with a language model.

Configuration is read from the environment and from a .env file in the
working directory.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	// Results go to stdout, logs to stderr.
	rootCmd.SetOut(os.Stdout)
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// openApp loads and validates configuration and builds the components.
func openApp(ctx context.Context) (*app.App, error) {
	cfg := config.Load()
	level := cfg.LogLevel
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return app.New(ctx, cfg, log)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
