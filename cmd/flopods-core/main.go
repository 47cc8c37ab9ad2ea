package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zahidkhandev/flopods-sub000/internal/config"
	"github.com/zahidkhandev/flopods-sub000/internal/logger"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "flopods-core",
	Short: "Document ingestion and embedding workers",
	Long: `flopods-core extracts text from uploaded documents and external URLs,
splits it into chunks, embeds every chunk and stores the vectors for search.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the default logger
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, log, nil
}
