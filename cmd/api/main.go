package main

import (
	"fmt"
	"os"

	"github.com/iago/manga-studio-back/internal/config"
	"github.com/iago/manga-studio-back/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "manga-studio",
	Short:         "Manga generation API and worker",
	Long:          "Turns a story prompt into a multi-page manga: plan, character sheets and pages, stored and tracked per project.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		fmt.Fprintf(os.Stderr, "failed loading .env files: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, zerolog.Logger) {
	cfg := config.Load()
	return cfg, logging.New(cfg.AppEnv, cfg.LogLevel)
}
