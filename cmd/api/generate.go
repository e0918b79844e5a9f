package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/iago/manga-studio-back/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	generatePrompt string
	generatePages  int
	generateOwner  string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run one manga generation synchronously",
	Long:  "Runs the full pipeline in the foreground, printing progress to stderr and the result as JSON to stdout.",
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generatePrompt, "prompt", "p", "", "Story prompt (required)")
	generateCmd.Flags().IntVarP(&generatePages, "pages", "n", 3, "Number of pages")
	generateCmd.Flags().StringVar(&generateOwner, "owner", "local", "Owner id charged for the generation")
	if err := generateCmd.MarkFlagRequired("prompt"); err != nil {
		panic(fmt.Sprintf("failed to mark prompt flag as required: %v", err))
	}
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg, logger := loadConfig()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	go func() { _ = a.reconciler.Run(ctx) }()

	progress := cmd.ErrOrStderr()
	observer := pipeline.ObserverFunc(func(event domain.ProgressEvent) {
		fmt.Fprintf(progress, "[%s] %s\n", event.Stage, event.Message)
	})

	result := a.orchestrator.Run(ctx, pipeline.Request{
		OwnerID:    generateOwner,
		Prompt:     generatePrompt,
		TotalPages: generatePages,
	}, observer)

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return result.Err()
}
