package main

import (
	"errors"
	"fmt"

	"github.com/iago/manga-studio-back/internal/credits"
	"github.com/iago/manga-studio-back/internal/repository"
	"github.com/spf13/cobra"
)

var (
	creditsOwner  string
	creditsAmount int
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect or grant generation credits",
}

var creditsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the credit balance of an owner",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withLedger(cmd, func(ledger credits.Ledger) error {
			balance, err := ledger.Balance(cmd.Context(), creditsOwner)
			if errors.Is(err, credits.ErrUnknownOwner) {
				balance, err = 0, nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", creditsOwner, balance)
			return nil
		})
	},
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Add credits to an owner, creating its profile when missing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withLedger(cmd, func(ledger credits.Ledger) error {
			balance, err := ledger.Grant(cmd.Context(), creditsOwner, creditsAmount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", creditsOwner, balance)
			return nil
		})
	},
}

func init() {
	creditsCmd.PersistentFlags().StringVar(&creditsOwner, "owner", "", "Owner id (required)")
	if err := creditsCmd.MarkPersistentFlagRequired("owner"); err != nil {
		panic(fmt.Sprintf("failed to mark owner flag as required: %v", err))
	}
	creditsGrantCmd.Flags().IntVar(&creditsAmount, "amount", 0, "Credits to add")
	creditsCmd.AddCommand(creditsShowCmd, creditsGrantCmd)
	rootCmd.AddCommand(creditsCmd)
}

func withLedger(cmd *cobra.Command, fn func(credits.Ledger) error) error {
	cfg, _ := loadConfig()
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := repository.Connect(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(credits.NewPostgresLedger(pool))
}
