package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawguard/clawguard/internal/adapter/outbound/memory"
	"github.com/clawguard/clawguard/internal/adapter/outbound/sqlite"
	"github.com/clawguard/clawguard/internal/config"
	"github.com/clawguard/clawguard/internal/domain/audit"
)

var pairName string

var pairCmd = &cobra.Command{
	Use:   "pair [chat-id]",
	Short: "Pre-seed a paired Telegram approver",
	Long: `Pre-seed a paired Telegram approver directly into the Audit Store, as an
alternative to exchanging /pair and the pairing secret over Telegram
itself — useful for bootstrapping the first approver on a server that
has pairing_enabled but no one paired yet.

Example:
  clawguard pair 123456789 --name "Alex"`,
	Args: cobra.ExactArgs(1),
	RunE: runPair,
}

func init() {
	pairCmd.Flags().StringVar(&pairName, "name", "", "display name for the approver")
	rootCmd.AddCommand(pairCmd)
}

func runPair(cmd *cobra.Command, args []string) error {
	chatID := args[0]

	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, closeFn, err := openAuditStoreForCLI(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := audit.PairedApproverRow{ChatID: chatID, Name: pairName, PairedAt: time.Now().UTC()}
	if err := store.PutPairedApprover(ctx, row); err != nil {
		return fmt.Errorf("failed to pair approver: %w", err)
	}

	fmt.Printf("Paired chat ID %s as %q.\n", chatID, pairName)
	return nil
}

// openAuditStoreForCLI opens the configured Audit Store backend for a
// short-lived CLI command (reset/pair), independent of the server's own
// boot sequence in start.go.
func openAuditStoreForCLI(cfg *config.Config) (audit.Store, func(), error) {
	if cfg.Audit.Backend == "memory" {
		store := memory.NewAuditStore(cfg.Audit.BufferSize)
		return store, func() { _ = store.Close() }, nil
	}

	store, err := sqlite.Open(cfg.Audit.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit database %s: %w", cfg.Audit.DBPath, err)
	}
	return store, func() { _ = store.Close() }, nil
}
