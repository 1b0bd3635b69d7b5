package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clawguard/clawguard/internal/config"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset ClawGuard to a clean state",
	Long: `Reset ClawGuard by removing its persisted audit database.

This clears every audit record, live Grant, paired Telegram approver, and
service override. On next start, ClawGuard boots with a clean slate from
its YAML config alone.

Optional flags:
  --force   Skip confirmation prompt

Examples:
  # Reset (interactive confirmation)
  clawguard reset

  # Reset without prompting
  clawguard reset --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	type target struct {
		path string
		desc string
	}
	var targets []target

	if cfg.Audit.Backend != "memory" && cfg.Audit.DBPath != "" {
		lockFile, err := acquireDBLock(cfg.Audit.DBPath)
		if err != nil {
			return fmt.Errorf("refusing to reset: %w", err)
		}
		releaseDBLock(lockFile)

		targets = append(targets, target{cfg.Audit.DBPath, "audit database"})
		targets = append(targets, target{cfg.Audit.DBPath + "-wal", "audit database WAL"})
		targets = append(targets, target{cfg.Audit.DBPath + "-shm", "audit database shared-memory file"})
		targets = append(targets, target{cfg.Audit.DBPath + ".lock", "audit database lock file"})
	}
	targets = append(targets, target{pidFilePath(), "PID file"})

	var existing []target
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset — no persisted state found.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(os.Stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	var errCount int
	for _, t := range existing {
		if err := os.RemoveAll(t.path); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", t.path, err)
			errCount++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", t.path)
		}
	}

	if errCount > 0 {
		return fmt.Errorf("%d file(s) could not be removed", errCount)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. ClawGuard will start fresh on next launch.")
	return nil
}
