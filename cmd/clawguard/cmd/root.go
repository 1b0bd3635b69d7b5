// Package cmd provides the CLI commands for ClawGuard.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clawguard/clawguard/internal/config"
)

var cfgFile string
var pidFileOverride string

var rootCmd = &cobra.Command{
	Use:   "clawguard",
	Short: "ClawGuard - gated reverse proxy for untrusted agents",
	Long: `ClawGuard mediates outbound HTTP(S) calls from an untrusted agent to a
catalog of upstream services, gating every call that a service's policy
flags as sensitive behind a human approval sent over a Telegram chat.

Quick start:
  1. Create a config file: clawguard.yaml
  2. Run: clawguard start

Configuration:
  Config is loaded from clawguard.yaml in the current directory,
  $HOME/.clawguard/, or /etc/clawguard/.

  Environment variables can override config values with the CLAWGUARD_
  prefix. Example: CLAWGUARD_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the proxy server
  stop        Stop the running server
  reset       Remove persisted state (audit database)
  hash-key    Hash a secret for use in the config file
  pair        Pre-seed a paired Telegram approver
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./clawguard.yaml)")
	rootCmd.PersistentFlags().StringVar(&pidFileOverride, "pid-file", "", "path to the server PID file (default: ~/.clawguard/server.pid)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
