// Package cmd provides the CLI commands for clibridge.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clibridge/clibridge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "clibridge",
	Short: "clibridge - HTTP bridge for agent command-line tools",
	Long: `clibridge runs an agent command-line tool (claude, gemini or codex) on
behalf of HTTP clients and keeps each user's conversation resumable across
messages.

Quick start:
  1. Create a config file: clibridge config init
  2. Run: clibridge start
  3. Send a message:
     curl -s localhost:8787/v1/messages -d '{"user_id":"me","prompt":"hello"}'

Configuration:
  Config is loaded from clibridge.yaml in the current directory,
  $HOME/.clibridge/, or /etc/clibridge/.

  Environment variables can override config values with the CLIBRIDGE_ prefix.
  Example: CLIBRIDGE_AGENT_TIMEOUT=300s

Commands:
  start       Start the bridge server
  stop        Stop the running server
  sessions    List or delete stored sessions
  reset       Remove every stored session
  hash-key    Generate a hash for an API key
  config      Write a starter config file
  version     Print version information`,
	SilenceUsage: true,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./clibridge.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
