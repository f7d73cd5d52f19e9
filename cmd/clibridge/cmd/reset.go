package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/clibridge/clibridge/internal/config"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove every stored session",
	Long: `Reset clibridge by removing the session store and its side files.

Every user starts a fresh conversation on their next message. The server
must be stopped first.

Optional flags:
  --force   Skip confirmation prompt

Examples:
  # Reset with interactive confirmation
  clibridge reset

  # Reset without prompting
  clibridge reset --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

type resetTarget struct {
	path string
	desc string
}

// resetTargets lists the files a session store of kind at path may own.
func resetTargets(kind, path string) []resetTarget {
	if kind == "sqlite" {
		return []resetTarget{
			{path, "session database"},
			{path + "-wal", "database write-ahead log"},
			{path + "-shm", "database shared memory"},
		}
	}
	return []resetTarget{
		{path, "session file"},
		{path + ".bak", "session backup"},
		{path + ".lock", "session lock"},
		{path + ".corrupt", "quarantined session file"},
	}
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Session.Store == "memory" {
		fmt.Fprintln(os.Stderr, "session.store is memory; restart the server to clear sessions.")
		return nil
	}
	if serverRunning(cfg.Server.PIDFile) {
		return errServerRunning
	}
	return removeTargets(os.Stderr, os.Stdin, resetTargets(cfg.Session.Store, cfg.Session.Path), resetForce)
}

// removeTargets deletes the existing targets, asking on in unless force.
func removeTargets(out io.Writer, in io.Reader, targets []resetTarget, force bool) error {
	var existing []resetTarget
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(out, "Nothing to reset, no session files found.")
		return nil
	}

	fmt.Fprintln(out, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(out, "  - %s (%s)\n", t.path, t.desc)
	}

	if !force {
		fmt.Fprint(out, "\nProceed? [y/N] ")
		var answer string
		fmt.Fscanln(in, &answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var failed int
	for _, t := range existing {
		if err := os.Remove(t.path); err != nil {
			fmt.Fprintf(out, "  ERROR removing %s: %v\n", t.path, err)
			failed++
		} else {
			fmt.Fprintf(out, "  Removed %s\n", t.path)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be removed", failed)
	}

	fmt.Fprintln(out, "\nReset complete. Every user starts a new conversation on their next message.")
	return nil
}
