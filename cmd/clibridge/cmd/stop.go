package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clibridge/clibridge/internal/config"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running clibridge server",
	Long: `Stop a running clibridge server found through its PID file
(server.pid_file, default ~/.clibridge/clibridge.pid).

The server is given server.shutdown_timeout to finish in-flight agent
runs before it is killed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		grace, _ := config.ParseDuration(cfg.Server.ShutdownTimeout, 10*time.Second)
		return stopServer(cmd.ErrOrStderr(), cfg.Server.PIDFile, grace+5*time.Second, 200*time.Millisecond)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

// stopServer signals the process named in pidPath and waits up to wait for
// it to exit, polling every poll, before killing it. A stale PID file is
// removed and reported as an error.
func stopServer(out io.Writer, pidPath string, wait, poll time.Duration) error {
	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no server PID file found at %s; is the server running?", pidPath)
	}
	defer os.Remove(pidPath) //nolint:errcheck

	if !pidAlive(pid) {
		return fmt.Errorf("server process %d is not running (stale PID file removed)", pid)
	}

	fmt.Fprintf(out, "Stopping clibridge server (PID %d)...\n", pid)
	if err := requestStop(pid); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	for deadline := time.Now().Add(wait); time.Now().Before(deadline); {
		time.Sleep(poll)
		if !pidAlive(pid) {
			fmt.Fprintln(out, "Server stopped.")
			return nil
		}
	}

	fmt.Fprintln(out, "Server did not stop in time, killing it.")
	if err := forceStop(pid); err != nil && pidAlive(pid) {
		return fmt.Errorf("failed to kill server: %w", err)
	}
	return nil
}
