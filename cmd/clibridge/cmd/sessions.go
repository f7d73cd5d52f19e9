package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clibridge/clibridge/internal/config"
	"github.com/clibridge/clibridge/internal/domain/session"
)

var (
	sessionsJSON  bool
	sessionsForce bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List or delete stored sessions",
	Long: `Inspect the session store directly, without a running server.

Examples:
  # List live sessions
  clibridge sessions list

  # Forget one user's conversation
  clibridge sessions delete alice`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd.Context(), false, func(svc *session.Service) error {
			list, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), list, sessionsJSON)
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <user-id>",
	Short: "Delete one user's session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd.Context(), true, func(svc *session.Service) error {
			deleted, err := svc.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session for %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "No session for %s\n", args[0])
			}
			return nil
		})
	},
}

func init() {
	sessionsListCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print JSON instead of a table")
	sessionsDeleteCmd.Flags().BoolVar(&sessionsForce, "force", false, "Delete even while the server is running")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// withSessions opens the configured store, runs fn against it and closes it.
// Mutating commands refuse to run while the server holds the store.
func withSessions(ctx context.Context, mutating bool, fn func(*session.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Session.Store == "memory" {
		return fmt.Errorf("session.store is memory; sessions exist only inside the running server")
	}
	if mutating && !sessionsForce && serverRunning(cfg.Server.PIDFile) {
		return errServerRunning
	}

	logger := slog.New(slog.DiscardHandler)
	store, closeStore, err := openSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	maxAge, _ := config.ParseDuration(cfg.Session.MaxAge, session.DefaultMaxAge)
	return fn(session.NewService(store, session.Config{MaxAge: maxAge}))
}

func printSessions(w io.Writer, list []session.Metadata, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No live sessions.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tBACKEND\tMESSAGES\tLAST USED\tEXPIRES")
	for _, m := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			m.UserID, m.Backend, m.MessageCount,
			m.LastUsedAt.Local().Format(time.DateTime),
			m.ExpiresAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
