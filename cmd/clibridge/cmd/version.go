package cmd

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clibridge/clibridge/internal/adapter/outbound/agentcli"
)

// Version is overridden at build time with -ldflags "-X ...cmd.Version=...".
var Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		writeVersion(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// writeVersion prints the version, VCS stamp when the binary carries one,
// toolchain and supported backends.
func writeVersion(out io.Writer) {
	fmt.Fprintf(out, "clibridge %s\n", Version)
	if rev, when, dirty := vcsStamp(); rev != "" {
		if dirty {
			rev += " (modified)"
		}
		fmt.Fprintf(out, "  Commit:   %s %s\n", rev, when)
	}
	fmt.Fprintf(out, "  Go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(out, "  Backends: %s\n", strings.Join(agentcli.BackendNames(), ", "))
}

func vcsStamp() (rev, when string, dirty bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", "", false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
			if len(rev) > 12 {
				rev = rev[:12]
			}
		case "vcs.time":
			when = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return rev, when, dirty
}
