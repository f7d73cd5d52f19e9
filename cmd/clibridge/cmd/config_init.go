package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clibridge/clibridge/internal/config"
)

var (
	configInitOutput string
	configInitForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the clibridge config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter config file with every default filled in",
	Long: `Write a starter clibridge.yaml with every default filled in.

Examples:
  # Write ./clibridge.yaml
  clibridge config init

  # Write to the per-user location
  clibridge config init ~/.clibridge/clibridge.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configInitOutput
		if len(args) == 1 {
			path = args[0]
		}
		if err := writeStarterConfig(path, configInitForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "clibridge.yaml", "Path to write")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

// starterConfig returns the defaulted config written by config init.
func starterConfig() config.Config {
	var cfg config.Config
	cfg.SetDefaults()
	cfg.SetDevDefaults()
	return cfg
}

func writeStarterConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	data, err := yaml.Marshal(starterConfig())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# clibridge configuration. Every key can be overridden with\n" +
		"# CLIBRIDGE_<SECTION>_<KEY>, e.g. CLIBRIDGE_AGENT_TIMEOUT=300s.\n")

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, append(header, data...), 0600)
}
