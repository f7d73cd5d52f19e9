package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clibridge/clibridge/internal/domain/auth"
)

var hashKeySHA256 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a hash for an API key",
	Long: `Generate a hash of an API key for use in config.

By default the output is an Argon2id hash. With --sha256 the output is
"sha256:<hex>". Either form can be used in the auth.api_keys[].hash field.

Example:
  clibridge hash-key "my-secret-api-key"
  # Output: $argon2id$v=19$m=47104,t=1,p=1$...

Security note: The key will appear in shell history.
Consider clearing history after use or using an environment variable:
  clibridge hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := hashAPIKey(args[0], hashKeySHA256)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeySHA256, "sha256", false, "Output a SHA-256 hash instead of Argon2id")
	rootCmd.AddCommand(hashKeyCmd)
}

// hashAPIKey returns the config form of key's hash.
func hashAPIKey(key string, sha bool) (string, error) {
	if key == "" {
		return "", fmt.Errorf("api key is empty")
	}
	if sha {
		return "sha256:" + auth.HashKey(key), nil
	}
	hash, err := auth.HashKeyArgon2id(key)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return hash, nil
}
