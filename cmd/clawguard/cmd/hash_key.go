package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clawguard/clawguard/internal/domain/secret"
)

var hashKeyArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [value]",
	Short: "Hash a secret for use in the config file",
	Long: `Hash a secret value for agent.secret_hash, admin.session_pin_hash, or
notifier.telegram.pairing_secret_hash.

By default this produces the fast "sha256:<hex>" format. Pass --argon2id
for the slower, salted Argon2id format, recommended for values an
attacker might be able to brute-force offline (the admin PIN especially).

Example:
  clawguard hash-key "my-agent-secret"
  clawguard hash-key --argon2id "my-admin-pin"

Security note: the value will appear in shell history. Consider clearing
history after use, or pass it via an environment variable instead:
  clawguard hash-key "$CLAWGUARD_AGENT_SECRET"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := args[0]
		if hashKeyArgon2id {
			hash, err := secret.HashArgon2id(raw)
			if err != nil {
				return fmt.Errorf("hash: %w", err)
			}
			fmt.Println(hash)
			return nil
		}
		fmt.Println(secret.Hash(raw))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyArgon2id, "argon2id", false, "use the slower, salted Argon2id format instead of sha256")
	rootCmd.AddCommand(hashKeyCmd)
}
