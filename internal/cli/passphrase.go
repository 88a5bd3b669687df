package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
)

const (
	defaultKeyringService = "onchain-agents"
	defaultKeyringUser    = "wallet-passphrase"
)

// passphraseCmd 管理系统钥匙串中的钱包口令，agentd 在未设置 WALLET_PASSPHRASE 时读取它。
func passphraseCmd() *cobra.Command {
	var service, user string
	cmd := &cobra.Command{
		Use:   "passphrase",
		Short: "Manage the keystore passphrase in the OS keyring",
	}
	cmd.PersistentFlags().StringVar(&service, "service", defaultKeyringService, "keyring service name")
	cmd.PersistentFlags().StringVar(&user, "user", defaultKeyringUser, "keyring user name")

	cmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Read a passphrase from stdin and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reader := bufio.NewReader(cmd.InOrStdin())
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read passphrase: %w", err)
			}
			secret := strings.TrimRight(line, "\r\n")
			if strings.TrimSpace(secret) == "" {
				return errors.New("passphrase must not be empty")
			}
			if err := keyring.Set(service, user, secret); err != nil {
				return fmt.Errorf("store passphrase: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s passphrase stored under %s/%s\n", okColor.Sprint("✓"), service, user)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether a passphrase is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := keyring.Get(service, user)
			switch {
			case err == nil:
				fmt.Fprintln(cmd.OutOrStdout(), okColor.Sprint("stored"))
			case errors.Is(err, keyring.ErrNotFound):
				fmt.Fprintln(cmd.OutOrStdout(), warnColor.Sprint("not stored"))
			default:
				return err
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the stored passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := keyring.Delete(service, user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "passphrase removed")
			return nil
		},
	})
	return cmd
}
