package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alem-hub/botcore/config"
)

func newTokenCommand() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the bot token stored in the OS keychain",
		Long: `The keychain is consulted when TELEGRAM_BOT_TOKEN and telegram.token are
both empty. The account name defaults to the application name.`,
	}
	cmd.PersistentFlags().StringVar(&account, "account", config.Default().App.Name, "keychain account name")

	set := &cobra.Command{
		Use:   "set [token]",
		Short: "Store the bot token; reads stdin when no argument is given",
		Example: `  bot token set 123456:ABC-DEF
  echo "$TOKEN" | bot token set`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("token is empty")
			}

			if err := config.StoreToken(account, token); err != nil {
				return fmt.Errorf("store token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token stored for %q\n", account)
			return nil
		},
	}

	del := &cobra.Command{
		Use:           "delete",
		Short:         "Remove the stored bot token",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DeleteToken(account); err != nil {
				return fmt.Errorf("delete token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token deleted for %q\n", account)
			return nil
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}
