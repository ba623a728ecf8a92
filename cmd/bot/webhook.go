package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
)

type webhookOptions struct {
	*rootOptions
	DropPending bool
}

func newWebhookCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &webhookOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the webhook registration",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Register the configured webhook URL and secret",
		Long: `Register telegram.webhook_url with the platform. The secret token is
telegram.webhook_secret, or one derived from the bot token when unset.

Example:
  bot webhook set --config ./bot.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.rootOptions)
			if err != nil {
				return err
			}
			if cfg.Telegram.WebhookURL == "" {
				return errors.New("telegram.webhook_url is not set")
			}
			client, err := newClient(cfg, setupLogger(cfg))
			if err != nil {
				return err
			}

			err = client.SetWebhook(cmd.Context(), tgapi.SetWebhookParams{
				URL:            cfg.Telegram.WebhookURL,
				SecretToken:    cfg.Telegram.WebhookSecret,
				MaxConnections: cfg.Telegram.WebhookMaxConnections,
				AllowedUpdates: cfg.Telegram.AllowedUpdates,
				DropPending:    opts.DropPending,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", cfg.Telegram.WebhookURL)
			return nil
		},
	}
	set.Flags().BoolVar(&opts.DropPending, "drop-pending", false, "drop updates queued on the platform")

	del := &cobra.Command{
		Use:           "delete",
		Short:         "Remove the webhook so the bot can poll again",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.rootOptions)
			if err != nil {
				return err
			}
			client, err := newClient(cfg, setupLogger(cfg))
			if err != nil {
				return err
			}
			if err := client.DeleteWebhook(cmd.Context(), opts.DropPending); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
			return nil
		},
	}
	del.Flags().BoolVar(&opts.DropPending, "drop-pending", false, "drop updates queued on the platform")

	cmd.AddCommand(set, del)
	return cmd
}
