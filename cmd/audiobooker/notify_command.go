package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"audiobooker/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification to the configured ntfy topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Notifications.NtfyTopic == "" {
				return errors.New("notifications.ntfy_topic is not configured")
			}
			if err := notifications.NewService(cfg).TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test notification sent to %s\n", cfg.Notifications.NtfyTopic)
			return nil
		},
	}
}
