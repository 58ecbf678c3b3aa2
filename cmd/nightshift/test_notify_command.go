package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nightshift/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case resp.Message != "":
					fmt.Fprintln(out, resp.Message)
				case resp.Sent:
					fmt.Fprintln(out, "Test notification sent")
				default:
					fmt.Fprintln(out, "Notification not sent")
				}
				return nil
			})
		},
	}
}
