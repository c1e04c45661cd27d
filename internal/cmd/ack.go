package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var ackCmd = &cobra.Command{
	Use:   "ack <msg_id>...",
	Short: "Acknowledge fetched messages",
	Long: `Acknowledge one or more messages in your own mailbox.

Under at-least-once delivery a fetched message stays queued until it is
acknowledged; ack removes it. Acknowledging a message that is already
gone is not an error.

Example:
  qight ack --as bob 7d744b6e-06c5-4df3-95a8-7c25bfe31a1d`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAck,
}

var ackAs string

func init() {
	rootCmd.AddCommand(ackCmd)
	addRemoteFlags(ackCmd)
	ackCmd.Flags().StringVar(&ackAs, "as", "", "client identity to connect as (required)")
	_ = ackCmd.MarkFlagRequired("as")
}

func runAck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
	defer cancel()

	c, err := dialRelay(ctx, ackAs)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close("") }()

	for _, msgID := range args {
		if err := c.Ack(ctx, msgID); err != nil {
			return fmt.Errorf("ack %s: %w", msgID, err)
		}
	}
	fmt.Printf("Acknowledged %d message(s)\n", len(args))
	return nil
}
