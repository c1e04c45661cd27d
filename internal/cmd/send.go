package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/idorocodes/qight/internal/envelope"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message to a recipient's mailbox",
	Long: `Send a message to a recipient's mailbox on the relay.

The message is taken from the argument, or read from stdin when the
argument is "-" or absent. The recipient does not need to be connected;
the relay holds the message until it is fetched and acknowledged, or
until its TTL runs out.

Examples:
  qight send --to bob "hello over QUIC"
  qight send --to bob --from alice --ttl 600 "expires in ten minutes"
  cat report.json | qight send --to reports`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

var (
	sendTo   string
	sendFrom string
	sendTTL  uint32
)

func init() {
	rootCmd.AddCommand(sendCmd)
	addRemoteFlags(sendCmd)
	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient mailbox (required)")
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "sender identity (default: $USER)")
	sendCmd.Flags().Uint32Var(&sendTTL, "ttl", 3600, "seconds the message stays deliverable (0 = never expires)")
	_ = sendCmd.MarkFlagRequired("to")
}

func runSend(cmd *cobra.Command, args []string) error {
	payload, err := readPayload(cmd, args)
	if err != nil {
		return err
	}

	from := sendFrom
	if from == "" {
		from = defaultIdentity()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
	defer cancel()

	c, err := dialRelay(ctx, from)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close("") }()

	env := envelope.New(from, sendTo, payload, sendTTL)
	if err := c.Send(ctx, env); err != nil {
		return err
	}

	fmt.Printf("Sent %s to %s (%d bytes, ttl %ds)\n", env.MsgID, sendTo, len(payload), sendTTL)
	return nil
}

// readPayload takes the message from the positional argument, or from
// stdin when the argument is "-" or absent.
func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("read message from stdin: %w", err)
	}
	return data, nil
}
