package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/idorocodes/qight/internal/envelope"
	"github.com/idorocodes/qight/internal/util"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch pending messages from a mailbox",
	Long: `Fetch the pending messages in a mailbox.

Without --mailbox the command drains the mailbox of the identity given
with --as. Under the default at-least-once delivery, fetched messages
stay queued until acknowledged; pass --ack to acknowledge everything
fetched in the same run. --ack only works against your own mailbox,
because the relay scopes ACK to the acknowledging identity.

Examples:
  qight fetch --as bob
  qight fetch --as bob --ack
  qight fetch --as monitor --mailbox alerts --json`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

var (
	fetchAs      string
	fetchMailbox string
	fetchAck     bool
	fetchJSON    bool
)

func init() {
	rootCmd.AddCommand(fetchCmd)
	addRemoteFlags(fetchCmd)
	fetchCmd.Flags().StringVar(&fetchAs, "as", "", "client identity to connect as (required)")
	fetchCmd.Flags().StringVar(&fetchMailbox, "mailbox", "", "mailbox to read (default: your own)")
	fetchCmd.Flags().BoolVar(&fetchAck, "ack", false, "acknowledge fetched messages")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "output envelopes as JSON")
	_ = fetchCmd.MarkFlagRequired("as")
}

func runFetch(cmd *cobra.Command, args []string) error {
	mailbox := fetchMailbox
	if mailbox == "" {
		mailbox = fetchAs
	}
	if fetchAck && mailbox != fetchAs {
		return fmt.Errorf("--ack only applies to your own mailbox (fetching %q as %q)", mailbox, fetchAs)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
	defer cancel()

	c, err := dialRelay(ctx, fetchAs)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close("") }()

	msgs, err := c.Fetch(ctx, mailbox)
	if err != nil {
		return err
	}

	if fetchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(msgs); err != nil {
			return err
		}
	} else {
		printMessages(mailbox, msgs)
	}

	if fetchAck {
		for _, env := range msgs {
			if err := c.Ack(ctx, env.MsgID); err != nil {
				return fmt.Errorf("ack %s: %w", env.MsgID, err)
			}
		}
		if len(msgs) > 0 && !fetchJSON {
			fmt.Printf("Acknowledged %d message(s)\n", len(msgs))
		}
	}
	return nil
}

func printMessages(mailbox string, msgs []envelope.Envelope) {
	if len(msgs) == 0 {
		fmt.Printf("No messages for %s\n", mailbox)
		return
	}
	fmt.Printf("Fetched %d message(s) from %s:\n", len(msgs), mailbox)
	for _, env := range msgs {
		fmt.Printf("  %s → %s : %s\n", env.Sender, env.Recipient,
			util.TruncateString(string(env.Payload), 120))
		fmt.Printf("    id=%s age=%s ttl=%s\n", env.MsgID, formatAge(env), formatTTL(env))
	}
}

func formatAge(env envelope.Envelope) string {
	if env.Timestamp == 0 {
		return "?"
	}
	age := time.Since(time.Unix(int64(env.Timestamp), 0))
	if age < 0 {
		age = 0
	}
	return age.Round(time.Second).String()
}

func formatTTL(env envelope.Envelope) string {
	at, ok := env.ExpiresAt()
	if !ok {
		return "none"
	}
	left := time.Until(at)
	if left < 0 {
		left = 0
	}
	return fmt.Sprintf("%ds (%s left)", env.TTL, left.Round(time.Second))
}
