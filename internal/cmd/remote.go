package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/idorocodes/qight/internal/client"
	"github.com/idorocodes/qight/internal/config"
	"github.com/spf13/cobra"
)

// Flags shared by the commands that talk to a running relay (send, fetch,
// ack). Only one command runs per invocation, so sharing the variables is
// safe.
var (
	remoteAddr     string
	remoteInsecure bool
	remoteCAFile   string
	remoteTimeout  time.Duration
)

// addRemoteFlags registers the relay connection flags on a client command.
func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&remoteAddr, "relay", "", "relay address (default from client.addr)")
	cmd.Flags().BoolVar(&remoteInsecure, "insecure", false, "skip relay certificate verification")
	cmd.Flags().StringVar(&remoteCAFile, "ca", "", "PEM bundle to trust when verifying the relay")
	cmd.Flags().DurationVar(&remoteTimeout, "timeout", 10*time.Second, "deadline for the whole operation")
}

// dialRelay connects to the configured relay and identifies as clientID.
func dialRelay(ctx context.Context, clientID string) (*client.Client, error) {
	cfg := config.Get()

	addr := remoteAddr
	if addr == "" {
		addr = cfg.Client.Addr
	}
	caFile := remoteCAFile
	if caFile == "" {
		caFile = cfg.Client.CAFile
	}
	insecure := remoteInsecure || cfg.Client.Insecure

	var opts []client.Option
	switch {
	case insecure:
		opts = append(opts, client.WithInsecure())
	case caFile != "":
		opts = append(opts, client.WithCAFile(caFile))
	default:
		// A relay on this machine persists its generated certificate
		// under the data dir. Trusting that file directly makes the
		// single-host setup work without flags.
		if local := cfg.TLS.ResolveCertFile(); fileExists(local) {
			opts = append(opts, client.WithCAFile(local))
		}
	}

	c, err := client.Dial(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := c.Hello(ctx, clientID); err != nil {
		_ = c.Close("")
		return nil, fmt.Errorf("identify as %q: %w", clientID, err)
	}
	return c, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// defaultIdentity picks a client identity when --from/--as is omitted.
func defaultIdentity() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "anonymous"
}
