package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/idorocodes/qight/internal/admin"
	"github.com/idorocodes/qight/internal/config"
	"github.com/idorocodes/qight/internal/event"
	"github.com/idorocodes/qight/internal/logging"
	"github.com/idorocodes/qight/internal/relay"
	"github.com/idorocodes/qight/internal/store"
	"github.com/idorocodes/qight/internal/transport"
	"github.com/spf13/cobra"
)

// shutdownGrace bounds the drain of live sessions on SIGINT/SIGTERM.
const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay daemon",
	Long: `Run the relay daemon.

The relay accepts QUIC connections on listen.addr, keeps one FIFO
mailbox per recipient, and exposes the admin HTTP endpoint on
admin.addr when configured. SIGINT or SIGTERM drains live sessions
and exits.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = log.Close() }()

	bus := event.NewBus()
	st, err := buildStore(cfg, log, bus)
	if err != nil {
		return err
	}

	tlsConf, stopWatch, err := serverTLS(cfg, log)
	if err != nil {
		return err
	}
	defer stopWatch()

	ln, err := transport.Listen(cfg.Listen.Addr, tlsConf, transport.Options{
		IdleTimeout: cfg.Relay.IdleTimeout(),
	})
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen.Addr, err)
	}

	r := relay.New(*cfg, st, log, bus)

	var adm *admin.Server
	if cfg.Admin.Addr != "" {
		adm = admin.New(cfg.Admin.Addr, r, st, log)
		if err := adm.Start(); err != nil {
			_ = ln.Close()
			return fmt.Errorf("admin listener: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Serve gets its own context; shutdown is driven explicitly below so
	// live sessions see the shutdown close code instead of a bare cancel.
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Serve(context.Background(), ln)
	}()

	fmt.Printf("Relay listening on %s (QUIC)\n", ln.Addr())
	if adm != nil {
		fmt.Printf("Admin endpoint on http://%s\n", adm.Addr())
	}

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if adm != nil {
		_ = adm.Shutdown(shutdownCtx)
	}
	if err := r.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// buildLogger assembles the daemon logger from the logging config: nop
// when disabled, stderr without a file, rotating when a size cap is set.
func buildLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	if !cfg.Enabled {
		return logging.NopLogger(), nil
	}
	if cfg.File != "" && cfg.MaxSizeMB > 0 {
		return logging.NewRotatingLogger(cfg.File, cfg.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	}
	return logging.NewLogger(cfg.File, cfg.Level)
}

func buildStore(cfg *config.Config, log *logging.Logger, bus *event.Bus) (*store.Store, error) {
	mode, err := store.ParseDeliveryMode(cfg.Relay.Delivery)
	if err != nil {
		return nil, err
	}
	opts := []store.Option{
		store.WithDeliveryMode(mode),
		store.WithRetention(cfg.Store.MailboxRetention()),
		store.WithLimits(store.Limits{
			MaxIdentifierBytes: cfg.Limits.MaxIdentifierBytes,
			MaxPayloadBytes:    cfg.Limits.MaxFrameBytes,
		}),
		store.WithLogger(log),
		store.WithBus(bus),
	}
	if cfg.Store.PersistDir != "" {
		opts = append(opts, store.WithPersistence(store.NewFileLog(
			filepath.Join(cfg.Store.PersistDir, "messages.jsonl"))))
	}
	return store.New(opts...), nil
}

// serverTLS assembles the relay's TLS config. The returned stop func tears
// down the certificate watcher; it is a no-op when watching is off.
func serverTLS(cfg *config.Config, log *logging.Logger) (*tls.Config, func(), error) {
	certFile := cfg.TLS.ResolveCertFile()
	keyFile := cfg.TLS.ResolveKeyFile()

	var cert tls.Certificate
	var err error
	if cfg.TLS.AutoGenerate {
		cert, err = transport.EnsureServerCert(certFile, keyFile)
	} else {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("server certificate: %w", err)
	}

	if !cfg.TLS.Watch {
		return transport.ServerTLSConfig(cert), func() {}, nil
	}

	reloader, err := transport.NewCertReloader(certFile, keyFile, log)
	if err != nil {
		return nil, nil, fmt.Errorf("certificate reloader: %w", err)
	}
	if err := reloader.Start(); err != nil {
		return nil, nil, fmt.Errorf("certificate watch: %w", err)
	}
	return reloader.TLSConfig(), reloader.Stop, nil
}
