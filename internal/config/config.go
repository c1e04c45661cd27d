package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/idorocodes/qight/internal/wire"
)

// Config represents the complete qight relay configuration
type Config struct {
	Listen  ListenConfig  `mapstructure:"listen"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Store   StoreConfig   `mapstructure:"store"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Client  ClientConfig  `mapstructure:"client"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ListenConfig controls the relay's listening socket
type ListenConfig struct {
	// Addr is the UDP address the relay listens on (default ":7842")
	Addr string `mapstructure:"addr"`
}

// TLSConfig controls the relay's TLS identity
type TLSConfig struct {
	// CertFile is the PEM certificate path. Empty means a file under the
	// data directory (see ResolveCertFile).
	CertFile string `mapstructure:"cert_file"`
	// KeyFile is the PEM private key path. Empty means a file under the
	// data directory (see ResolveKeyFile).
	KeyFile string `mapstructure:"key_file"`
	// AutoGenerate creates a self-signed certificate on first start when
	// no keypair exists at the resolved paths (default: true)
	AutoGenerate bool `mapstructure:"auto_generate"`
	// Watch reloads the keypair when the files change on disk, so
	// certificate rotation does not require a restart (default: true)
	Watch bool `mapstructure:"watch"`
}

// RelayConfig controls session handling
type RelayConfig struct {
	// MaxSessions is the maximum number of concurrent connections (default: 256)
	MaxSessions int `mapstructure:"max_sessions"`
	// HandshakeTimeoutSeconds is how long a connection may sit without
	// completing HELLO before it is closed (0 = disabled)
	HandshakeTimeoutSeconds int `mapstructure:"handshake_timeout_seconds"`
	// IdleTimeoutSeconds is how long a connection may sit without traffic
	// before the transport closes it (0 = disabled)
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds"`
	// EnforceSender rejects SENDs whose envelope sender does not match the
	// session's HELLO identity (default: true)
	EnforceSender bool `mapstructure:"enforce_sender"`
	// Delivery selects the fetch regime: "at_least_once" keeps messages
	// until acked, "at_most_once" drains on fetch (default: "at_least_once")
	Delivery string `mapstructure:"delivery"`
	// Welcome includes a greeting detail in the HELLO response (default: true)
	Welcome bool `mapstructure:"welcome"`
}

// LimitsConfig caps wire-level sizes
type LimitsConfig struct {
	// MaxFrameBytes is the largest accepted frame body (default: 10_000_000)
	MaxFrameBytes int `mapstructure:"max_frame_bytes"`
	// MaxIdentifierBytes is the largest accepted identifier field (default: 255)
	MaxIdentifierBytes int `mapstructure:"max_identifier_bytes"`
}

// StoreConfig controls mailbox housekeeping and persistence
type StoreConfig struct {
	// SweepIntervalSeconds is how often the expiry sweep runs (0 = disabled;
	// expiry still happens lazily on access)
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	// MailboxRetentionMinutes is how long an empty mailbox survives before
	// the sweep prunes it (0 = never pruned)
	MailboxRetentionMinutes int `mapstructure:"mailbox_retention_minutes"`
	// PersistDir is where the message log lives. Empty keeps the store
	// memory-only.
	PersistDir string `mapstructure:"persist_dir"`
}

// AdminConfig controls the local operations endpoint
type AdminConfig struct {
	// Addr is the HTTP address for /healthz and /stats
	// (default "127.0.0.1:7843"; empty disables the endpoint)
	Addr string `mapstructure:"addr"`
}

// ClientConfig holds the defaults the command-line client dials with.
// The send/fetch/ack commands override these with --relay, --insecure
// and --ca.
type ClientConfig struct {
	// Addr is the relay address to dial (default "127.0.0.1:7842")
	Addr string `mapstructure:"addr"`
	// Insecure skips relay certificate verification (default: false)
	Insecure bool `mapstructure:"insecure"`
	// CAFile is a PEM bundle to trust when verifying the relay. Empty
	// uses the system roots.
	CAFile string `mapstructure:"ca_file"`
}

// LoggingConfig controls relay logging
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// File is the log file path. Empty logs to stderr.
	File string `mapstructure:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// HandshakeTimeout returns the handshake timeout as a time.Duration (0 means disabled)
func (c *RelayConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSeconds) * time.Second
}

// IdleTimeout returns the idle timeout as a time.Duration (0 means disabled)
func (c *RelayConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// SweepInterval returns the sweep interval as a time.Duration (0 means disabled)
func (c *StoreConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// MailboxRetention returns the mailbox retention window as a time.Duration
func (c *StoreConfig) MailboxRetention() time.Duration {
	return time.Duration(c.MailboxRetentionMinutes) * time.Minute
}

// ResolveCertFile returns the certificate path, falling back to the data
// directory when unset.
func (t *TLSConfig) ResolveCertFile() string {
	if t.CertFile != "" {
		return t.CertFile
	}
	return filepath.Join(DataDir(), "cert.pem")
}

// ResolveKeyFile returns the private key path, falling back to the data
// directory when unset.
func (t *TLSConfig) ResolveKeyFile() string {
	if t.KeyFile != "" {
		return t.KeyFile
	}
	return filepath.Join(DataDir(), "key.pem")
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Addr: ":7842",
		},
		TLS: TLSConfig{
			CertFile:     "", // Empty means use <data dir>/cert.pem
			KeyFile:      "", // Empty means use <data dir>/key.pem
			AutoGenerate: true,
			Watch:        true,
		},
		Relay: RelayConfig{
			MaxSessions:             256,
			HandshakeTimeoutSeconds: 10,
			IdleTimeoutSeconds:      120,
			EnforceSender:           true,
			Delivery:                "at_least_once",
			Welcome:                 true,
		},
		Limits: LimitsConfig{
			MaxFrameBytes:      wire.DefaultMaxFrameBytes,
			MaxIdentifierBytes: wire.MaxIdentifierBytes,
		},
		Store: StoreConfig{
			SweepIntervalSeconds:    30,
			MailboxRetentionMinutes: 10,
			PersistDir:              "", // Empty means memory only
		},
		Admin: AdminConfig{
			Addr: "127.0.0.1:7843",
		},
		Client: ClientConfig{
			Addr:     "127.0.0.1:7842",
			Insecure: false,
			CAFile:   "",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			File:       "", // Empty means stderr
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Listen defaults
	viper.SetDefault("listen.addr", defaults.Listen.Addr)

	// TLS defaults
	viper.SetDefault("tls.cert_file", defaults.TLS.CertFile)
	viper.SetDefault("tls.key_file", defaults.TLS.KeyFile)
	viper.SetDefault("tls.auto_generate", defaults.TLS.AutoGenerate)
	viper.SetDefault("tls.watch", defaults.TLS.Watch)

	// Relay defaults
	viper.SetDefault("relay.max_sessions", defaults.Relay.MaxSessions)
	viper.SetDefault("relay.handshake_timeout_seconds", defaults.Relay.HandshakeTimeoutSeconds)
	viper.SetDefault("relay.idle_timeout_seconds", defaults.Relay.IdleTimeoutSeconds)
	viper.SetDefault("relay.enforce_sender", defaults.Relay.EnforceSender)
	viper.SetDefault("relay.delivery", defaults.Relay.Delivery)
	viper.SetDefault("relay.welcome", defaults.Relay.Welcome)

	// Limits defaults
	viper.SetDefault("limits.max_frame_bytes", defaults.Limits.MaxFrameBytes)
	viper.SetDefault("limits.max_identifier_bytes", defaults.Limits.MaxIdentifierBytes)

	// Store defaults
	viper.SetDefault("store.sweep_interval_seconds", defaults.Store.SweepIntervalSeconds)
	viper.SetDefault("store.mailbox_retention_minutes", defaults.Store.MailboxRetentionMinutes)
	viper.SetDefault("store.persist_dir", defaults.Store.PersistDir)

	// Admin defaults
	viper.SetDefault("admin.addr", defaults.Admin.Addr)

	// Client defaults
	viper.SetDefault("client.addr", defaults.Client.Addr)
	viper.SetDefault("client.insecure", defaults.Client.Insecure)
	viper.SetDefault("client.ca_file", defaults.Client.CAFile)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "qight")
	}
	// Fall back to ~/.config/qight
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qight"
	}
	return filepath.Join(home, ".config", "qight")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the path to the relay's data directory, used for the
// generated TLS keypair and other durable state.
func DataDir() string {
	// Check XDG_DATA_HOME first
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "qight")
	}
	// Fall back to ~/.local/share/qight
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qight"
	}
	return filepath.Join(home, ".local", "share", "qight")
}

// ValidDeliveryModes returns the list of valid delivery mode values
func ValidDeliveryModes() []string {
	return []string{"at_least_once", "at_most_once"}
}

// IsValidDeliveryMode checks if the given mode is valid
func IsValidDeliveryMode(mode string) bool {
	for _, valid := range ValidDeliveryModes() {
		if mode == valid {
			return true
		}
	}
	return false
}
