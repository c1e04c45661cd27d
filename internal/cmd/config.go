package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/idorocodes/qight/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify qight configuration",
	Long: `View or modify qight configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  qight config set relay.delivery at_most_once
  qight config set relay.max_sessions 512
  qight config set logging.level debug

Valid keys:
  listen.addr                     - UDP address the relay binds (QUIC)
  tls.cert_file                   - Server certificate path
  tls.key_file                    - Server key path
  tls.auto_generate               - Generate a self-signed pair when missing (true/false)
  tls.watch                       - Hot-reload the certificate on change (true/false)
  relay.max_sessions              - Max concurrently served connections
  relay.handshake_timeout_seconds - Seconds an unidentified session may idle
  relay.idle_timeout_seconds      - Transport idle timeout in seconds
  relay.enforce_sender            - Reject spoofed envelope senders (true/false)
  relay.delivery                  - Delivery mode
                                    Options: at_least_once, at_most_once
  relay.welcome                   - Greet clients in the HELLO reply (true/false)
  limits.max_frame_bytes          - Max wire frame size in bytes
  limits.max_identifier_bytes     - Max identifier length in bytes
  store.sweep_interval_seconds    - Seconds between TTL sweeps
  store.mailbox_retention_minutes - Minutes an empty mailbox survives
  store.persist_dir               - Directory for the message log (empty: memory only)
  admin.addr                      - Admin HTTP address (empty: disabled)
  client.addr                     - Relay address the client commands dial
  client.insecure                 - Skip relay certificate verification (true/false)
  client.ca_file                  - PEM bundle to trust when verifying the relay
  logging.enabled                 - Write logs at all (true/false)
  logging.level                   - Log level
                                    Options: debug, info, warn, error
  logging.file                    - Log file path (empty: stderr)
  logging.max_size_mb             - Rotate the log file past this size (0: no rotation)
  logging.max_backups             - Rotated files to keep`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/qight/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	fmt.Println("Current configuration:")
	fmt.Println()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Config file: (none - using defaults)\n")
	}
	fmt.Println()

	fmt.Println("listen:")
	fmt.Printf("  addr: %s\n", cfg.Listen.Addr)

	fmt.Println("tls:")
	fmt.Printf("  cert_file: %s\n", cfg.TLS.ResolveCertFile())
	fmt.Printf("  key_file: %s\n", cfg.TLS.ResolveKeyFile())
	fmt.Printf("  auto_generate: %v\n", cfg.TLS.AutoGenerate)
	fmt.Printf("  watch: %v\n", cfg.TLS.Watch)

	fmt.Println("relay:")
	fmt.Printf("  max_sessions: %d\n", cfg.Relay.MaxSessions)
	fmt.Printf("  handshake_timeout_seconds: %d\n", cfg.Relay.HandshakeTimeoutSeconds)
	fmt.Printf("  idle_timeout_seconds: %d\n", cfg.Relay.IdleTimeoutSeconds)
	fmt.Printf("  enforce_sender: %v\n", cfg.Relay.EnforceSender)
	fmt.Printf("  delivery: %s\n", cfg.Relay.Delivery)
	fmt.Printf("  welcome: %v\n", cfg.Relay.Welcome)

	fmt.Println("limits:")
	fmt.Printf("  max_frame_bytes: %d\n", cfg.Limits.MaxFrameBytes)
	fmt.Printf("  max_identifier_bytes: %d\n", cfg.Limits.MaxIdentifierBytes)

	fmt.Println("store:")
	fmt.Printf("  sweep_interval_seconds: %d\n", cfg.Store.SweepIntervalSeconds)
	fmt.Printf("  mailbox_retention_minutes: %d\n", cfg.Store.MailboxRetentionMinutes)
	if cfg.Store.PersistDir != "" {
		fmt.Printf("  persist_dir: %s\n", cfg.Store.PersistDir)
	} else {
		fmt.Printf("  persist_dir: (memory only)\n")
	}

	fmt.Println("admin:")
	if cfg.Admin.Addr != "" {
		fmt.Printf("  addr: %s\n", cfg.Admin.Addr)
	} else {
		fmt.Printf("  addr: (disabled)\n")
	}

	fmt.Println("client:")
	fmt.Printf("  addr: %s\n", cfg.Client.Addr)
	fmt.Printf("  insecure: %v\n", cfg.Client.Insecure)
	if cfg.Client.CAFile != "" {
		fmt.Printf("  ca_file: %s\n", cfg.Client.CAFile)
	}

	fmt.Println("logging:")
	fmt.Printf("  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Printf("  level: %s\n", cfg.Logging.Level)
	if cfg.Logging.File != "" {
		fmt.Printf("  file: %s\n", cfg.Logging.File)
	} else {
		fmt.Printf("  file: (stderr)\n")
	}
	fmt.Printf("  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Printf("  max_backups: %d\n", cfg.Logging.MaxBackups)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	// Validate the key exists
	validKeys := map[string]string{
		"listen.addr":                     "string",
		"tls.cert_file":                   "string",
		"tls.key_file":                    "string",
		"tls.auto_generate":               "bool",
		"tls.watch":                       "bool",
		"relay.max_sessions":              "int",
		"relay.handshake_timeout_seconds": "int",
		"relay.idle_timeout_seconds":      "int",
		"relay.enforce_sender":            "bool",
		"relay.delivery":                  "string",
		"relay.welcome":                   "bool",
		"limits.max_frame_bytes":          "int",
		"limits.max_identifier_bytes":     "int",
		"store.sweep_interval_seconds":    "int",
		"store.mailbox_retention_minutes": "int",
		"store.persist_dir":               "string",
		"admin.addr":                      "string",
		"client.addr":                     "string",
		"client.insecure":                 "bool",
		"client.ca_file":                  "string",
		"logging.enabled":                 "bool",
		"logging.level":                   "string",
		"logging.file":                    "string",
		"logging.max_size_mb":             "int",
		"logging.max_backups":             "int",
	}

	keyType, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'qight config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue interface{}
	switch keyType {
	case "string":
		if key == "relay.delivery" && !config.IsValidDeliveryMode(value) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidDeliveryModes(), ", "))
		}
		if key == "logging.level" && !isValidLogLevel(value) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Set %s = %v\n", key, typedValue)
	fmt.Printf("Config saved to %s\n", configFile)

	return nil
}

func isValidLogLevel(level string) bool {
	for _, l := range config.ValidLogLevels() {
		if level == l {
			return true
		}
	}
	return false
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'qight config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# Qight relay configuration

# QUIC listener
listen:
  # UDP address the relay binds
  addr: ":7842"

# Server certificate. With both paths empty the relay keeps a
# self-signed pair under its data directory.
tls:
  cert_file: ""
  key_file: ""
  # Generate the pair when the files are missing
  auto_generate: true
  # Reload the certificate when the files change on disk
  watch: true

# Relay behavior
relay:
  # Connections served concurrently; extras queue at the accept loop
  max_sessions: 256
  # Seconds an unidentified connection may sit before being dropped
  handshake_timeout_seconds: 10
  # Transport idle timeout in seconds
  idle_timeout_seconds: 120
  # Reject envelopes whose sender does not match the HELLO identity
  enforce_sender: true
  # at_least_once: fetched messages stay queued until acked
  # at_most_once: fetch drains the mailbox
  delivery: at_least_once
  # Include a greeting in the HELLO reply
  welcome: true

# Protocol limits
limits:
  # Largest frame accepted on the wire (10 MB)
  max_frame_bytes: 10000000
  # Longest client or message identifier in bytes
  max_identifier_bytes: 255

# Mailbox store
store:
  # Seconds between TTL sweeps (0 disables the sweep)
  sweep_interval_seconds: 30
  # Minutes an empty, idle mailbox survives before being pruned
  mailbox_retention_minutes: 10
  # Directory for the message log; empty keeps messages in memory only
  persist_dir: ""

# Admin HTTP endpoint (/healthz, /stats); empty disables it
admin:
  addr: "127.0.0.1:7843"

# Defaults for the send/fetch/ack commands
client:
  addr: "127.0.0.1:7842"
  insecure: false
  ca_file: ""

# Logging
logging:
  enabled: true
  # debug, info, warn or error
  level: info
  # Log file path; empty logs to stderr
  file: ""
  # Rotate the log file past this size; 0 disables rotation
  max_size_mb: 10
  # Rotated files to keep
  max_backups: 3
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configFile)
	fmt.Println("Edit this file to customize the relay's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Println("\nSearch paths:")
	fmt.Printf("  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Printf("  2. $HOME/.config/qight/config.yaml\n")
	fmt.Printf("  3. ./config.yaml (current directory)\n")
	fmt.Println("\nEnvironment variables: QIGHT_* (e.g., QIGHT_RELAY_MAX_SESSIONS)")

	return nil
}
