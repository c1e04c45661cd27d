package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "relay.max_sessions")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateListen()...)
	errors = append(errors, c.validateTLS()...)
	errors = append(errors, c.validateRelay()...)
	errors = append(errors, c.validateLimits()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateAdmin()...)
	errors = append(errors, c.validateClient()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateListen validates the ListenConfig
func (c *Config) validateListen() []ValidationError {
	var errors []ValidationError

	if c.Listen.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "listen.addr",
			Value:   c.Listen.Addr,
			Message: "must not be empty",
		})
	} else if _, _, err := net.SplitHostPort(c.Listen.Addr); err != nil {
		errors = append(errors, ValidationError{
			Field:   "listen.addr",
			Value:   c.Listen.Addr,
			Message: "must be a host:port address",
		})
	}

	return errors
}

// validateTLS validates the TLSConfig
func (c *Config) validateTLS() []ValidationError {
	var errors []ValidationError

	// A custom keypair must be named in full; half a keypair silently
	// paired with a generated default is almost certainly a mistake.
	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" {
		errors = append(errors, ValidationError{
			Field:   "tls.key_file",
			Value:   c.TLS.KeyFile,
			Message: "must be set when tls.cert_file is set",
		})
	}
	if c.TLS.KeyFile != "" && c.TLS.CertFile == "" {
		errors = append(errors, ValidationError{
			Field:   "tls.cert_file",
			Value:   c.TLS.CertFile,
			Message: "must be set when tls.key_file is set",
		})
	}

	return errors
}

// validateRelay validates the RelayConfig
func (c *Config) validateRelay() []ValidationError {
	var errors []ValidationError

	if c.Relay.MaxSessions <= 0 {
		errors = append(errors, ValidationError{
			Field:   "relay.max_sessions",
			Value:   c.Relay.MaxSessions,
			Message: "must be positive",
		})
	}

	const maxSessionsLimit = 65536
	if c.Relay.MaxSessions > maxSessionsLimit {
		errors = append(errors, ValidationError{
			Field:   "relay.max_sessions",
			Value:   c.Relay.MaxSessions,
			Message: fmt.Sprintf("exceeds maximum of %d", maxSessionsLimit),
		})
	}

	if c.Relay.HandshakeTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "relay.handshake_timeout_seconds",
			Value:   c.Relay.HandshakeTimeoutSeconds,
			Message: "must be non-negative (0 disables the timeout)",
		})
	}

	if c.Relay.IdleTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "relay.idle_timeout_seconds",
			Value:   c.Relay.IdleTimeoutSeconds,
			Message: "must be non-negative (0 disables the timeout)",
		})
	}

	if c.Relay.Delivery != "" && !IsValidDeliveryMode(c.Relay.Delivery) {
		errors = append(errors, ValidationError{
			Field:   "relay.delivery",
			Value:   c.Relay.Delivery,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidDeliveryModes(), ", ")),
		})
	}

	return errors
}

// validateLimits validates the LimitsConfig
func (c *Config) validateLimits() []ValidationError {
	var errors []ValidationError

	// A frame must at least hold a small envelope
	const minFrameBytes = 1024
	if c.Limits.MaxFrameBytes < minFrameBytes {
		errors = append(errors, ValidationError{
			Field:   "limits.max_frame_bytes",
			Value:   c.Limits.MaxFrameBytes,
			Message: fmt.Sprintf("must be at least %d", minFrameBytes),
		})
	}

	const maxFrameBytesLimit = 1 << 30
	if c.Limits.MaxFrameBytes > maxFrameBytesLimit {
		errors = append(errors, ValidationError{
			Field:   "limits.max_frame_bytes",
			Value:   c.Limits.MaxFrameBytes,
			Message: fmt.Sprintf("exceeds maximum of %d", maxFrameBytesLimit),
		})
	}

	if c.Limits.MaxIdentifierBytes < 1 {
		errors = append(errors, ValidationError{
			Field:   "limits.max_identifier_bytes",
			Value:   c.Limits.MaxIdentifierBytes,
			Message: "must be positive",
		})
	}

	// The wire format caps identifier fields at 255 bytes
	const maxIdentifierLimit = 255
	if c.Limits.MaxIdentifierBytes > maxIdentifierLimit {
		errors = append(errors, ValidationError{
			Field:   "limits.max_identifier_bytes",
			Value:   c.Limits.MaxIdentifierBytes,
			Message: fmt.Sprintf("exceeds maximum of %d", maxIdentifierLimit),
		})
	}

	return errors
}

// validateStore validates the StoreConfig
func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if c.Store.SweepIntervalSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.sweep_interval_seconds",
			Value:   c.Store.SweepIntervalSeconds,
			Message: "must be non-negative (0 disables the sweep)",
		})
	}

	if c.Store.MailboxRetentionMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.mailbox_retention_minutes",
			Value:   c.Store.MailboxRetentionMinutes,
			Message: "must be non-negative (0 disables pruning)",
		})
	}

	return errors
}

// validateAdmin validates the AdminConfig
func (c *Config) validateAdmin() []ValidationError {
	var errors []ValidationError

	if c.Admin.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Addr); err != nil {
			errors = append(errors, ValidationError{
				Field:   "admin.addr",
				Value:   c.Admin.Addr,
				Message: "must be a host:port address (empty disables the endpoint)",
			})
		}
	}

	return errors
}

// validateClient validates the ClientConfig
func (c *Config) validateClient() []ValidationError {
	var errors []ValidationError

	if c.Client.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Client.Addr); err != nil {
			errors = append(errors, ValidationError{
				Field:   "client.addr",
				Value:   c.Client.Addr,
				Message: "must be a host:port address",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" {
		valid := false
		for _, level := range ValidLogLevels() {
			if c.Logging.Level == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "logging.level",
				Value:   c.Logging.Level,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
			})
		}
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
