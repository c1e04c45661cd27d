// Package errors provides centralized error definitions and error handling
// utilities for the qight relay. It defines the error taxonomy the protocol
// distinguishes, sentinel errors shared across packages, constructors with
// context wrapping, and classification helpers.
//
// # Error Types
//
// Four categories cover every failure the relay reacts to:
//
//   - ProtocolError: the peer violated the framing or handshake rules.
//     The session is failed and the connection closed.
//   - ValidationError: a well-formed command carried unacceptable data.
//     The command is rejected with an error status; the session stays open.
//   - StoreError: the mailbox store could not complete an operation.
//     The relay degrades gracefully and keeps serving.
//   - TransportError: the underlying connection or stream failed.
//     Fatal for that session only, never for the relay.
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewProtocolError("command before hello", errors.ErrHelloRequired)
//	err = err.WithSessionID("d1f3...")
//
//	err := errors.NewValidationError("identifier exceeds length limit").WithField("sender")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrDuplicateMessageID) { ... }
//
//	var pe *errors.ProtocolError
//	if errors.As(err, &pe) { ... }
//
//	if errors.IsValidation(err) { ... }
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Handshake and session sentinel errors
var (
	// ErrHelloRequired indicates a command arrived before the HELLO handshake.
	ErrHelloRequired = New("hello required")
	// ErrAlreadyIdentified indicates a second HELLO on an identified session.
	ErrAlreadyIdentified = New("session already identified")
	// ErrSessionClosed indicates a command arrived after CLOSE.
	ErrSessionClosed = New("session closed")
	// ErrUnknownCommand indicates a frame with an unrecognized command tag.
	ErrUnknownCommand = New("unknown command tag")
)

// Store sentinel errors
var (
	// ErrDuplicateMessageID indicates the mailbox already holds a live
	// message with the same ID.
	ErrDuplicateMessageID = New("duplicate message id")
	// ErrAlreadyExpired indicates the envelope was expired on arrival.
	ErrAlreadyExpired = New("message already expired")
	// ErrStoreUnavailable indicates the store could not serve the operation.
	ErrStoreUnavailable = New("store unavailable")
)

// Validation sentinel errors
var (
	// ErrUnauthorizedSender indicates the envelope sender does not match the
	// session identity.
	ErrUnauthorizedSender = New("sender does not match session identity")
	// ErrIdentifierTooLong indicates an identifier field exceeded the limit.
	ErrIdentifierTooLong = New("identifier exceeds length limit")
	// ErrPayloadTooLarge indicates a payload exceeded the size limit.
	ErrPayloadTooLarge = New("payload exceeds size limit")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// RelayError is the base interface for all qight errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type RelayError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsPeerFacing returns true if the error message is safe to send to the
	// remote peer in an error status frame.
	IsPeerFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	peerFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsPeerFacing returns whether the error is safe to send to the peer.
func (e *baseError) IsPeerFacing() bool {
	return e.peerFacing
}

// -----------------------------------------------------------------------------
// Protocol Errors
// -----------------------------------------------------------------------------

// ProtocolError represents a violation of the framing or handshake rules.
// A protocol error fails the session; the connection is closed after an
// error status is reported (when the stream is still writable).
//
// Example:
//
//	err := errors.NewProtocolError("command before hello", errors.ErrHelloRequired)
//	err = err.WithSessionID("d1f3").WithCommand("SEND")
type ProtocolError struct {
	baseError
	SessionID string
	Command   string
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(message string, cause error) *ProtocolError {
	return &ProtocolError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			peerFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *ProtocolError) WithSessionID(id string) *ProtocolError {
	e.SessionID = id
	return e
}

// WithCommand adds the offending command name to the error context.
func (e *ProtocolError) WithCommand(cmd string) *ProtocolError {
	e.Command = cmd
	return e
}

// WithSeverity sets the error severity.
func (e *ProtocolError) WithSeverity(s Severity) *ProtocolError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *ProtocolError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("command=%s", e.Command))
	}

	prefix := "protocol error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("protocol error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ProtocolError) Is(target error) bool {
	if _, ok := target.(*ProtocolError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Validation Errors
// -----------------------------------------------------------------------------

// ValidationError represents a well-formed command carrying unacceptable
// data. The command is rejected; the session stays open.
//
// Example:
//
//	err := errors.NewValidationError("field is required").WithField("recipient")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			peerFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Store Errors
// -----------------------------------------------------------------------------

// StoreError represents a mailbox store failure. Store failures degrade
// gracefully: the relay logs them and keeps serving, reporting a generic
// status to the peer only when the operation could not be completed.
//
// Example:
//
//	err := errors.NewStoreError("append to message log failed", cause)
//	err = err.WithRecipient("bob").WithMsgID(id)
type StoreError struct {
	baseError
	Recipient string
	MsgID     string
}

// NewStoreError creates a new StoreError.
func NewStoreError(message string, cause error) *StoreError {
	return &StoreError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			peerFacing: false,
		},
	}
}

// WithRecipient adds the affected mailbox to the error context.
func (e *StoreError) WithRecipient(recipient string) *StoreError {
	e.Recipient = recipient
	return e
}

// WithMsgID adds the affected message ID to the error context.
func (e *StoreError) WithMsgID(id string) *StoreError {
	e.MsgID = id
	return e
}

// WithSeverity sets the error severity.
func (e *StoreError) WithSeverity(s Severity) *StoreError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *StoreError) WithRetryable(r bool) *StoreError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	var parts []string
	if e.Recipient != "" {
		parts = append(parts, fmt.Sprintf("recipient=%s", e.Recipient))
	}
	if e.MsgID != "" {
		parts = append(parts, fmt.Sprintf("msg_id=%s", e.MsgID))
	}

	prefix := "store error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("store error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *StoreError) Is(target error) bool {
	if _, ok := target.(*StoreError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Transport Errors
// -----------------------------------------------------------------------------

// TransportError represents a connection or stream failure. It is fatal for
// the affected session only; the relay's accept loop continues.
//
// Example:
//
//	err := errors.NewTransportError("accept stream failed", cause).WithRemote(addr)
type TransportError struct {
	baseError
	Remote string
}

// NewTransportError creates a new TransportError.
func NewTransportError(message string, cause error) *TransportError {
	return &TransportError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			peerFacing: false,
		},
	}
}

// WithRemote adds the remote address to the error context.
func (e *TransportError) WithRemote(addr string) *TransportError {
	e.Remote = addr
	return e
}

// WithSeverity sets the error severity.
func (e *TransportError) WithSeverity(s Severity) *TransportError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *TransportError) Error() string {
	prefix := "transport error"
	if e.Remote != "" {
		prefix = fmt.Sprintf("transport error [remote=%s]", e.Remote)
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *TransportError) Is(target error) bool {
	if _, ok := target.(*TransportError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsProtocol returns true if the error is a ProtocolError.
// Protocol errors fail the session.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return As(err, &pe)
}

// IsValidation returns true if the error is a ValidationError.
// Validation errors reject the command but leave the session open.
func IsValidation(err error) bool {
	var ve *ValidationError
	return As(err, &ve)
}

// IsStore returns true if the error is a StoreError.
func IsStore(err error) bool {
	var se *StoreError
	return As(err, &se)
}

// IsTransport returns true if the error is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return As(err, &te)
}

// IsRetryable returns true if the error is transient and the operation may
// succeed on retry. Errors that don't implement RelayError are not retryable.
func IsRetryable(err error) bool {
	var re RelayError
	if As(err, &re) {
		return re.IsRetryable()
	}
	return false
}

// IsPeerFacing returns true if the error message is safe to include in an
// error status frame sent to the remote peer.
func IsPeerFacing(err error) bool {
	var re RelayError
	if As(err, &re) {
		return re.IsPeerFacing()
	}
	return false
}

// GetSeverity returns the severity of an error. Errors that don't implement
// RelayError default to SeverityError.
func GetSeverity(err error) Severity {
	var re RelayError
	if As(err, &re) {
		return re.Severity()
	}
	return SeverityError
}
