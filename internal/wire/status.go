package wire

import (
	"fmt"

	"github.com/idorocodes/qight/internal/errors"
)

// TagStatus marks a status frame body. It sits outside the command tag
// space and above any byte an envelope body can start with.
const TagStatus byte = 0x80

// Status codes carried in status frames. CodeOK acknowledges a command;
// every other code rejects it.
const (
	// CodeOK acknowledges the command.
	CodeOK uint16 = 0
	// CodeProtocol reports a framing or handshake violation. The relay
	// closes the connection after sending it.
	CodeProtocol uint16 = 1
	// CodeDuplicateID rejects a SEND whose msg_id is already live in the
	// recipient's mailbox.
	CodeDuplicateID uint16 = 2
	// CodeInvalid rejects a command carrying unacceptable field data.
	CodeInvalid uint16 = 3
	// CodeUnauthorized rejects a SEND whose sender does not match the
	// session identity.
	CodeUnauthorized uint16 = 4
	// CodeServerError reports that the relay could not serve the command.
	CodeServerError uint16 = 5
)

// Status is the relay's reply to a command: an acknowledgment (CodeOK) or a
// rejection with a reason code and human-readable detail.
type Status struct {
	Code   uint16
	Detail string
}

// OK reports whether the status acknowledges the command.
func (s Status) OK() bool {
	return s.Code == CodeOK
}

// EncodeStatus encodes a status into a frame body.
func EncodeStatus(st Status) []byte {
	body := make([]byte, 0, 5+len(st.Detail))
	body = append(body, TagStatus)
	body = append(body, byte(st.Code>>8), byte(st.Code))
	return appendStr16(body, st.Detail)
}

// DecodeStatus decodes a status frame body.
func DecodeStatus(body []byte) (Status, error) {
	r := &reader{buf: body}

	tag, err := r.u8("tag")
	if err != nil {
		return Status{}, err
	}
	if tag != TagStatus {
		return Status{}, decodeErr("tag", ErrMalformed)
	}

	var st Status
	if st.Code, err = r.u16("code"); err != nil {
		return Status{}, err
	}
	if st.Detail, err = r.str("detail"); err != nil {
		return Status{}, err
	}
	if err := r.done(); err != nil {
		return Status{}, err
	}
	return st, nil
}

// IsStatus reports whether a frame body is a status frame. Envelope bodies
// always start with 0x00, so the check is unambiguous within a FETCH
// response.
func IsStatus(body []byte) bool {
	return len(body) > 0 && body[0] == TagStatus
}

// StatusFromError maps an error to the status frame reporting it. Details
// of peer-facing errors are forwarded verbatim; everything else becomes a
// generic server error so internal state never leaks onto the wire.
func StatusFromError(err error) Status {
	var code uint16
	switch {
	case err == nil:
		return Status{Code: CodeOK}
	case errors.Is(err, errors.ErrDuplicateMessageID):
		code = CodeDuplicateID
	case errors.Is(err, errors.ErrUnauthorizedSender):
		code = CodeUnauthorized
	case errors.IsValidation(err):
		code = CodeInvalid
	case errors.IsProtocol(err):
		code = CodeProtocol
	default:
		code = CodeServerError
	}

	detail := "server error"
	if errors.IsPeerFacing(err) {
		detail = err.Error()
	}
	return Status{Code: code, Detail: detail}
}

// ErrorFromStatus maps a rejection status back to an error, reattaching the
// sentinel its code stands for so callers can test with errors.Is. An OK
// status maps to nil.
func ErrorFromStatus(st Status) error {
	switch st.Code {
	case CodeOK:
		return nil
	case CodeProtocol:
		return errors.NewProtocolError(st.Detail, nil)
	case CodeDuplicateID:
		return errors.NewValidationError(st.Detail).WithCause(errors.ErrDuplicateMessageID)
	case CodeInvalid:
		return errors.NewValidationError(st.Detail)
	case CodeUnauthorized:
		return errors.NewValidationError(st.Detail).WithCause(errors.ErrUnauthorizedSender)
	case CodeServerError:
		return errors.NewStoreError(st.Detail, errors.ErrStoreUnavailable)
	default:
		return fmt.Errorf("wire: status code %d: %s", st.Code, st.Detail)
	}
}
