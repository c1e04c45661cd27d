package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// DefaultMaxFrameBytes is the default ceiling for a single frame body.
	// It bounds allocation before a frame is read into memory.
	DefaultMaxFrameBytes = 10_000_000

	// MaxIdentifierBytes is the wire-level cap on identifier fields (msg_id,
	// sender, recipient, client_id, close reason). Identifiers use a u16
	// length prefix, but the cap keeps the first byte of an envelope body at
	// 0x00 so envelope and status frames stay distinguishable.
	MaxIdentifierBytes = 255
)

// Decode failure sentinels. DecodeError wraps exactly one of these.
var (
	// ErrTruncated indicates a body shorter than its declared fields.
	ErrTruncated = fmt.Errorf("wire: truncated")
	// ErrFieldTooLarge indicates a declared length above the allowed limit.
	ErrFieldTooLarge = fmt.Errorf("wire: field too large")
	// ErrMalformed indicates an unknown tag, an empty command body, or
	// trailing bytes after the last field.
	ErrMalformed = fmt.Errorf("wire: malformed")
)

// DecodeError describes why a frame body could not be decoded.
type DecodeError struct {
	// Field names the field being decoded when the failure occurred.
	Field string
	// Cause is one of ErrTruncated, ErrFieldTooLarge, or ErrMalformed.
	Cause error
}

// Error returns the formatted error message.
func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("wire: decode %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("wire: decode: %v", e.Cause)
}

// Unwrap returns the underlying sentinel.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}

func decodeErr(field string, cause error) *DecodeError {
	return &DecodeError{Field: field, Cause: cause}
}

// ReadFrame reads one length-prefixed frame body from r. The max parameter
// bounds the body size; a declared length above it fails before allocation.
// A zero-length frame returns an empty non-nil slice (the FETCH sentinel).
// A clean EOF before the length prefix returns io.EOF; EOF mid-frame returns
// a DecodeError wrapping ErrTruncated.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, decodeErr("length prefix", ErrTruncated)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > max {
		return nil, decodeErr("frame", ErrFieldTooLarge)
	}
	if n == 0 {
		return []byte{}, nil
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, decodeErr("frame body", ErrTruncated)
	}
	return body, nil
}

// WriteFrame writes body as one length-prefixed frame. The prefix and body
// go out in a single Write so a frame is never interleaved with another
// writer on the same stream.
func WriteFrame(w io.Writer, body []byte) error {
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// WriteSentinel writes the zero-length frame that terminates a FETCH
// response.
func WriteSentinel(w io.Writer) error {
	var prefix [4]byte
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("wire: write sentinel: %w", err)
	}
	return nil
}

// reader is a bounds-checked cursor over a frame body.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) u8(field string) (byte, error) {
	if r.remaining() < 1 {
		return 0, decodeErr(field, ErrTruncated)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u16(field string) (uint16, error) {
	if r.remaining() < 2 {
		return 0, decodeErr(field, ErrTruncated)
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32(field string) (uint32, error) {
	if r.remaining() < 4 {
		return 0, decodeErr(field, ErrTruncated)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64(field string) (uint64, error) {
	if r.remaining() < 8 {
		return 0, decodeErr(field, ErrTruncated)
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// identifier reads a str16 field enforcing the identifier cap.
func (r *reader) identifier(field string) (string, error) {
	n, err := r.u16(field)
	if err != nil {
		return "", err
	}
	if n > MaxIdentifierBytes {
		return "", decodeErr(field, ErrFieldTooLarge)
	}
	if r.remaining() < int(n) {
		return "", decodeErr(field, ErrTruncated)
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// str reads a str16 field without the identifier cap (status details).
func (r *reader) str(field string) (string, error) {
	n, err := r.u16(field)
	if err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", decodeErr(field, ErrTruncated)
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) bytes(field string, n uint32) ([]byte, error) {
	if r.remaining() < int(n) {
		return nil, decodeErr(field, ErrTruncated)
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

// done verifies the cursor consumed the whole body.
func (r *reader) done() error {
	if r.remaining() != 0 {
		return decodeErr("trailing bytes", ErrMalformed)
	}
	return nil
}

// appendStr16 appends a u16 length prefix and the string bytes.
func appendStr16(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

// checkIdentifier enforces the wire-level identifier cap on encode.
func checkIdentifier(field, s string) error {
	if len(s) > MaxIdentifierBytes {
		return fmt.Errorf("wire: encode %s: %w", field, ErrFieldTooLarge)
	}
	return nil
}
