// Package wire implements the binary framing for the qight relay protocol.
//
// Every exchange is a frame: a big-endian u32 length prefix followed by that
// many body bytes. A zero-length frame is the sentinel that terminates a
// FETCH response. Frame bodies come in three shapes:
//
//	command  := tag(u8) || fields            client -> relay
//	envelope := msg_id(str16) || sender(str16) || recipient(str16)
//	            || timestamp(u64) || ttl(u32) || payload_len(u32) || payload
//	status   := 0x80 || code(u16) || detail(str16)
//
// where str16 is a u16 length prefix followed by UTF-8 bytes. Command tags:
//
//	0x01 HELLO  client_id(str16)
//	0x02 SEND   envelope
//	0x03 FETCH  recipient(str16)
//	0x04 ACK    msg_id(str16)
//	0x05 CLOSE  reason(str16)
//
// The three body shapes never collide on their first byte: command tags are
// 0x01..0x05, the status tag is 0x80, and an envelope body starts with the
// high byte of a u16 identifier length that is capped at 255, so it is
// always 0x00.
//
// Decoding is strict. Bodies with unknown tags, missing bytes, oversized
// declared lengths, or trailing bytes produce a [DecodeError] wrapping one
// of [ErrMalformed], [ErrTruncated], or [ErrFieldTooLarge]. Decoding never
// panics on arbitrary input.
package wire
