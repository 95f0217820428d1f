// Package frame implements the wire framing protocol spoken over the VPN
// tunnel's TLS stream: type(1) || length_be(4) || payload(length).
package frame

import (
	"encoding/binary"
	"fmt"
)

// Type is the 1-byte message type tag.
type Type uint8

const (
	AuthRequest    Type = 0x01
	AuthResponse   Type = 0x02
	ConfigPush     Type = 0x03
	Keepalive      Type = 0x04
	KeepaliveAck   Type = 0x05
	Disconnect     Type = 0x06
	ErrorFrame     Type = 0x0F
	DataPacket     Type = 0x10
)

// HeaderSize is the fixed header length: 1-byte type + 4-byte BE length.
const HeaderSize = 5

// MaxPayload bounds payload size by policy (64 KiB).
const MaxPayload = 64 * 1024

// knownControlTypes enumerates the control-range tags (0x01..0x0F) the
// codec recognizes. DataPacket (0x10) is handled separately since the data
// range is open-ended by design (only 0x10 is defined today).
var knownControlTypes = map[Type]bool{
	AuthRequest:  true,
	AuthResponse: true,
	ConfigPush:   true,
	Keepalive:    true,
	KeepaliveAck: true,
	Disconnect:   true,
	ErrorFrame:   true,
}

// IsKnownType reports whether t is a tag the codec understands, in either
// the control range (0x01-0x0F) or the data range (0x10).
func IsKnownType(t Type) bool {
	return knownControlTypes[t] || t == DataPacket
}

// IsControlType reports whether t is in the control range (0x01-0x0F).
func IsControlType(t Type) bool {
	return t <= 0x0F
}

// Message is one fully-decoded wire unit. Immutable after construction.
type Message struct {
	Type    Type
	Payload []byte
}

// ErrUnknownType is returned by decode when the type tag is unrecognized.
type ErrUnknownType struct{ Type Type }

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("frame: unknown type tag 0x%02x", uint8(e.Type))
}

// ErrLengthOverflow is returned when the declared payload length exceeds
// MaxPayload.
type ErrLengthOverflow struct{ Length uint32 }

func (e *ErrLengthOverflow) Error() string {
	return fmt.Sprintf("frame: declared length %d exceeds max payload %d", e.Length, MaxPayload)
}

// Encode produces the header followed by the payload verbatim.
func Encode(t Type, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, &ErrLengthOverflow{Length: uint32(len(payload))}
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(t)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Need signals that more bytes are required before a full message is
// available; N is the minimum total buffer length the caller should wait
// for before calling DecodeOne again (a hint, not a hard requirement).
type Need struct{ N int }

func (n *Need) Error() string {
	return fmt.Sprintf("frame: need at least %d buffered bytes", n.N)
}

// DecodeOne extracts one complete message from the front of buf.
//
// On success it returns the message and the number of bytes consumed.
// If buf does not yet contain a complete message, it returns a *Need
// error carrying the minimum buffer length to wait for. If buf contains a
// framing violation (unknown type, length overflow), it returns the
// corresponding error and 0 consumed bytes — fatal to the caller's session.
func DecodeOne(buf []byte) (msg Message, consumed int, err error) {
	if len(buf) < HeaderSize {
		return Message{}, 0, &Need{N: HeaderSize}
	}

	t := Type(buf[0])
	length := binary.BigEndian.Uint32(buf[1:5])

	if length > MaxPayload {
		return Message{}, 0, &ErrLengthOverflow{Length: length}
	}
	if !IsKnownType(t) {
		return Message{}, 0, &ErrUnknownType{Type: t}
	}

	total := HeaderSize + int(length)
	if len(buf) < total {
		return Message{}, 0, &Need{N: total}
	}

	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:total])

	return Message{Type: t, Payload: payload}, total, nil
}

// DecodeAll repeatedly applies DecodeOne until buf yields no further
// complete message, returning the decoded messages in arrival order and
// the residual (unconsumed) bytes.
//
// A framing error (unknown type, length overflow) aborts decoding and is
// returned alongside whatever messages were already extracted; the caller
// should treat the session as fatally broken but may still want the
// messages decoded before the error.
func DecodeAll(buf []byte) (messages []Message, residual []byte, err error) {
	residual = buf
	for {
		msg, consumed, derr := DecodeOne(residual)
		if derr != nil {
			if _, needMore := derr.(*Need); needMore {
				return messages, residual, nil
			}
			return messages, residual, derr
		}
		messages = append(messages, msg)
		residual = residual[consumed:]
	}
}
