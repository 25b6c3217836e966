package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Protocol constants
const (
	// Fixed header fields
	Magic   = 0xAA
	Version = 0x01

	// Message types
	MsgTypeAudio   = 0x01
	MsgTypeText    = 0x02
	MsgTypeControl = 0x03

	// Flag bits. Meaning depends on direction: outbound audio carries a
	// channel tag, inbound text carries a destination display.
	FlagChannelA = 0x01
	FlagChannelB = 0x02
	FlagDisplay1 = 0x04
	FlagDisplay2 = 0x08

	// HeaderSize is 1 + 1 + 1 + 1 + 4 bytes
	HeaderSize = 8

	// MaxTextPayload is the largest inbound payload a node accepts
	MaxTextPayload = 128

	// drainChunk bounds the scratch buffer used while discarding payloads
	drainChunk = 32
)

// ErrOversize is returned by ReadPayload when the declared payload length
// exceeds the caller's buffer. The payload has already been drained from the
// stream, so the next read starts at a header boundary.
var ErrOversize = errors.New("payload oversize, discarded")

// Header represents the 8-byte frame header
// Layout: [Magic:1][Version:1][MsgType:1][Flags:1][PayloadLen:4]
type Header struct {
	Magic      uint8
	Version    uint8
	MsgType    uint8  // 0x01=Audio, 0x02=Text, 0x03=Control
	Flags      uint8  // direction-dependent bitset
	PayloadLen uint32 // bytes following the header
}

// NewHeader returns a header with the fixed magic and version set
func NewHeader(msgType, flags uint8, payloadLen int) *Header {
	return &Header{
		Magic:      Magic,
		Version:    Version,
		MsgType:    msgType,
		Flags:      flags,
		PayloadLen: uint32(payloadLen),
	}
}

// Put writes the header into buf, which must hold at least HeaderSize bytes
func (h *Header) Put(buf []byte) {
	buf[0] = h.Magic
	buf[1] = h.Version
	buf[2] = h.MsgType
	buf[3] = h.Flags
	binary.BigEndian.PutUint32(buf[4:8], h.PayloadLen)
}

// Encode builds a complete frame: header followed by payload
func Encode(msgType, flags uint8, payload []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), msgType, flags, payload)
}

// AppendFrame appends a complete frame to dst and returns the extended slice.
// Callers on the send path reuse dst across frames.
func AppendFrame(dst []byte, msgType, flags uint8, payload []byte) []byte {
	var hdr [HeaderSize]byte
	NewHeader(msgType, flags, len(payload)).Put(hdr[:])
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// ParseHeader parses the 8-byte frame header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		Magic:      data[0],
		Version:    data[1],
		MsgType:    data[2],
		Flags:      data[3],
		PayloadLen: binary.BigEndian.Uint32(data[4:8]),
	}, nil
}

// ReadHeader reads exactly one header from r
func ReadHeader(r io.Reader) (*Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	return ParseHeader(buf[:])
}

// ReadPayload reads the payload described by h into buf and returns the
// filled prefix. When h.PayloadLen exceeds len(buf) the payload is drained
// and discarded and an error wrapping ErrOversize is returned. Any other
// error comes from the underlying reader and leaves the stream unusable.
func ReadPayload(r io.Reader, h *Header, buf []byte) ([]byte, error) {
	n := int64(h.PayloadLen)
	if n > int64(len(buf)) {
		if err := Drain(r, n); err != nil {
			return nil, fmt.Errorf("failed to drain %d byte payload: %w", n, err)
		}
		return nil, fmt.Errorf("declared %d bytes, limit %d: %w", n, len(buf), ErrOversize)
	}

	payload := buf[:n]
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Drain discards exactly n bytes from r
func Drain(r io.Reader, n int64) error {
	var scratch [drainChunk]byte
	for n > 0 {
		chunk := int64(len(scratch))
		if n < chunk {
			chunk = n
		}
		read, err := io.ReadFull(r, scratch[:chunk])
		n -= int64(read)
		if err != nil {
			return err
		}
	}
	return nil
}

// ValidateHeader validates the fixed header fields
func ValidateHeader(header *Header) error {
	if header.Magic != Magic {
		return fmt.Errorf("invalid magic: 0x%02x", header.Magic)
	}

	if header.Version != Version {
		return fmt.Errorf("unsupported version: %d", header.Version)
	}

	if !IsValidMsgType(header.MsgType) {
		return fmt.Errorf("invalid message type: 0x%02x", header.MsgType)
	}

	return nil
}

// IsValidMsgType checks if the message type is known
func IsValidMsgType(t uint8) bool {
	return t == MsgTypeAudio || t == MsgTypeText || t == MsgTypeControl
}

// MsgTypeString returns a human-readable message type
func MsgTypeString(t uint8) string {
	switch t {
	case MsgTypeAudio:
		return "Audio"
	case MsgTypeText:
		return "Text"
	case MsgTypeControl:
		return "Control"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", t)
	}
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	return fmt.Sprintf("Header{Type:%s, Flags:0x%02x, Len:%d, Magic:0x%02x, Version:%d}",
		MsgTypeString(h.MsgType), h.Flags, h.PayloadLen, h.Magic, h.Version)
}
