package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid audio header",
			data: []byte{
				0xAA,                   // Magic
				0x01,                   // Version
				0x01,                   // MsgType: Audio
				0x01,                   // Flags: ChannelA
				0x00, 0x00, 0x0C, 0x00, // PayloadLen: 3072
			},
			expected: &Header{
				Magic:      Magic,
				Version:    Version,
				MsgType:    MsgTypeAudio,
				Flags:      FlagChannelA,
				PayloadLen: 3072,
			},
		},
		{
			name: "valid text header",
			data: []byte{
				0xAA, 0x01,
				0x02,                   // MsgType: Text
				0x08,                   // Flags: Display2
				0x00, 0x00, 0x00, 0x05, // PayloadLen: 5
			},
			expected: &Header{
				Magic:      Magic,
				Version:    Version,
				MsgType:    MsgTypeText,
				Flags:      FlagDisplay2,
				PayloadLen: 5,
			},
		},
		{
			name:        "header too short",
			data:        []byte{0xAA, 0x01},
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *result != *tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	frame := Encode(MsgTypeAudio, FlagChannelB, []byte{0x10, 0x20, 0x30})

	if len(frame) != HeaderSize+3 {
		t.Fatalf("Expected frame length %d, got %d", HeaderSize+3, len(frame))
	}
	if frame[0] != Magic || frame[1] != Version {
		t.Errorf("Expected magic/version 0x%02x/%d, got 0x%02x/%d", Magic, Version, frame[0], frame[1])
	}
	if frame[2] != MsgTypeAudio || frame[3] != FlagChannelB {
		t.Errorf("Unexpected type/flags: 0x%02x/0x%02x", frame[2], frame[3])
	}
	if got := binary.BigEndian.Uint32(frame[4:8]); got != 3 {
		t.Errorf("Expected payload length 3 in network byte order, got %d", got)
	}
	if !bytes.Equal(frame[HeaderSize:], []byte{0x10, 0x20, 0x30}) {
		t.Errorf("Payload not copied after header: %v", frame[HeaderSize:])
	}
}

func TestAppendFrameReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 64)
	first := AppendFrame(buf, MsgTypeAudio, FlagChannelA, []byte("abc"))
	second := AppendFrame(first[:0], MsgTypeAudio, FlagChannelB, []byte("de"))

	if len(second) != HeaderSize+2 {
		t.Fatalf("Expected %d bytes, got %d", HeaderSize+2, len(second))
	}
	if &second[0] != &buf[:1][0] {
		t.Errorf("Expected AppendFrame to reuse the backing array")
	}
	if second[3] != FlagChannelB {
		t.Errorf("Expected flags 0x%02x, got 0x%02x", FlagChannelB, second[3])
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		msgType uint8
		flags   uint8
		size    int
	}{
		{"empty text", MsgTypeText, FlagDisplay1, 0},
		{"short text", MsgTypeText, FlagDisplay2, 17},
		{"text at limit", MsgTypeText, FlagDisplay1, MaxTextPayload},
		{"control", MsgTypeControl, 0, 4},
		{"audio", MsgTypeAudio, FlagChannelA, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make([]byte, tt.size)
			for i := range payload {
				payload[i] = byte(i * 7)
			}

			r := bytes.NewReader(Encode(tt.msgType, tt.flags, payload))
			header, err := ReadHeader(r)
			if err != nil {
				t.Fatalf("ReadHeader failed: %v", err)
			}
			if err := ValidateHeader(header); err != nil {
				t.Fatalf("ValidateHeader failed: %v", err)
			}

			got, err := ReadPayload(r, header, make([]byte, MaxTextPayload))
			if err != nil {
				t.Fatalf("ReadPayload failed: %v", err)
			}
			if header.MsgType != tt.msgType || header.Flags != tt.flags {
				t.Errorf("Expected type/flags %d/0x%02x, got %d/0x%02x",
					tt.msgType, tt.flags, header.MsgType, header.Flags)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("Payload mismatch: expected %v, got %v", payload, got)
			}
		})
	}
}

func TestReadPayloadOversizeResynchronizes(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(Encode(MsgTypeText, FlagDisplay1, bytes.Repeat([]byte{'x'}, 1000)))
	stream.Write(Encode(MsgTypeText, FlagDisplay2, []byte("hello")))
	total := stream.Len()

	r := bytes.NewReader(stream.Bytes())
	buf := make([]byte, MaxTextPayload)

	header, err := ReadHeader(r)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if _, err := ReadPayload(r, header, buf); !errors.Is(err, ErrOversize) {
		t.Fatalf("Expected ErrOversize, got %v", err)
	}
	if consumed := total - r.Len(); consumed != HeaderSize+1000 {
		t.Errorf("Expected exactly %d bytes consumed, got %d", HeaderSize+1000, consumed)
	}

	header, err = ReadHeader(r)
	if err != nil {
		t.Fatalf("ReadHeader after drain failed: %v", err)
	}
	if err := ValidateHeader(header); err != nil {
		t.Fatalf("Header after drain is misaligned: %v", err)
	}
	payload, err := ReadPayload(r, header, buf)
	if err != nil {
		t.Fatalf("ReadPayload after drain failed: %v", err)
	}
	if string(payload) != "hello" || header.Flags != FlagDisplay2 {
		t.Errorf("Expected 'hello' for display 2, got %q flags 0x%02x", payload, header.Flags)
	}
}

func TestReadPayloadTruncatedDrain(t *testing.T) {
	frame := Encode(MsgTypeText, FlagDisplay1, make([]byte, 500))
	r := bytes.NewReader(frame[:HeaderSize+200])

	header, err := ReadHeader(r)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	_, err = ReadPayload(r, header, make([]byte, MaxTextPayload))
	if err == nil || errors.Is(err, ErrOversize) {
		t.Fatalf("Expected I/O error for truncated drain, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadHeaderPeerClosed(t *testing.T) {
	if _, err := ReadHeader(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF on empty stream, got %v", err)
	}
	if _, err := ReadHeader(bytes.NewReader([]byte{0xAA, 0x01, 0x02})); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF on partial header, got %v", err)
	}
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   Header
		errorMsg string
	}{
		{"valid", *NewHeader(MsgTypeText, FlagDisplay1, 3), ""},
		{"bad magic", Header{Magic: 0x55, Version: Version, MsgType: MsgTypeText}, "invalid magic"},
		{"bad version", Header{Magic: Magic, Version: 9, MsgType: MsgTypeText}, "unsupported version"},
		{"bad type", Header{Magic: Magic, Version: Version, MsgType: 0x7F}, "invalid message type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(&tt.header)
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.errorMsg, err)
			}
		})
	}
}

func TestHeaderString(t *testing.T) {
	s := NewHeader(MsgTypeAudio, FlagChannelA, 3072).String()
	if !strings.Contains(s, "Audio") || !strings.Contains(s, "3072") {
		t.Errorf("Header.String() missing expected content: %s", s)
	}
	if got := MsgTypeString(0x42); !strings.Contains(got, "Unknown") {
		t.Errorf("Expected Unknown for bad type, got %s", got)
	}
}
