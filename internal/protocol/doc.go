// Package protocol implements the length-prefixed frame format shared with the
// processing server: an 8-byte header (magic, version, type, flags, big-endian
// payload length) followed by the payload. Oversized inbound payloads are
// drained so the byte stream stays aligned on frame boundaries.
package protocol
