// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package frame implements the length prefixed framing used on the wire.
//
// Each frame is a 2 byte big endian length followed by that many bytes of
// payload.  The framing layer never interprets the payload.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	// HeaderLength is the size of the length prefix in bytes.
	HeaderLength = 2

	// MaxPayloadLength is the largest payload a single frame can carry.
	MaxPayloadLength = 65535
)

// ErrFrameTooLarge is the error returned when a payload does not fit in
// a single frame.
var ErrFrameTooLarge = errors.New("wire/frame: frame too large")

// PutHeader writes the length prefix for a payload of n bytes into hdr,
// which must be at least HeaderLength bytes long.
func PutHeader(hdr []byte, n int) error {
	if n < 0 || n > MaxPayloadLength {
		return ErrFrameTooLarge
	}
	binary.BigEndian.PutUint16(hdr[:HeaderLength], uint16(n))
	return nil
}

// AppendFrame appends the framed payload to dst and returns the extended
// slice.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	var hdr [HeaderLength]byte
	if err := PutHeader(hdr[:], len(payload)); err != nil {
		return dst, err
	}
	dst = append(dst, hdr[:]...)
	return append(dst, payload...), nil
}

// Encode writes the framed payload to dst, returning the number of bytes
// written.
func Encode(dst *bytes.Buffer, payload []byte) (int, error) {
	var hdr [HeaderLength]byte
	if err := PutHeader(hdr[:], len(payload)); err != nil {
		return 0, err
	}
	dst.Grow(HeaderLength + len(payload))
	dst.Write(hdr[:])
	dst.Write(payload)
	return HeaderLength + len(payload), nil
}

// PeekLength returns the declared payload length of the frame at the head
// of b, and false if the header has not fully arrived.
func PeekLength(b []byte) (int, bool) {
	if len(b) < HeaderLength {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(b)), true
}

// Decode removes one complete frame from the head of src and returns its
// payload.  If src does not yet hold a complete frame, Decode returns false
// and leaves src untouched, so that the caller can read more bytes from the
// stream and try again.
func Decode(src *bytes.Buffer) ([]byte, bool) {
	n, ok := PeekLength(src.Bytes())
	if !ok || src.Len() < HeaderLength+n {
		return nil, false
	}

	src.Next(HeaderLength)

	// The slice returned by Next aliases the buffer and is invalidated by
	// the next write, so hand the caller their own copy.
	payload := make([]byte, n)
	copy(payload, src.Next(n))
	return payload, true
}
