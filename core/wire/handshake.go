// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"crypto/subtle"
	"errors"

	"github.com/katzenpost/nyquist"
	"github.com/katzenpost/nyquist/dh"

	"github.com/katzenpost/noisekv/core/wire/frame"
)

// prologueVersion is sent in the clear ahead of the first handshake message
// and mixed into the handshake hash.
var prologueVersion = []byte{0x01}

// handshake adapts a nyquist.HandshakeState to an explicit message
// schedule.  Message i (0 based) is written by the initiator iff i is even,
// and the handshake is complete once every message in the pattern has been
// processed.  The side that processes the last message is the side whose
// final step flips the codec to the transport phase.
type handshake struct {
	hs       *nyquist.HandshakeState
	protocol *nyquist.Protocol

	nrMessages  int
	index       int
	isInitiator bool
}

func newHandshake(cfg *Config, protocol *nyquist.Protocol, staticKey dh.Keypair) (*handshake, error) {
	hs, err := nyquist.NewHandshake(&nyquist.HandshakeConfig{
		Protocol: protocol,
		Prologue: prologueVersion,
		DH: &nyquist.DHConfig{
			LocalStatic: staticKey,
		},
		Rng:            cfg.RandomReader,
		MaxMessageSize: frame.MaxPayloadLength,
		IsInitiator:    cfg.IsInitiator,
	})
	if err != nil {
		return nil, err
	}
	return &handshake{
		hs:          hs,
		protocol:    protocol,
		nrMessages:  len(protocol.Pattern.Messages()),
		isInitiator: cfg.IsInitiator,
	}, nil
}

// writeTurn returns true iff the next handshake message is ours to send.
func (h *handshake) writeTurn() bool {
	return (h.index%2 == 0) == h.isInitiator
}

// sizeHint is an upper bound for the size of the next outbound message,
// assuming every token carries a public key and a tag.
func (h *handshake) sizeHint() int {
	n := len(prologueVersion) + macLen
	if h.index < h.nrMessages {
		n += len(h.protocol.Pattern.Messages()[h.index]) * (h.protocol.DH.Size() + macLen)
	}
	return n
}

func (h *handshake) violation(send bool, msg string, err error) *HandshakeError {
	return &HandshakeError{
		Kind:            ErrHandshakeProtocolViolation,
		State:           messageState(h.index+1, send),
		Message:         msg,
		UnderlyingError: err,
		IsInitiator:     h.isInitiator,
		ProtocolName:    h.protocol.String(),
		MessageNumber:   h.index + 1,
	}
}

// write appends the next handshake message to dst.  The returned bool is
// true iff this message completed the handshake.
func (h *handshake) write(dst []byte) ([]byte, bool, error) {
	if h.index >= h.nrMessages {
		return nil, false, h.violation(true, "handshake already complete", nil)
	}
	if !h.writeTurn() {
		return nil, false, h.violation(true, "not our turn to send", nyquist.ErrOutOfOrder)
	}

	if h.index == 0 {
		dst = append(dst, prologueVersion...)
	}
	out, err := h.hs.WriteMessage(dst, nil)
	return h.advance(out, true, err)
}

// read consumes the peer's next handshake message.  The returned bool is
// true iff this message completed the handshake.
func (h *handshake) read(msg []byte) (bool, error) {
	if h.index >= h.nrMessages {
		return false, h.violation(false, "handshake already complete", nil)
	}
	if h.writeTurn() {
		return false, h.violation(false, "unexpected message from peer", nyquist.ErrOutOfOrder)
	}

	if h.index == 0 {
		n := len(prologueVersion)
		if len(msg) < n || subtle.ConstantTimeCompare(prologueVersion, msg[:n]) != 1 {
			received := msg
			if len(received) > n {
				received = received[:n]
			}
			err := h.violation(false, "unsupported protocol version", &ProtocolVersionError{
				Expected: prologueVersion,
				Received: received,
			})
			err.MessageSize = len(msg)
			return false, err
		}
		msg = msg[n:]
	}

	payload, err := h.hs.ReadMessage(nil, msg)
	if err == nil || errors.Is(err, nyquist.ErrDone) {
		// Handshake payloads are always empty, anything else means the
		// bytes were not a handshake message at all.
		if len(payload) != 0 {
			verr := h.violation(false, "unexpected handshake payload", nil)
			verr.MessageSize = len(msg)
			return false, verr
		}
	}
	_, done, err := h.advance(nil, false, err)
	if verr, ok := err.(*HandshakeError); ok {
		verr.MessageSize = len(msg)
	}
	return done, err
}

func (h *handshake) advance(out []byte, send bool, err error) ([]byte, bool, error) {
	done := false
	switch {
	case err == nil:
	case errors.Is(err, nyquist.ErrDone):
		done = true
	default:
		return nil, false, h.violation(send, "handshake engine failure", err)
	}

	h.index++
	if done != (h.index == h.nrMessages) {
		// The engine and the schedule disagree on when the handshake ends,
		// the first transport frame would be processed with the wrong keys.
		return nil, false, h.violation(send, "handshake completion does not match message schedule", nil)
	}
	return out, done, nil
}

// split returns the (tx, rx) cipher pair from a completed handshake.
func (h *handshake) split() (*cipherState, *cipherState) {
	cs := h.hs.GetStatus().CipherStates
	if h.isInitiator {
		return newCipherState(cs[0]), newCipherState(cs[1])
	}
	return newCipherState(cs[1]), newCipherState(cs[0])
}

func (h *handshake) remoteStatic() dh.PublicKey {
	if st := h.hs.GetStatus().DH; st != nil {
		return st.RemoteStatic
	}
	return nil
}

func (h *handshake) handshakeHash() []byte {
	return h.hs.GetStatus().HandshakeHash
}

func (h *handshake) reset() {
	h.hs.Reset()
}
