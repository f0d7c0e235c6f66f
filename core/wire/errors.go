// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/katzenpost/noisekv/core/wire/frame"
)

var (
	// ErrFrameTooLarge is returned when a message does not fit in a single
	// frame once encrypted.  It is not fatal to the connection; the caller
	// may retry with a smaller message.
	ErrFrameTooLarge = frame.ErrFrameTooLarge

	// ErrIncompleteFrame is returned by Decode when the buffer does not yet
	// hold a complete frame.  It is a signal to read more bytes, not a
	// failure.
	ErrIncompleteFrame = errors.New("wire/codec: incomplete frame")

	// ErrHandshakeProtocolViolation is the class of all handshake failures
	// caused by the peer's messages or by calling the codec out of turn.
	ErrHandshakeProtocolViolation = errors.New("wire/codec: handshake protocol violation")

	// ErrAuthenticationFailed is returned when a transport frame fails the
	// AEAD integrity check.
	ErrAuthenticationFailed = errors.New("wire/codec: authentication failed")

	// ErrPeerRejected is returned when the PeerAuthenticator refuses the
	// remote peer's credentials.
	ErrPeerRejected = errors.New("wire/codec: peer rejected")

	// ErrInvalidState is returned on any use of a codec or connection after
	// a fatal error or Close.
	ErrInvalidState = errors.New("wire/codec: invalid state")
)

// HandshakeState names the handshake step at which a failure occurred.
type HandshakeState string

// HandshakeStateAuthentication is the state reported when the
// PeerAuthenticator rejects the remote peer.
const HandshakeStateAuthentication HandshakeState = "peer_authentication"

func messageState(n int, send bool) HandshakeState {
	if send {
		return HandshakeState(fmt.Sprintf("message_%d_send", n))
	}
	return HandshakeState(fmt.Sprintf("message_%d_receive", n))
}

// ConnectionInfo provides network connection information for diagnostics.
type ConnectionInfo struct {
	Protocol   string
	LocalAddr  string
	RemoteAddr string
}

// ExtractConnectionInfo returns the ConnectionInfo of conn, or nil.
func ExtractConnectionInfo(conn net.Conn) *ConnectionInfo {
	if conn == nil {
		return nil
	}
	local, remote := conn.LocalAddr(), conn.RemoteAddr()
	if local == nil || remote == nil {
		return nil
	}
	return &ConnectionInfo{
		Protocol:   local.Network(),
		LocalAddr:  local.String(),
		RemoteAddr: remote.String(),
	}
}

// HandshakeError provides detailed information about a handshake failure.
type HandshakeError struct {
	// Kind is the error class, ErrHandshakeProtocolViolation or
	// ErrPeerRejected, or nil for I/O failures during the handshake.
	Kind error

	State           HandshakeState
	Message         string
	UnderlyingError error
	IsInitiator     bool

	ProtocolName  string
	MessageNumber int
	MessageSize   int

	PeerCredentials *PeerCredentials
	Connection      *ConnectionInfo
}

// Error implements the error interface.
func (e *HandshakeError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "wire/codec: handshake failed at %s", e.State)
	if e.IsInitiator {
		b.WriteString(" (initiator)")
	} else {
		b.WriteString(" (responder)")
	}
	if e.Connection != nil && e.Connection.RemoteAddr != "" {
		fmt.Fprintf(&b, " with peer %s (%s)", e.Connection.RemoteAddr, e.Connection.Protocol)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.UnderlyingError != nil {
		fmt.Fprintf(&b, " (underlying error: %v)", e.UnderlyingError)
	}
	return b.String()
}

// Unwrap exposes both the error class and the underlying cause to
// errors.Is and errors.As.
func (e *HandshakeError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.UnderlyingError != nil {
		errs = append(errs, e.UnderlyingError)
	}
	return errs
}

// Verbose returns a detailed multi-line description of the failure.
func (e *HandshakeError) Verbose() string {
	var b strings.Builder

	b.WriteString("=== WIRE PROTOCOL HANDSHAKE FAILURE ===\n")
	fmt.Fprintf(&b, "State: %s\n", e.State)
	if e.IsInitiator {
		b.WriteString("Role: initiator (client)\n")
	} else {
		b.WriteString("Role: responder (server)\n")
	}
	if e.Connection != nil {
		b.WriteString("\n--- CONNECTION INFORMATION ---\n")
		fmt.Fprintf(&b, "Protocol: %s\n", e.Connection.Protocol)
		fmt.Fprintf(&b, "Local Address: %s\n", e.Connection.LocalAddr)
		fmt.Fprintf(&b, "Remote Address: %s\n", e.Connection.RemoteAddr)
	}
	fmt.Fprintf(&b, "Error Message: %s\n", e.Message)
	if e.UnderlyingError != nil {
		fmt.Fprintf(&b, "Underlying Error: %v\n", e.UnderlyingError)
	}

	b.WriteString("\n--- PROTOCOL INFORMATION ---\n")
	fmt.Fprintf(&b, "Protocol: %s\n", e.ProtocolName)
	if e.MessageNumber > 0 {
		fmt.Fprintf(&b, "Message Number: %d\n", e.MessageNumber)
		if e.MessageSize > 0 {
			fmt.Fprintf(&b, "Message Size: %d bytes\n", e.MessageSize)
		}
	}
	if e.PeerCredentials != nil {
		b.WriteString("\n--- PEER CREDENTIALS ---\n")
		fmt.Fprintf(&b, "Public Key: %s\n", e.PeerCredentials.Fingerprint())
	}

	b.WriteString("=== END HANDSHAKE FAILURE ===")
	return b.String()
}

// ProtocolVersionError is the underlying error when the peer's first
// handshake message does not carry our protocol version.
type ProtocolVersionError struct {
	Expected []byte
	Received []byte
}

func (e *ProtocolVersionError) Error() string {
	return fmt.Sprintf("wire/codec: protocol version mismatch: expected %x, received %x", e.Expected, e.Received)
}

// VerboseError is an error that can describe itself in detail.
type VerboseError interface {
	error
	Verbose() string
}

// GetVerboseError returns verbose error information if available.
func GetVerboseError(err error) string {
	var ve VerboseError
	if errors.As(err, &ve) {
		return ve.Verbose()
	}
	return err.Error()
}

// IsFatal returns true iff err leaves the connection unusable.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrFrameTooLarge) && !errors.Is(err, ErrIncompleteFrame)
}
