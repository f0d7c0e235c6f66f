// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package wire implements the noisekv wire protocol: a Noise secured codec
// that carries messages in length prefixed frames.
package wire

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/nyquist"
	"github.com/katzenpost/nyquist/dh"

	"github.com/katzenpost/noisekv/core/wire/frame"
)

const (
	// DefaultProtocol is the Noise protocol used when none is configured.
	DefaultProtocol = "Noise_XX_25519_ChaChaPoly_SHA256"

	// macLen is the AEAD tag overhead of every supported cipher.
	macLen = 16

	// MaxPlaintextLength is the largest message that fits in one frame
	// once the channel is established.
	MaxPlaintextLength = frame.MaxPayloadLength - macLen
)

// PeerCredentials is the peer's credentials learned during the handshake.
// By virtue of the Noise Protocol's design, the peer is guaranteed to hold
// the private component of PublicKey.  PublicKey is nil for patterns in
// which the peer never transmits a static key.
type PeerCredentials struct {
	PublicKey dh.PublicKey
}

// Fingerprint returns a short printable digest of the peer's static key.
func (p *PeerCredentials) Fingerprint() string {
	if p == nil || p.PublicKey == nil {
		return "(none)"
	}
	return Fingerprint(p.PublicKey)
}

// Fingerprint returns the hex encoded BLAKE2b-256 digest of a public key.
func Fingerprint(pk dh.PublicKey) string {
	sum := blake2b.Sum256(pk.Bytes())
	return hex.EncodeToString(sum[:])
}

// PeerAuthenticator is the interface used to authenticate the remote peer
// once the key exchange completes.
type PeerAuthenticator interface {
	// IsPeerValid authenticates the remote peer's credentials, returning true
	// iff the peer is valid.
	IsPeerValid(*PeerCredentials) bool
}

// Config is the configuration used to create a Codec or a Conn.
type Config struct {
	// Protocol is the Noise protocol name, DefaultProtocol if empty.  Only
	// interactive Diffie-Hellman patterns without pre-messages are
	// supported.
	Protocol string

	// IsInitiator selects the initiator role; the peer must be the
	// responder.
	IsInitiator bool

	// StaticKey is the local static keypair.  A fresh one is generated
	// from RandomReader if nil.
	StaticKey dh.Keypair

	// RandomReader is the entropy source, hpqc's rand.Reader if nil.
	RandomReader io.Reader

	// Authenticator, if set, is consulted when the handshake completes.
	Authenticator PeerAuthenticator

	// HandshakeTimeout bounds the whole handshake performed by Conn.  Zero
	// means no timeout.
	HandshakeTimeout time.Duration
}

func (cfg *Config) fixup() (*nyquist.Protocol, error) {
	if cfg.Protocol == "" {
		cfg.Protocol = DefaultProtocol
	}
	if cfg.RandomReader == nil {
		cfg.RandomReader = rand.Reader
	}
	protocol, err := nyquist.NewProtocol(cfg.Protocol)
	if err != nil {
		return nil, fmt.Errorf("wire/codec: protocol '%v': %w", cfg.Protocol, err)
	}
	switch {
	case protocol.Pattern.IsKEM():
		return nil, fmt.Errorf("wire/codec: protocol '%v': KEM patterns are not supported", cfg.Protocol)
	case protocol.Pattern.IsOneWay():
		return nil, fmt.Errorf("wire/codec: protocol '%v': one-way patterns are not supported", cfg.Protocol)
	case protocol.Pattern.NumPSKs() != 0:
		return nil, fmt.Errorf("wire/codec: protocol '%v': PSK patterns are not supported", cfg.Protocol)
	case len(protocol.Pattern.PreMessages()) != 0:
		// There is no way to supply a pre-shared remote static key.
		return nil, fmt.Errorf("wire/codec: protocol '%v': patterns with pre-messages are not supported", cfg.Protocol)
	}
	return protocol, nil
}

// ValidateProtocol returns an error if name is not a Noise protocol the
// codec supports.
func ValidateProtocol(name string) error {
	cfg := &Config{Protocol: name}
	_, err := cfg.fixup()
	return err
}

// channelState is either *handshaking or *established.
type channelState interface {
	isChannelState()
}

type handshaking struct {
	hs *handshake
}

type established struct {
	tx *cipherState
	rx *cipherState
}

func (*handshaking) isChannelState() {}
func (*established) isChannelState() {}

// cipherState is one direction of the transport phase.  The counter is the
// only source of the AEAD nonce and moves forward only after a successful
// operation.
type cipherState struct {
	cs      *nyquist.CipherState
	counter uint64
}

func newCipherState(cs *nyquist.CipherState) *cipherState {
	return &cipherState{cs: cs}
}

func (c *cipherState) seal(dst, plaintext []byte) ([]byte, error) {
	c.cs.SetNonce(c.counter)
	out, err := c.cs.EncryptWithAd(dst, nil, plaintext)
	if err != nil {
		return nil, err
	}
	c.counter++
	return out, nil
}

func (c *cipherState) open(dst, ciphertext []byte) ([]byte, error) {
	c.cs.SetNonce(c.counter)
	out, err := c.cs.DecryptWithAd(dst, nil, ciphertext)
	if err != nil {
		return nil, err
	}
	c.counter++
	return out, nil
}

// Codec is the secure channel codec of a single connection.  It performs
// the Noise handshake, then seals and opens transport messages.
//
// Encode and Decode are each not safe for concurrent use with themselves.
// Once the handshake has completed, one goroutine may Encode while another
// Decodes, since the two directions share no state.
type Codec struct {
	protocol      *nyquist.Protocol
	authenticator PeerAuthenticator
	isInitiator   bool

	state   channelState
	invalid atomic.Bool

	peerCredentials *PeerCredentials
	handshakeHash   []byte
}

// NewCodec creates a new Codec in the handshaking state.
func NewCodec(cfg *Config) (*Codec, error) {
	if cfg == nil {
		return nil, errors.New("wire/codec: missing Config")
	}
	c := *cfg
	protocol, err := c.fixup()
	if err != nil {
		return nil, err
	}

	staticKey := c.StaticKey
	if staticKey == nil {
		if staticKey, err = protocol.DH.GenerateKeypair(c.RandomReader); err != nil {
			return nil, fmt.Errorf("wire/codec: failed to generate static key: %w", err)
		}
	}

	hs, err := newHandshake(&c, protocol, staticKey)
	if err != nil {
		return nil, fmt.Errorf("wire/codec: failed to initialize handshake: %w", err)
	}

	return &Codec{
		protocol:      protocol,
		authenticator: c.Authenticator,
		isInitiator:   c.IsInitiator,
		state:         &handshaking{hs: hs},
	}, nil
}

// Protocol returns the Noise protocol name.
func (c *Codec) Protocol() string {
	return c.protocol.String()
}

// IsInitiator returns true iff the codec is in the initiator role.
func (c *Codec) IsInitiator() bool {
	return c.isInitiator
}

// IsEstablished returns true iff the handshake has completed and the codec
// has not since failed.
func (c *Codec) IsEstablished() bool {
	_, ok := c.state.(*established)
	return ok && !c.invalid.Load()
}

// WriteTurn returns true iff the handshake is in progress and the next
// handshake message is ours to send.
func (c *Codec) WriteTurn() bool {
	st, ok := c.state.(*handshaking)
	return ok && !c.invalid.Load() && st.hs.writeTurn()
}

func (c *Codec) handshakeIndex() int {
	if st, ok := c.state.(*handshaking); ok {
		return st.hs.index
	}
	return -1
}

// Overhead returns the per message expansion in the transport phase.
func (c *Codec) Overhead() int {
	return macLen
}

// SendNonce returns the nonce the next outbound transport message will use.
func (c *Codec) SendNonce() uint64 {
	if st, ok := c.state.(*established); ok {
		return st.tx.counter
	}
	return 0
}

// RecvNonce returns the nonce the next inbound transport message must use.
func (c *Codec) RecvNonce() uint64 {
	if st, ok := c.state.(*established); ok {
		return st.rx.counter
	}
	return 0
}

// PeerCredentials returns the peer's credentials.  It MUST only be called
// once the handshake has completed.
func (c *Codec) PeerCredentials() (*PeerCredentials, error) {
	if !c.IsEstablished() {
		return nil, ErrInvalidState
	}
	return c.peerCredentials, nil
}

// HandshakeHash returns the Noise handshake hash, which uniquely
// identifies the session, or nil before the handshake has completed.
func (c *Codec) HandshakeHash() []byte {
	return c.handshakeHash
}

// WriteMessage appends the next outbound frame payload to dst.  While
// handshaking plaintext must be empty and the next handshake message is
// produced; afterwards plaintext is sealed with the send cipher.
func (c *Codec) WriteMessage(dst, plaintext []byte) ([]byte, error) {
	if c.invalid.Load() {
		return nil, ErrInvalidState
	}

	switch st := c.state.(type) {
	case *handshaking:
		if len(plaintext) != 0 {
			return nil, c.fail(st.hs.violation(true, "application data sent during handshake", nil))
		}
		out, done, err := st.hs.write(dst)
		if err != nil {
			return nil, c.fail(err)
		}
		if done {
			if err = c.establish(st.hs); err != nil {
				return nil, err
			}
		}
		return out, nil
	case *established:
		if len(plaintext) > MaxPlaintextLength {
			return nil, ErrFrameTooLarge
		}
		out, err := st.tx.seal(dst, plaintext)
		if err != nil {
			return nil, c.fail(fmt.Errorf("wire/codec: failed to seal message %d: %w", st.tx.counter, err))
		}
		return out, nil
	default:
		panic("BUG: wire/codec: invalid channel state")
	}
}

// ReadMessage consumes one inbound frame payload.  While handshaking the
// payload is fed to the handshake and nothing is appended to dst;
// afterwards the payload is opened with the receive cipher and the
// plaintext appended to dst.
func (c *Codec) ReadMessage(dst, payload []byte) ([]byte, error) {
	if c.invalid.Load() {
		return nil, ErrInvalidState
	}

	switch st := c.state.(type) {
	case *handshaking:
		done, err := st.hs.read(payload)
		if err != nil {
			return nil, c.fail(err)
		}
		if done {
			if err = c.establish(st.hs); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case *established:
		out, err := st.rx.open(dst, payload)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, nyquist.ErrOpen):
			return nil, c.fail(fmt.Errorf("%w: message %d", ErrAuthenticationFailed, st.rx.counter))
		default:
			return nil, c.fail(fmt.Errorf("wire/codec: failed to open message %d: %w", st.rx.counter, err))
		}
	default:
		panic("BUG: wire/codec: invalid channel state")
	}
}

// Encode writes one complete frame to dst and returns the number of bytes
// written.  Capacity for the worst case expansion is reserved up front and
// the length prefix is filled in once the final size is known.  On error
// nothing is written to dst.
func (c *Codec) Encode(dst *bytes.Buffer, plaintext []byte) (int, error) {
	if c.invalid.Load() {
		return 0, ErrInvalidState
	}

	hint := len(plaintext) + macLen
	if st, ok := c.state.(*handshaking); ok {
		hint = st.hs.sizeHint()
	}
	dst.Grow(frame.HeaderLength + hint)

	b := dst.AvailableBuffer()
	b = append(b, make([]byte, frame.HeaderLength)...)
	b, err := c.WriteMessage(b, plaintext)
	if err != nil {
		return 0, err
	}
	if err = frame.PutHeader(b, len(b)-frame.HeaderLength); err != nil {
		// A nonce or handshake step was spent on a frame that will never
		// be sent, the peer can no longer follow.
		return 0, c.fail(err)
	}
	dst.Write(b)
	return len(b), nil
}

// Decode removes one frame from src and decodes it.  It returns
// ErrIncompleteFrame, leaving src untouched, if src does not yet hold a
// complete frame.  Handshake frames decode to a nil message; callers use
// IsEstablished to learn when the transport phase begins.
func (c *Codec) Decode(src *bytes.Buffer) ([]byte, error) {
	if c.invalid.Load() {
		return nil, ErrInvalidState
	}
	payload, ok := frame.Decode(src)
	if !ok {
		return nil, ErrIncompleteFrame
	}
	if _, ok = c.state.(*handshaking); ok {
		_, err := c.ReadMessage(nil, payload)
		return nil, err
	}
	// The payload is a private copy, so decrypt in place.
	return c.ReadMessage(payload[:0], payload)
}

// Reset invalidates the codec and discards its key material.  It must not
// be called concurrently with any other method.
func (c *Codec) Reset() {
	c.invalid.Store(true)
	switch st := c.state.(type) {
	case *handshaking:
		st.hs.reset()
	case *established:
		st.tx.cs.Reset()
		st.rx.cs.Reset()
	}
}

func (c *Codec) establish(hs *handshake) error {
	creds := &PeerCredentials{PublicKey: hs.remoteStatic()}
	if c.authenticator != nil && !c.authenticator.IsPeerValid(creds) {
		return c.fail(&HandshakeError{
			Kind:            ErrPeerRejected,
			State:           HandshakeStateAuthentication,
			Message:         "peer authentication failed",
			IsInitiator:     c.isInitiator,
			ProtocolName:    c.protocol.String(),
			PeerCredentials: creds,
		})
	}

	tx, rx := hs.split()
	c.peerCredentials = creds
	c.handshakeHash = hs.handshakeHash()
	c.state = &established{tx: tx, rx: rx}
	return nil
}

func (c *Codec) fail(err error) error {
	c.invalid.Store(true)
	if st, ok := c.state.(*handshaking); ok {
		st.hs.reset()
	}
	return err
}
