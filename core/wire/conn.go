// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/katzenpost/noisekv/core/wire/frame"
)

const readChunkSize = 4096

// Conn binds a Codec to a stream oriented net.Conn.
//
// Send and Recv may be called concurrently with each other, but not with
// themselves or with Handshake.  Every error returned by Conn is fatal
// except ErrFrameTooLarge from Send.
type Conn struct {
	conn  net.Conn
	codec *Codec

	handshakeTimeout time.Duration

	txMutex sync.Mutex
	wbuf    bytes.Buffer

	rxMutex sync.Mutex
	rbuf    bytes.Buffer
	rchunk  []byte
	rerr    error

	invalid   atomic.Bool
	closeOnce sync.Once
}

// NewConn creates a new Conn over conn.  The caller must call Handshake
// before Send or Recv.
func NewConn(conn net.Conn, cfg *Config) (*Conn, error) {
	codec, err := NewCodec(cfg)
	if err != nil {
		return nil, err
	}
	return &Conn{
		conn:             conn,
		codec:            codec,
		handshakeTimeout: cfg.HandshakeTimeout,
		rchunk:           make([]byte, readChunkSize),
	}, nil
}

// Handshake runs the Noise handshake to completion.  The handshake is
// aborted if ctx is done or the configured HandshakeTimeout elapses.
func (c *Conn) Handshake(ctx context.Context) error {
	c.txMutex.Lock()
	defer c.txMutex.Unlock()
	c.rxMutex.Lock()
	defer c.rxMutex.Unlock()

	if c.invalid.Load() {
		return ErrInvalidState
	}
	if c.codec.IsEstablished() {
		return nil
	}

	if c.handshakeTimeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.handshakeTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		// Any deadline in the past unblocks pending I/O.
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		stop()
		c.conn.SetDeadline(time.Time{})
	}()

	for !c.codec.IsEstablished() {
		send := c.codec.WriteTurn()
		msgNr := c.codec.handshakeIndex() + 1

		var err error
		if send {
			err = c.sendFrame(nil)
		} else {
			_, err = c.recvFrame()
		}
		if err != nil {
			return c.fatal(c.handshakeError(ctx, err, msgNr, send))
		}
	}
	return nil
}

func (c *Conn) handshakeError(ctx context.Context, err error, msgNr int, send bool) error {
	connInfo := ExtractConnectionInfo(c.conn)

	var herr *HandshakeError
	if errors.As(err, &herr) {
		herr.Connection = connInfo
		return herr
	}

	msg := "network error"
	if ctxErr := ctx.Err(); ctxErr != nil {
		msg = "handshake aborted"
		err = ctxErr
	}
	return &HandshakeError{
		State:           messageState(msgNr, send),
		Message:         msg,
		UnderlyingError: err,
		IsInitiator:     c.codec.IsInitiator(),
		ProtocolName:    c.codec.Protocol(),
		MessageNumber:   msgNr,
		Connection:      connInfo,
	}
}

// Send seals msg and writes it to the connection as a single frame.
func (c *Conn) Send(msg []byte) error {
	c.txMutex.Lock()
	defer c.txMutex.Unlock()

	if c.invalid.Load() || !c.codec.IsEstablished() {
		return ErrInvalidState
	}
	err := c.sendFrame(msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrFrameTooLarge):
		return err
	default:
		return c.fatal(err)
	}
}

// Recv reads and opens the next message from the connection.
func (c *Conn) Recv() ([]byte, error) {
	c.rxMutex.Lock()
	defer c.rxMutex.Unlock()

	if c.invalid.Load() || !c.codec.IsEstablished() {
		return nil, ErrInvalidState
	}
	msg, err := c.recvFrame()
	if err != nil {
		return nil, c.fatal(err)
	}
	return msg, nil
}

func (c *Conn) sendFrame(msg []byte) error {
	c.wbuf.Reset()
	if _, err := c.codec.Encode(&c.wbuf, msg); err != nil {
		return err
	}
	_, err := c.conn.Write(c.wbuf.Bytes())
	return err
}

func (c *Conn) recvFrame() ([]byte, error) {
	for {
		msg, err := c.codec.Decode(&c.rbuf)
		if !errors.Is(err, ErrIncompleteFrame) {
			return msg, err
		}
		// Frames buffered ahead of a read error are delivered first.
		if c.rerr != nil {
			return nil, c.rerr
		}

		// Read at least what is missing of the pending frame.
		want := readChunkSize
		if n, ok := frame.PeekLength(c.rbuf.Bytes()); ok && n+frame.HeaderLength-c.rbuf.Len() > want {
			want = n + frame.HeaderLength - c.rbuf.Len()
		}
		if cap(c.rchunk) < want {
			c.rchunk = make([]byte, want)
		}
		n, err := c.conn.Read(c.rchunk[:want])
		c.rbuf.Write(c.rchunk[:n])
		if err != nil {
			c.rerr = err
		}
	}
}

// fatal invalidates the connection.  It is called with at least one of the
// mutexes held, so it must not call Close.
func (c *Conn) fatal(err error) error {
	c.invalid.Store(true)
	c.conn.Close()
	return err
}

// IsInitiator returns true iff the local side initiated the handshake.
func (c *Conn) IsInitiator() bool {
	return c.codec.IsInitiator()
}

// PeerCredentials returns the peer's credentials.  It MUST only be called
// after a successful Handshake.
func (c *Conn) PeerCredentials() (*PeerCredentials, error) {
	if c.invalid.Load() {
		return nil, ErrInvalidState
	}
	return c.codec.PeerCredentials()
}

// HandshakeHash returns the session identifier, or nil before the
// handshake has completed.
func (c *Conn) HandshakeHash() []byte {
	return c.codec.HandshakeHash()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection and discards the session keys.
// Pending Send and Recv calls are unblocked and return an error.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.invalid.Store(true)
		err = c.conn.Close()

		c.txMutex.Lock()
		c.rxMutex.Lock()
		c.codec.Reset()
		c.rxMutex.Unlock()
		c.txMutex.Unlock()
	})
	return err
}
