// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	require := require.New(t)

	c1, c2 := net.Pipe()
	initiator, err := NewConn(c1, &Config{IsInitiator: true})
	require.NoError(err)
	responder, err := NewConn(c2, &Config{HandshakeTimeout: 5 * time.Second})
	require.NoError(err)

	var wg sync.WaitGroup
	var respErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		respErr = responder.Handshake(context.Background())
	}()
	require.NoError(initiator.Handshake(context.Background()))
	wg.Wait()
	require.NoError(respErr)

	t.Cleanup(func() {
		initiator.Close()
		responder.Close()
	})
	return initiator, responder
}

func TestConnIntegration(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	initiator, responder := newConnPair(t)
	require.Equal(initiator.HandshakeHash(), responder.HandshakeHash())
	require.True(initiator.IsInitiator())

	creds, err := responder.PeerCredentials()
	require.NoError(err)
	require.NotNil(creds.PublicKey)

	// Handshake is idempotent once established.
	require.NoError(initiator.Handshake(context.Background()))

	const nrMessages = 32
	msg := func(from string, i int) []byte {
		return []byte(fmt.Sprintf("%s message %d", from, i))
	}

	var wg sync.WaitGroup
	for _, c := range []struct {
		conn *Conn
		name string
		peer string
	}{
		{initiator, "initiator", "responder"},
		{responder, "responder", "initiator"},
	} {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < nrMessages; i++ {
				assert.NoError(c.conn.Send(msg(c.name, i)))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < nrMessages; i++ {
				got, err := c.conn.Recv()
				assert.NoError(err)
				assert.Equal(msg(c.peer, i), got)
			}
		}()
	}
	wg.Wait()
}

func TestConnLargeMessage(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	initiator, responder := newConnPair(t)

	err := initiator.Send(make([]byte, MaxPlaintextLength+1))
	require.ErrorIs(err, ErrFrameTooLarge)

	big := bytes.Repeat([]byte{0xee}, MaxPlaintextLength)
	done := make(chan error, 1)
	go func() {
		done <- initiator.Send(big)
	}()
	got, err := responder.Recv()
	require.NoError(err)
	require.Equal(big, got)
	require.NoError(<-done)
}

func TestConnHandshakeTimeout(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c1, c2 := net.Pipe()
	defer c1.Close()
	responder, err := NewConn(c2, &Config{HandshakeTimeout: 50 * time.Millisecond})
	require.NoError(err)

	err = responder.Handshake(context.Background())
	require.Error(err)
	require.ErrorIs(err, os.ErrDeadlineExceeded)

	var herr *HandshakeError
	require.ErrorAs(err, &herr)
	require.Equal(HandshakeState("message_1_receive"), herr.State)
	require.NotNil(herr.Connection)

	require.ErrorIs(responder.Send([]byte("x")), ErrInvalidState)
	require.ErrorIs(responder.Handshake(context.Background()), ErrInvalidState)
}

func TestConnHandshakeCancel(t *testing.T) {
	t.Parallel()

	c1, c2 := net.Pipe()
	defer c1.Close()
	initiator, err := NewConn(c2, &Config{IsInitiator: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	// Nobody reads the first message, so the write blocks until cancel.
	err = initiator.Handshake(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConnHandshakeRejected(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c1, c2 := net.Pipe()
	initiator, err := NewConn(c1, &Config{IsInitiator: true})
	require.NoError(err)
	responder, err := NewConn(c2, &Config{Authenticator: &stubAuthenticator{}})
	require.NoError(err)

	var wg sync.WaitGroup
	var initErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		initErr = initiator.Handshake(context.Background())
	}()
	err = responder.Handshake(context.Background())
	wg.Wait()

	require.ErrorIs(err, ErrPeerRejected)
	require.NoError(initErr, "the initiator finishes before the responder decides")

	// The responder hung up, so the initiator learns of it on first use.
	_, err = initiator.Recv()
	require.Error(err)
	initiator.Close()
}

func TestConnClose(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	initiator, responder := newConnPair(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := responder.Recv()
		errCh <- err
	}()
	require.NoError(initiator.Close())
	require.Error(<-errCh)

	require.ErrorIs(initiator.Send([]byte("x")), ErrInvalidState)
	_, err := initiator.Recv()
	require.ErrorIs(err, ErrInvalidState)
	_, err = initiator.PeerCredentials()
	require.ErrorIs(err, ErrInvalidState)
}

func TestConnNotEstablished(t *testing.T) {
	t.Parallel()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	conn, err := NewConn(c1, &Config{IsInitiator: true})
	require.NoError(t, err)

	require.ErrorIs(t, conn.Send([]byte("x")), ErrInvalidState)
	_, err = conn.Recv()
	require.ErrorIs(t, err, ErrInvalidState)
}

// eofConn returns its tail in a single Read together with io.EOF.
type eofConn struct {
	net.Conn
	tail []byte
}

func (c *eofConn) Read(p []byte) (int, error) {
	if c.tail == nil {
		return c.Conn.Read(p)
	}
	n := copy(p, c.tail)
	c.tail = c.tail[n:]
	return n, io.EOF
}

func TestConnRecvFinalFrames(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c1, c2 := net.Pipe()
	ec := &eofConn{Conn: c2}
	initiator, err := NewConn(c1, &Config{IsInitiator: true})
	require.NoError(err)
	responder, err := NewConn(ec, &Config{})
	require.NoError(err)
	defer initiator.Close()
	defer responder.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- responder.Handshake(context.Background())
	}()
	require.NoError(initiator.Handshake(context.Background()))
	require.NoError(<-errCh)

	var buf bytes.Buffer
	for _, m := range []string{"one", "two"} {
		_, err = initiator.codec.Encode(&buf, []byte(m))
		require.NoError(err)
	}
	ec.tail = buf.Bytes()

	msg, err := responder.Recv()
	require.NoError(err)
	require.Equal([]byte("one"), msg)
	msg, err = responder.Recv()
	require.NoError(err)
	require.Equal([]byte("two"), msg)

	_, err = responder.Recv()
	require.ErrorIs(err, io.EOF)
	_, err = responder.Recv()
	require.ErrorIs(err, ErrInvalidState)
}
