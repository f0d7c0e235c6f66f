// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/nyquist/dh"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/noisekv/client/config"
	"github.com/katzenpost/noisekv/core/wire"
	"github.com/katzenpost/noisekv/core/wire/commands"
)

// echoServer answers every Get with the key as the value, and every Put
// with the stored pair.
type echoServer struct {
	l         net.Listener
	staticKey dh.Keypair
	delay     time.Duration
}

func newEchoServer(t *testing.T) *echoServer {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	kp, err := dh.X25519.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	s := &echoServer{l: l, staticKey: kp}
	go s.serve()
	return s
}

func (s *echoServer) serve() {
	for {
		conn, err := s.l.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *echoServer) handle(conn net.Conn) {
	w, err := wire.NewConn(conn, &wire.Config{StaticKey: s.staticKey})
	if err != nil {
		conn.Close()
		return
	}
	defer w.Close()
	if err = w.Handshake(context.Background()); err != nil {
		return
	}
	for {
		b, err := w.Recv()
		if err != nil {
			return
		}
		var resp *commands.Response
		req, err := commands.RequestFromBytes(b)
		switch {
		case err != nil:
			resp = commands.BadRequest()
		case req.Put != nil:
			resp = commands.NewResponse(req.Put.Key, req.Put.Value)
		default:
			resp = commands.NewResponse(req.Get.Key, []byte(req.Get.Key))
		}
		time.Sleep(s.delay)
		rb, _ := resp.Marshal()
		if err = w.Send(rb); err != nil {
			return
		}
	}
}

func (s *echoServer) config(t *testing.T, fingerprint string) *config.Config {
	cfg := &config.Config{
		Server: &config.Server{
			Address:     "tcp://" + s.l.Addr().String(),
			Fingerprint: fingerprint,
		},
		Logging: &config.Logging{Disable: true},
	}
	require.NoError(t, cfg.FixupAndValidate())
	return cfg
}

func TestClient(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	s := newEchoServer(t)
	fp := wire.Fingerprint(s.staticKey.Public())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.config(t, fp))
	require.NoError(err)
	defer c.Close()
	require.Equal(fp, c.ServerFingerprint())

	resp, err := c.Put(ctx, "hello", []byte("world"))
	require.NoError(err)
	require.True(resp.IsOK())
	require.Equal([]byte("world"), resp.Value)

	resp, err = c.Get(ctx, "echo")
	require.NoError(err)
	require.Equal([]byte("echo"), resp.Value)

	// Invalid requests are rejected locally and leave the client usable.
	_, err = c.Get(ctx, "")
	require.Error(err)
	_, err = c.Put(ctx, strings.Repeat("k", commands.MaxKeyLength+1), nil)
	require.Error(err)
	_, err = c.Put(ctx, "big", make([]byte, wire.MaxPlaintextLength))
	require.ErrorIs(err, wire.ErrFrameTooLarge)

	resp, err = c.Get(ctx, "still-alive")
	require.NoError(err)
	require.True(resp.IsOK())
}

func TestClientUnpinned(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	s := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.config(t, ""))
	require.NoError(err)
	require.NoError(c.Close())
}

func TestClientPinMismatch(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	s := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := Dial(ctx, s.config(t, strings.Repeat("ff", 32)))
	require.ErrorIs(err, wire.ErrPeerRejected)
}

func TestClientRequestCancel(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	s := newEchoServer(t)
	s.delay = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.config(t, ""))
	require.NoError(err)
	defer c.Close()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer reqCancel()
	_, err = c.Get(reqCtx, "slow")
	require.ErrorIs(err, context.DeadlineExceeded)

	// A failed round trip leaves the connection unusable.
	_, err = c.Get(ctx, "after")
	require.True(errors.Is(err, wire.ErrInvalidState), "unexpected error: %v", err)
}

func TestClientDialFailure(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	addr := l.Addr().String()
	l.Close()

	cfg := &config.Config{
		Server:  &config.Server{Address: "tcp://" + addr},
		Logging: &config.Logging{Disable: true},
	}
	require.NoError(cfg.FixupAndValidate())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = Dial(ctx, cfg)
	require.Error(err)
}
