// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/noisekv/core/wire"
	"github.com/katzenpost/noisekv/core/wire/commands"
	"github.com/katzenpost/noisekv/server/internal/instrument"
	"github.com/katzenpost/noisekv/server/internal/store"
)

var incomingConnID uint64

type incomingConn struct {
	l   *listener
	log *logging.Logger

	c  net.Conn
	e  *list.Element
	w  *wire.Conn
	id uint64
}

// IsPeerValid accepts every client.  Clients use ephemeral static keys, so
// the fingerprint is only logged.
func (c *incomingConn) IsPeerValid(creds *wire.PeerCredentials) bool {
	c.log.Debugf("Peer static key: %v", creds.Fingerprint())
	return true
}

func (c *incomingConn) worker() {
	instrument.Incoming()
	defer func() {
		c.log.Debugf("Closing.")
		c.c.Close()
		instrument.Closed()
		c.l.onClosedConn(c) // Remove from the connection list.
	}()

	// Tear the connection down when the listener halts.
	doneCh := make(chan interface{})
	defer close(doneCh)
	go func() {
		select {
		case <-c.l.closeAllCh:
			c.c.Close()
		case <-doneCh:
		}
	}()

	cfg := c.l.s.cfg
	wCfg := &wire.Config{
		Protocol:         cfg.Server.Protocol,
		IsInitiator:      false,
		StaticKey:        c.l.s.staticKey,
		RandomReader:     rand.Reader,
		Authenticator:    c,
		HandshakeTimeout: time.Duration(cfg.Debug.HandshakeTimeout) * time.Millisecond,
	}
	var err error
	if c.w, err = wire.NewConn(c.c, wCfg); err != nil {
		c.log.Errorf("Failed to allocate session: %v", err)
		return
	}
	defer c.w.Close()

	ctx, cancel := c.l.HaltContext(context.Background())
	err = c.w.Handshake(ctx)
	cancel()
	if err != nil {
		var herr *wire.HandshakeError
		if errors.As(err, &herr) {
			instrument.HandshakeFailed(string(herr.State))
		}
		c.log.Errorf("Handshake failed: %v", err)
		c.log.Debugf("%s", wire.GetVerboseError(err))
		return
	}
	c.log.Debugf("Handshake completed.")

	idleTimeout := time.Duration(cfg.Debug.IdleTimeout) * time.Millisecond
	for {
		c.c.SetReadDeadline(time.Now().Add(idleTimeout))
		b, err := c.w.Recv()
		if err != nil {
			c.onRecvError(err)
			return
		}

		start := time.Now()
		cmd, resp := c.onRequest(b)
		instrument.Request(cmd, resp.Code, time.Since(start))

		err = c.sendResponse(resp)
		if errors.Is(err, wire.ErrFrameTooLarge) {
			// The value fit in the request but not in the response.
			c.log.Warningf("Response for %d byte value does not fit in a frame", len(resp.Value))
			err = c.sendResponse(commands.InternalError(resp.Key))
		}
		if err != nil {
			c.log.Debugf("Failed to send response: %v", err)
			return
		}
	}
}

func (c *incomingConn) sendResponse(resp *commands.Response) error {
	b, err := resp.Marshal()
	if err != nil {
		return err
	}
	return c.w.Send(b)
}

func (c *incomingConn) onRecvError(err error) {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		c.log.Debugf("Idle timeout.")
	case errors.Is(err, wire.ErrAuthenticationFailed):
		c.log.Warningf("Dropping connection: %v", err)
	default:
		c.log.Debugf("Failed to receive request: %v", err)
	}
}

// onRequest services a single serialized request, returning the command
// name for instrumentation and the response.
func (c *incomingConn) onRequest(b []byte) (string, *commands.Response) {
	req, err := commands.RequestFromBytes(b)
	if err != nil {
		c.log.Debugf("Malformed request: %v", err)
		return "invalid", commands.BadRequest()
	}

	db := c.l.s.store
	switch {
	case req.Put != nil:
		key, value := req.Put.Key, req.Put.Value
		if err = db.Put(key, value); err != nil {
			c.log.Errorf("Put failed: %v", err)
			return "put", commands.InternalError(key)
		}
		c.log.Debugf("Put: %d byte value", len(value))
		return "put", commands.NewResponse(key, value)
	case req.Get != nil:
		key := req.Get.Key
		value, err := db.Get(key)
		switch {
		case err == nil:
			return "get", commands.NewResponse(key, value)
		case errors.Is(err, store.ErrNotFound):
			return "get", commands.NotFound(key)
		default:
			c.log.Errorf("Get failed: %v", err)
			return "get", commands.InternalError(key)
		}
	}

	// NOTREACHED: RequestFromBytes validates.
	return "invalid", commands.BadRequest()
}

func newIncomingConn(l *listener, conn net.Conn) *incomingConn {
	c := &incomingConn{
		l:  l,
		c:  conn,
		id: atomic.AddUint64(&incomingConnID, 1),
	}
	c.log = l.s.logBackend.GetLogger(fmt.Sprintf("incoming:%d", c.id))
	c.log.Debugf("New incoming connection: %v", conn.RemoteAddr())
	return c
}
