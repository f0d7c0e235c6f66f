// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package client provides the noisekv client.
package client

import (
	"context"
	"crypto/hmac"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/noisekv/client/config"
	"github.com/katzenpost/noisekv/core/log"
	"github.com/katzenpost/noisekv/core/wire"
	"github.com/katzenpost/noisekv/core/wire/commands"
	"github.com/katzenpost/noisekv/quic/common"
)

const keepAliveInterval = 3 * time.Minute

var clientID uint64

// Client is a connection to a noisekv server.  Requests are serialized
// over the single connection.
type Client struct {
	sync.Mutex

	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger

	conn net.Conn
	w    *wire.Conn
}

// IsPeerValid checks the server's static key against the configured
// fingerprint, if any.
func (c *Client) IsPeerValid(creds *wire.PeerCredentials) bool {
	fp := creds.Fingerprint()
	if c.cfg.Server.Fingerprint == "" {
		c.log.Warningf("Server key is not pinned, accepting: %v", fp)
		return true
	}
	if !hmac.Equal([]byte(fp), []byte(c.cfg.Server.Fingerprint)) {
		c.log.Errorf("Server key mismatch: got %v, expected %v", fp, c.cfg.Server.Fingerprint)
		return false
	}
	return true
}

func dialConn(ctx context.Context, addr string) (net.Conn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		d := &net.Dialer{KeepAlive: keepAliveInterval}
		return d.DialContext(ctx, u.Scheme, u.Host)
	case "quic":
		return common.DialQuic(ctx, u.Host)
	default:
		return nil, fmt.Errorf("client: unsupported address scheme '%v'", addr)
	}
}

// Dial connects to the configured server and completes the handshake.  A
// new static key is generated for every connection.
func Dial(ctx context.Context, cfg *config.Config) (*Client, error) {
	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:        cfg,
		logBackend: logBackend,
		log:        logBackend.GetLogger(fmt.Sprintf("client:%d", atomic.AddUint64(&clientID, 1))),
	}

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Debug.DialTimeout)*time.Millisecond)
	defer cancel()
	if c.conn, err = dialConn(dialCtx, cfg.Server.Address); err != nil {
		c.log.Errorf("Failed to connect to '%v': %v", cfg.Server.Address, err)
		logBackend.Close()
		return nil, err
	}
	c.log.Debugf("Connected to: %v", c.conn.RemoteAddr())

	wCfg := &wire.Config{
		Protocol:         cfg.Server.Protocol,
		IsInitiator:      true,
		Authenticator:    c,
		HandshakeTimeout: time.Duration(cfg.Debug.HandshakeTimeout) * time.Millisecond,
	}
	if c.w, err = wire.NewConn(c.conn, wCfg); err != nil {
		c.conn.Close()
		logBackend.Close()
		return nil, err
	}
	if err = c.w.Handshake(ctx); err != nil {
		c.log.Errorf("Handshake failed: %v", err)
		c.log.Debugf("%s", wire.GetVerboseError(err))
		c.w.Close()
		logBackend.Close()
		return nil, err
	}
	c.log.Debugf("Handshake completed.")
	return c, nil
}

// Put stores value under key.
func (c *Client) Put(ctx context.Context, key string, value []byte) (*commands.Response, error) {
	return c.roundTrip(ctx, commands.NewPut(key, value))
}

// Get retrieves the value stored under key.  A missing key is reported by
// the response code, not an error.
func (c *Client) Get(ctx context.Context, key string) (*commands.Response, error) {
	return c.roundTrip(ctx, commands.NewGet(key))
}

// roundTrip sends req and waits for the response.  An error other than a
// request validation failure leaves the Client unusable.
func (c *Client) roundTrip(ctx context.Context, req *commands.Request) (*commands.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	b, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	c.Lock()
	defer c.Unlock()

	// ctx is enforced by stop, RequestTimeout by the deadline.
	c.conn.SetDeadline(time.Now().Add(time.Duration(c.cfg.Debug.RequestTimeout) * time.Millisecond))
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		stop()
		c.conn.SetDeadline(time.Time{})
	}()

	if err = c.w.Send(b); err != nil {
		return nil, c.requestError(ctx, err)
	}
	rb, err := c.w.Recv()
	if err != nil {
		return nil, c.requestError(ctx, err)
	}
	resp, err := commands.ResponseFromBytes(rb)
	if err != nil {
		return nil, err
	}
	c.log.Debugf("%v -> %v", req.Key(), resp)
	return resp, nil
}

func (c *Client) requestError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("client: request aborted: %w", ctxErr)
	}
	return fmt.Errorf("client: request failed: %w", err)
}

// ServerFingerprint returns the fingerprint of the server's static key.
func (c *Client) ServerFingerprint() string {
	creds, err := c.w.PeerCredentials()
	if err != nil {
		return ""
	}
	return creds.Fingerprint()
}

// Close closes the connection.
func (c *Client) Close() error {
	err := c.w.Close()
	c.logBackend.Close()
	return err
}
