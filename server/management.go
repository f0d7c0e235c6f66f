// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"os"
	"strconv"

	"github.com/katzenpost/noisekv/core/wire"
	"github.com/katzenpost/noisekv/thwack"
)

const (
	cmdShutdown    = "SHUTDOWN"
	cmdFingerprint = "FINGERPRINT"
	cmdConnections = "CONNECTIONS"
	cmdRotateLog   = "ROTATELOG"
)

func (s *Server) initManagement() error {
	// Remove a stale socket from an unclean shutdown.
	if err := os.Remove(s.cfg.Management.Path); err != nil && !os.IsNotExist(err) {
		return err
	}

	mgmtCfg := &thwack.Config{
		Net:         "unix",
		Addr:        s.cfg.Management.Path,
		ServiceName: s.cfg.Server.Identifier + " noisekv Management Interface",
		LogModule:   "mgmt",
		NewLoggerFn: s.logBackend.GetLogger,
	}
	var err error
	if s.management, err = thwack.New(mgmtCfg); err != nil {
		return err
	}

	s.management.RegisterCommand(cmdShutdown, func(c *thwack.Conn, _ string) error {
		c.Log().Noticef("Shutdown requested via the management interface.")
		if err := c.WriteReply(thwack.StatusOk); err != nil {
			return err
		}
		// Halting waits for this connection to close.
		go s.Shutdown()
		return nil
	})
	s.management.RegisterCommand(cmdFingerprint, func(c *thwack.Conn, _ string) error {
		return c.WriteReplyMessage(thwack.StatusOk, wire.Fingerprint(s.PublicKey()))
	})
	s.management.RegisterCommand(cmdConnections, func(c *thwack.Conn, _ string) error {
		n := 0
		for _, l := range s.listeners {
			n += l.numConns()
		}
		return c.WriteReplyMessage(thwack.StatusOk, strconv.Itoa(n))
	})
	s.management.RegisterCommand(cmdRotateLog, func(c *thwack.Conn, _ string) error {
		if err := s.logBackend.Rotate(); err != nil {
			c.Log().Errorf("Failed to rotate log: %v", err)
			return c.WriteReply(thwack.StatusTransactionFailed)
		}
		return c.WriteReply(thwack.StatusOk)
	})
	return nil
}
