// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package thwack provides a trivial text based management protocol.
package thwack

import (
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync/atomic"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/noisekv/core/worker"
)

const cmdQuit = "QUIT"

// StatusCode is a thwack status code.
type StatusCode int

const (
	// StatusServiceReady is always sent on a new connection to signify that
	// the management interface is ready.
	StatusServiceReady StatusCode = 220

	// StatusOk signals successful completion of a command.
	StatusOk StatusCode = 250

	// StatusUnknownCommand is returned when a command is unknown.
	StatusUnknownCommand StatusCode = 500

	// StatusSyntaxError is returned when the syntax of a command or its
	// argument(s) is invalid.
	StatusSyntaxError StatusCode = 501

	// StatusTransactionFailed is returned when the command has failed.
	StatusTransactionFailed StatusCode = 554
)

var statusToString = map[StatusCode]string{
	StatusServiceReady:      "Service ready",
	StatusOk:                "Requested action ok, completed",
	StatusUnknownCommand:    "Syntax error, command unrecognised",
	StatusSyntaxError:       "Syntax error in parameters or arguments",
	StatusTransactionFailed: "Transaction failed",
}

// errQuit is returned by the QUIT handler to close the connection.
var errQuit = errors.New("thwack: peer requested disconnection")

// CommandHandlerFn is a command handler hook function.  Each handler is
// responsible for sending a response, and MUST NOT return an error unless
// the connection is to be closed immediately.
type CommandHandlerFn func(c *Conn, args string) error

// Config is a thwack Server configuration.
type Config struct {
	// Net and Addr specify the network and address of the server instance.
	Net, Addr string

	// ServiceName is the service name to be displayed in the greeting banner.
	ServiceName string

	// LogModule is the module for the Server's Logger.
	LogModule string

	// NewLoggerFn is the function to call to construct per-connection Loggers.
	NewLoggerFn func(string) *logging.Logger
}

// Server is a thwack server instance.
type Server struct {
	worker.Worker

	cfg      *Config
	l        net.Listener
	log      *logging.Logger
	handlers map[string]CommandHandlerFn

	connID uint64
}

// Start starts the Server's listener and starts accepting connections.
func (s *Server) Start() error {
	var err error
	if s.l, err = net.Listen(s.cfg.Net, s.cfg.Addr); err != nil {
		return err
	}
	s.log.Debugf("Listening on: %v", s.l.Addr())
	s.Go(s.acceptWorker)
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

func (s *Server) acceptWorker() {
	defer s.l.Close()
	for {
		conn, err := s.l.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Errorf("Accept failure: %v", err)
			}
			return
		}

		s.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())
		c := newConn(s, conn)
		s.Go(c.worker)
	}
}

// RegisterCommand sets the handler function for the specified command.
// This MUST NOT be called after the Server has been started with Start().
func (s *Server) RegisterCommand(cmd string, fn CommandHandlerFn) {
	s.handlers[strings.ToUpper(cmd)] = fn
}

func (s *Server) onCommand(c *Conn, l string) error {
	// Clean up the line, and split off the command.
	l = textproto.TrimString(l)
	cmd, args, _ := strings.Cut(l, " ")
	cmd = strings.ToUpper(cmd)

	c.Log().Debugf("Received command: %v", cmd)

	fn, ok := s.handlers[cmd]
	if !ok {
		c.Log().Debugf("Unknown command: %v", cmd)
		return c.WriteReply(StatusUnknownCommand)
	}
	return fn(c, strings.TrimSpace(args))
}

// Halt halts the Server, closing all connections.
func (s *Server) Halt() {
	if s.l != nil {
		s.l.Close()
	}
	s.Worker.Halt()
}

func cmdQuitImpl(c *Conn, args string) error {
	// Ignore the error writing the reply since we're disconnecting anyway.
	c.WriteReply(StatusOk)
	return errQuit
}

// New constructs a new Server, but does not start the listener.
func New(cfg *Config) (*Server, error) {
	if cfg.NewLoggerFn == nil {
		return nil, errors.New("thwack: no NewLoggerFn")
	}
	s := &Server{
		cfg:      cfg,
		log:      cfg.NewLoggerFn(cfg.LogModule),
		handlers: make(map[string]CommandHandlerFn),
	}
	s.RegisterCommand(cmdQuit, cmdQuitImpl)
	return s, nil
}

// Conn is a thwack connection instance.
type Conn struct {
	s   *Server
	c   *textproto.Conn
	log *logging.Logger

	id uint64
}

// Log returns the per-connection logging.Logger.
func (c *Conn) Log() *logging.Logger {
	return c.log
}

// WriteReply sends a StatusCode and its human readable reason to the peer.
func (c *Conn) WriteReply(status StatusCode) error {
	reason, ok := statusToString[status]
	if !ok {
		return fmt.Errorf("BUG: thwack: Unknown status code: %v", status)
	}
	return c.c.PrintfLine("%v %v", status, reason)
}

// WriteReplyMessage sends a StatusCode followed by msg to the peer.
func (c *Conn) WriteReplyMessage(status StatusCode, msg string) error {
	return c.c.PrintfLine("%v %v", status, msg)
}

func (c *Conn) worker() {
	closedCh := make(chan interface{})
	defer func() {
		c.log.Debugf("Closing")
		c.c.Close()
	}()

	// Send the banner.
	msg := statusToString[StatusServiceReady]
	if c.s.cfg.ServiceName != "" {
		msg = c.s.cfg.ServiceName + " " + msg
	}
	if err := c.c.PrintfLine("%v %v", StatusServiceReady, msg); err != nil {
		c.log.Debugf("Failed to send banner: %v", err)
		return
	}

	go func() {
		defer close(closedCh)
		for {
			l, err := c.c.ReadLine()
			if err != nil {
				c.log.Debugf("Failed to receive command: %v", err)
				return
			}

			c.log.Debugf("C->S: '%v'", l)
			if err = c.s.onCommand(c, l); err != nil {
				c.log.Debugf("Failed to process command: %v", err)
				return
			}
		}
	}()

	// Wait till Server teardown, or the command processing go routine
	// returns for whatever reason.
	select {
	case <-c.s.HaltCh():
		c.c.Close()
		<-closedCh
	case <-closedCh:
	}
}

func newConn(s *Server, conn net.Conn) *Conn {
	c := &Conn{
		s:  s,
		c:  textproto.NewConn(conn),
		id: atomic.AddUint64(&s.connID, 1),
	}
	c.log = s.cfg.NewLoggerFn(fmt.Sprintf("%s:%d", s.cfg.LogModule, c.id))
	return c
}
