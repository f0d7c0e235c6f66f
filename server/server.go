// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package server provides the noisekv server.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/katzenpost/nyquist/dh"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/noisekv/core/log"
	"github.com/katzenpost/noisekv/core/wire"
	"github.com/katzenpost/noisekv/server/config"
	"github.com/katzenpost/noisekv/server/internal/instrument"
	"github.com/katzenpost/noisekv/server/internal/profiling"
	"github.com/katzenpost/noisekv/server/internal/store"
	"github.com/katzenpost/noisekv/server/internal/store/boltstore"
	"github.com/katzenpost/noisekv/server/internal/store/memstore"
	"github.com/katzenpost/noisekv/server/internal/store/pgxstore"
	"github.com/katzenpost/noisekv/thwack"
)

// ErrGenerateOnly is the error returned when the server initialization
// terminates due to the `GenerateOnly` debug config option.
var ErrGenerateOnly = errors.New("server: GenerateOnly set")

// Server is a noisekv server instance.
type Server struct {
	cfg *config.Config

	staticKey dh.Keypair

	logBackend *log.Backend
	log        *logging.Logger

	store      store.Store
	metrics    io.Closer
	listeners  []*listener
	management *thwack.Server

	fatalErrCh chan error
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

func (s *Server) initDataDir() error {
	const dirMode = os.ModeDir | 0700
	d := s.cfg.Server.DataDir

	// Initialize the data directory, by ensuring that it exists (or can be
	// created), and that it has the appropriate permissions.
	if fi, err := os.Lstat(d); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("server: failed to stat() DataDir: %v", err)
		}
		if err = os.Mkdir(d, dirMode); err != nil {
			return fmt.Errorf("server: failed to create DataDir: %v", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("server: DataDir '%v' is not a directory", d)
		}
		if fi.Mode() != dirMode {
			return fmt.Errorf("server: DataDir '%v' has invalid permissions '%v'", d, fi.Mode())
		}
	}

	return nil
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && s.cfg.Logging.File != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.cfg.Server.DataDir, p)
		}
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("server")
	}
	return err
}

func (s *Server) initStore() error {
	var err error
	switch s.cfg.Store.Backend {
	case config.BackendMemory:
		s.log.Warning("Using the in-memory store, nothing will survive a restart.")
		s.store = memstore.New()
	case config.BackendBolt:
		s.store, err = boltstore.New(s.cfg.Store.File)
	case config.BackendPgx:
		s.store, err = pgxstore.New(s.cfg.Store.DataSourceName, s.cfg.Store.MaxConnections, s.logBackend.GetLogger("store"), s.cfg.Logging.Level)
	default:
		err = fmt.Errorf("server: unknown store backend '%v'", s.cfg.Store.Backend)
	}
	if err == nil {
		s.log.Noticef("Store backend: %v", s.cfg.Store.Backend)
	}
	return err
}

// PublicKey returns the running server's static Noise public key.
func (s *Server) PublicKey() dh.PublicKey {
	return s.staticKey.Public()
}

// Addresses returns the addresses the server's listeners are bound to.
func (s *Server) Addresses() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		if l != nil {
			addrs = append(addrs, l.l.Addr())
		}
	}
	return addrs
}

// RotateLog rotates the log file if logging to a file is enabled.
func (s *Server) RotateLog() {
	if err := s.logBackend.Rotate(); err != nil {
		s.fatalErrCh <- fmt.Errorf("failed to rotate log file, shutting down server")
	}
	s.log.Notice("Log rotated.")
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

func (s *Server) halt() {
	s.log.Noticef("Starting graceful shutdown.")

	// Stop the management interface.
	if s.management != nil {
		s.management.Halt()
		s.management = nil
	}

	// Stop the listener(s), close all incoming connections.
	for i, l := range s.listeners {
		if l != nil {
			l.Halt() // Closes all connections.
			s.listeners[i] = nil
		}
	}

	if s.metrics != nil {
		s.metrics.Close()
		s.metrics = nil
	}

	// The store goes last, connection workers use it till they exit.
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Errorf("Failed to close store: %v", err)
		}
		s.store = nil
	}

	s.staticKey.DropPrivate()
	close(s.fatalErrCh)

	s.log.Noticef("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specified
// configuration.
func New(cfg *config.Config) (*Server, error) {
	s := new(Server)
	s.cfg = cfg
	s.fatalErrCh = make(chan error)
	s.haltedCh = make(chan interface{})

	// Do the early initialization and bring up logging.
	if err := s.initDataDir(); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}

	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Debug logging is enabled.")
	}
	s.log.Noticef("Server identifier is: '%v'", s.cfg.Server.Identifier)
	s.log.Noticef("Noise protocol: %v", s.cfg.Server.Protocol)

	if err := s.initStaticKey(); err != nil {
		s.log.Errorf("Failed to initialize static key: %v", err)
		return nil, err
	}
	s.log.Noticef("Server static key fingerprint is: %s", wire.Fingerprint(s.staticKey.Public()))

	if s.cfg.Debug.GenerateOnly {
		return nil, ErrGenerateOnly
	}

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		// Something failed in bringing the server up, past the point where
		// files are open etc, clean up the partially constructed instance.
		if !isOk {
			s.Shutdown()
		}
	}()

	// Start the fatal error watcher.
	go func() {
		err, ok := <-s.fatalErrCh
		if !ok {
			// Graceful termination.
			return
		}
		s.log.Warningf("Shutting down due to error: %v", err)
		s.Shutdown()
	}()

	if err := profiling.Start(s.logBackend.GetLogger("profiling"), s.cfg.Server.Identifier); err != nil {
		s.log.Errorf("Failed to start profiling: %v", err)
		return nil, err
	}

	if err := s.initStore(); err != nil {
		s.log.Errorf("Failed to initialize store: %v", err)
		return nil, err
	}

	if s.cfg.Server.MetricsAddress != "" {
		var err error
		s.metrics, err = instrument.StartPrometheusListener(
			s.cfg.Server.MetricsAddress,
			s.logBackend.GetLogger("metrics"),
			s.logBackend.GetGoLogger("metrics", "ERROR"),
		)
		if err != nil {
			s.log.Errorf("Failed to start metrics listener: %v", err)
			return nil, err
		}
	}

	// Bring the listener(s) online.
	s.listeners = make([]*listener, 0, len(s.cfg.Server.Addresses))
	for i, addr := range s.cfg.Server.Addresses {
		l, err := newListener(s, i, addr)
		if err != nil {
			s.log.Errorf("Failed to spawn listener on address: %v (%v).", addr, err)
			return nil, err
		}
		s.listeners = append(s.listeners, l)
	}

	// The management interface goes last, its commands inspect the
	// listeners.
	if s.cfg.Management.Enable {
		if err := s.initManagement(); err != nil {
			s.log.Errorf("Failed to initialize management interface: %v", err)
			return nil, err
		}
		if err := s.management.Start(); err != nil {
			s.log.Errorf("Failed to start management interface: %v", err)
			return nil, err
		}
	}

	isOk = true
	return s, nil
}
