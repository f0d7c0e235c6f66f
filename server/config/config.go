// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config provides the noisekv server configuration.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/katzenpost/nyquist"
	"github.com/katzenpost/nyquist/dh"
	"golang.org/x/net/idna"

	"github.com/katzenpost/noisekv/core/wire"
)

const (
	defaultAddress          = "tcp://0.0.0.0:8888"
	defaultLogLevel         = "NOTICE"
	defaultHandshakeTimeout = 30 * 1000     // 30 sec.
	defaultIdleTimeout      = 5 * 60 * 1000 // 5 min.
	defaultMaxConnections   = 5
	defaultBoltFile         = "kv.db"
	defaultManagementSocket = "management_sock"

	// BackendMemory is the volatile in-memory store.
	BackendMemory = "memory"

	// BackendBolt is the BoltDB based store.
	BackendBolt = "bolt"

	// BackendPgx is the PostgreSQL based store.
	BackendPgx = "pgx"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the noisekv server configuration.
type Server struct {
	// Identifier is the human readable identifier for the node (eg: FQDN).
	Identifier string

	// Addresses are the listener addresses, as URLs with one of the schemes
	// tcp, tcp4, tcp6 or quic.
	Addresses []string

	// MetricsAddress is the address/port to bind the prometheus metrics
	// endpoint to.  Metrics are disabled if empty.
	MetricsAddress string

	// DataDir is the absolute path to the server's state files.
	DataDir string

	// Protocol is the Noise protocol name.
	Protocol string
}

func (sCfg *Server) validate() error {
	if sCfg.Identifier == "" {
		return errors.New("config: Server: Identifier is not set")
	}

	if len(sCfg.Addresses) == 0 {
		sCfg.Addresses = []string{defaultAddress}
	}
	for _, v := range sCfg.Addresses {
		u, err := url.Parse(v)
		if err != nil {
			return fmt.Errorf("config: Server: Address '%v' is invalid: %v", v, err)
		}
		switch u.Scheme {
		case "tcp", "tcp4", "tcp6", "quic":
		default:
			return fmt.Errorf("config: Server: Address '%v' has unsupported scheme '%v'", v, u.Scheme)
		}
		if u.Port() == "" {
			return fmt.Errorf("config: Server: Address '%v' is invalid: Must contain Port", v)
		}
	}

	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	if sCfg.MetricsAddress != "" {
		if _, err := netip.ParseAddrPort(sCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Server: MetricsAddress '%v' is invalid: %v", sCfg.MetricsAddress, err)
		}
	}

	if sCfg.Protocol == "" {
		sCfg.Protocol = wire.DefaultProtocol
	}
	if err := wire.ValidateProtocol(sCfg.Protocol); err != nil {
		return fmt.Errorf("config: Server: %v", err)
	}
	// The static key is persisted as an X25519 key.
	if p, _ := nyquist.NewProtocol(sCfg.Protocol); p.DH != dh.X25519 {
		return fmt.Errorf("config: Server: Protocol '%v' must use the 25519 DH function", sCfg.Protocol)
	}
	return nil
}

// Store is the key/value storage configuration.
type Store struct {
	// Backend is one of memory (default), bolt or pgx.
	Backend string

	// File is the bolt database file, relative to DataDir unless absolute.
	File string

	// DataSourceName is the pgx connection string.
	DataSourceName string

	// MaxConnections is the pgx connection pool size.
	MaxConnections int
}

func (sCfg *Store) validate(dataDir string) error {
	sCfg.Backend = strings.ToLower(sCfg.Backend)
	switch sCfg.Backend {
	case "":
		sCfg.Backend = BackendMemory
	case BackendMemory:
	case BackendBolt:
		if sCfg.File == "" {
			sCfg.File = defaultBoltFile
		}
		if !filepath.IsAbs(sCfg.File) {
			sCfg.File = filepath.Join(dataDir, sCfg.File)
		}
	case BackendPgx:
		if sCfg.DataSourceName == "" {
			return errors.New("config: Store: DataSourceName is not set")
		}
		if sCfg.MaxConnections <= 0 {
			sCfg.MaxConnections = defaultMaxConnections
		}
	default:
		return fmt.Errorf("config: Store: Backend '%v' is invalid", sCfg.Backend)
	}
	return nil
}

// Debug is the noisekv server debug configuration.
type Debug struct {
	// HandshakeTimeout specifies the maximum time a connection can take for a
	// wire protocol handshake in milliseconds.
	HandshakeTimeout int

	// IdleTimeout is the maximum time in milliseconds a connection may go
	// without sending a request.
	IdleTimeout int

	// MaxConnections is the maximum number of concurrent connections per
	// listener, unlimited if <= 0.
	MaxConnections int

	// GenerateOnly halts and cleans up the server right after long term
	// key generation.
	GenerateOnly bool
}

func (dCfg *Debug) applyDefaults() {
	if dCfg.HandshakeTimeout <= 0 {
		dCfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if dCfg.IdleTimeout <= 0 {
		dCfg.IdleTimeout = defaultIdleTimeout
	}
}

// Management is the management interface configuration.
type Management struct {
	// Enable enables the management interface.
	Enable bool

	// Path specifies the path to the management interface socket.  If left
	// empty it will use `management_sock` under the DataDir.
	Path string
}

func (mCfg *Management) applyDefaults(sCfg *Server) {
	if mCfg.Path == "" {
		mCfg.Path = filepath.Join(sCfg.DataDir, defaultManagementSocket)
	}
}

func (mCfg *Management) validate() error {
	if !mCfg.Enable {
		return nil
	}
	if !filepath.IsAbs(mCfg.Path) {
		return fmt.Errorf("config: Management: Path '%v' is not an absolute path", mCfg.Path)
	}
	return nil
}

// Logging is the noisekv logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

// Validate checks and normalizes the logging configuration.
func (lCfg *Logging) Validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Config is the top level noisekv server configuration.
type Config struct {
	Server     *Server
	Logging    *Logging
	Management *Management
	Store      *Store
	Debug      *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	// The Server section is mandatory, everything else is optional.
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.Logging == nil {
		logging := defaultLogging
		cfg.Logging = &logging
	}
	if cfg.Management == nil {
		cfg.Management = &Management{}
	}
	if cfg.Store == nil {
		cfg.Store = &Store{}
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}

	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.Validate(); err != nil {
		return err
	}
	cfg.Management.applyDefaults(cfg.Server)
	if err := cfg.Management.validate(); err != nil {
		return err
	}
	if err := cfg.Store.validate(cfg.Server.DataDir); err != nil {
		return err
	}
	cfg.Debug.applyDefaults()

	var err error
	cfg.Server.Identifier, err = idna.Lookup.ToASCII(cfg.Server.Identifier)
	if err != nil {
		return fmt.Errorf("config: Failed to normalize Identifier: %v", err)
	}
	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
