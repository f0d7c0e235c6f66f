// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the configuration for the noisekv client.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/noisekv/core/wire"
)

const (
	defaultLogLevel         = "NOTICE"
	defaultDialTimeout      = 30 * 1000 // 30 sec.
	defaultHandshakeTimeout = 30 * 1000 // 30 sec.
	defaultRequestTimeout   = 30 * 1000 // 30 sec.
	fingerprintLength       = 32
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the remote server the client connects to.
type Server struct {
	// Address is the server address as a URL with one of the schemes
	// tcp, tcp4, tcp6 or quic.
	Address string

	// Protocol is the Noise protocol name, and must match the server's.
	Protocol string

	// Fingerprint is the hex encoded fingerprint of the server's static
	// key.  The server is not authenticated if empty.
	Fingerprint string
}

func (sCfg *Server) validate() error {
	u, err := url.Parse(sCfg.Address)
	if err != nil {
		return fmt.Errorf("config: Server: Address '%v' is invalid: %v", sCfg.Address, err)
	}
	switch u.Scheme {
	case "tcp", "tcp4", "tcp6", "quic":
	default:
		return fmt.Errorf("config: Server: Address '%v' has unsupported scheme '%v'", sCfg.Address, u.Scheme)
	}
	if u.Port() == "" {
		return fmt.Errorf("config: Server: Address '%v' is invalid: Must contain Port", sCfg.Address)
	}

	if sCfg.Protocol == "" {
		sCfg.Protocol = wire.DefaultProtocol
	}
	if err := wire.ValidateProtocol(sCfg.Protocol); err != nil {
		return fmt.Errorf("config: Server: %v", err)
	}

	if sCfg.Fingerprint != "" {
		sCfg.Fingerprint = strings.ToLower(sCfg.Fingerprint)
		b, err := hex.DecodeString(sCfg.Fingerprint)
		if err != nil || len(b) != fingerprintLength {
			return fmt.Errorf("config: Server: Fingerprint '%v' is invalid", sCfg.Fingerprint)
		}
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
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

// Debug is the debug configuration.  All timeouts are in milliseconds.
type Debug struct {
	// DialTimeout bounds connection establishment.
	DialTimeout int

	// HandshakeTimeout bounds the wire protocol handshake.
	HandshakeTimeout int

	// RequestTimeout bounds a single request/response round trip, in
	// addition to the caller's context.
	RequestTimeout int
}

func (d *Debug) fixup() {
	if d.DialTimeout <= 0 {
		d.DialTimeout = defaultDialTimeout
	}
	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = defaultHandshakeTimeout
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = defaultRequestTimeout
	}
}

// Config is the top level client configuration.
type Config struct {
	Server  *Server
	Logging *Logging
	Debug   *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (c *Config) FixupAndValidate() error {
	if c.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if c.Logging == nil {
		logging := defaultLogging
		c.Logging = &logging
	}
	if c.Debug == nil {
		c.Debug = &Debug{}
	}

	if err := c.Server.validate(); err != nil {
		return err
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	c.Debug.fixup()
	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
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
