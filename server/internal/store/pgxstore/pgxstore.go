// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package pgxstore implements a Store backed by PostgreSQL via pgx.
package pgxstore

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/noisekv/server/internal/store"
)

const (
	pgxTagGet = "kv_get"
	pgxTagPut = "kv_put"

	schemaVersion = 0

	// The pgx connection pool requires at least 2 conns.
	minConns = 2
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS kv_metadata (schema_version smallint NOT NULL);`,
	`CREATE TABLE IF NOT EXISTS kv (key text PRIMARY KEY, value bytea NOT NULL);`,
}

type pgxStore struct {
	log  *logging.Logger
	pool *pgx.ConnPool
}

func (p *pgxStore) Get(key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(pgxTagGet, key).Scan(&value)
	switch {
	case err == pgx.ErrNoRows:
		return nil, store.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("store/pgx: kv_get failed: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (p *pgxStore) Put(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := p.pool.Exec(pgxTagPut, key, value); err != nil {
		return fmt.Errorf("store/pgx: kv_put failed: %w", err)
	}
	return nil
}

func (p *pgxStore) Close() error {
	p.pool.Close()
	return nil
}

// Log implements the pgx.Logger interface.
func (p *pgxStore) Log(level pgx.LogLevel, msg string, data map[string]interface{}) {
	if level == pgx.LogLevelNone {
		return
	}

	argVec := make([]interface{}, 0, 1+len(data))
	argVec = append(argVec, msg+" ")
	for k, v := range data {
		argVec = append(argVec, fmt.Sprintf("%s=%v ", k, v))
	}
	mStr := strings.TrimSpace(fmt.Sprint(argVec...))

	switch level {
	case pgx.LogLevelTrace, pgx.LogLevelDebug:
		p.log.Debug(mStr)
	case pgx.LogLevelInfo:
		p.log.Info(mStr)
	case pgx.LogLevelWarn:
		p.log.Warning(mStr)
	case pgx.LogLevelError:
		p.log.Error(mStr)
	}
}

func (p *pgxStore) initSchema() error {
	for _, q := range schema {
		if _, err := p.pool.Exec(q); err != nil {
			return fmt.Errorf("store/pgx: failed to create schema: %w", err)
		}
	}

	var version int
	err := p.pool.QueryRow("SELECT schema_version FROM kv_metadata LIMIT 1;").Scan(&version)
	switch {
	case err == pgx.ErrNoRows:
		p.log.Noticef("Initializing new database, schema version %d.", schemaVersion)
		_, err = p.pool.Exec("INSERT INTO kv_metadata (schema_version) VALUES ($1);", schemaVersion)
		return err
	case err != nil:
		return fmt.Errorf("store/pgx: failed to query metadata: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("store/pgx: invalid schema version: %v", version)
	}
	return nil
}

func (p *pgxStore) initStatements() error {
	stmts := []struct {
		tag, query string
	}{
		{pgxTagGet, "SELECT value FROM kv WHERE key = $1;"},
		{pgxTagPut, "INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value;"},
	}

	for _, v := range stmts {
		if _, err := p.pool.Prepare(v.tag, v.query); err != nil {
			p.log.Errorf("Failed to prepare statement %v -> %v: %v", v.tag, v.query, err)
			return err
		}
	}
	return nil
}

// New connects to the database named by dataSourceName, creating the schema
// if needed.  logLevel is the server's configured log level.
func New(dataSourceName string, maxConns int, log *logging.Logger, logLevel string) (store.Store, error) {
	if maxConns < minConns {
		maxConns = minConns
	}

	p := &pgxStore{log: log}

	connCfg, err := pgx.ParseConnectionString(dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("store/pgx: invalid data source name: %w", err)
	}
	connCfg.Logger = p
	connCfg.LogLevel = toPgxLogLevel(logLevel)

	if p.pool, err = pgx.NewConnPool(pgx.ConnPoolConfig{
		ConnConfig:     connCfg,
		MaxConnections: maxConns,
	}); err != nil {
		return nil, err
	}

	isOk := false
	defer func() {
		if !isOk {
			p.pool.Close()
		}
	}()
	if err = p.initSchema(); err != nil {
		return nil, err
	}
	if err = p.initStatements(); err != nil {
		return nil, err
	}

	isOk = true
	return p, nil
}

func toPgxLogLevel(cfgLevel string) pgx.LogLevel {
	switch strings.ToUpper(cfgLevel) {
	case "ERROR":
		return pgx.LogLevelError
	case "DEBUG":
		return pgx.LogLevelDebug
	default:
		// Info level logs query arguments, which are user keys.
		return pgx.LogLevelWarn
	}
}
