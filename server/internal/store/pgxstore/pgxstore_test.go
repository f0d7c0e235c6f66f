// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package pgxstore

import (
	"bytes"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx"
	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/noisekv/server/internal/store"
)

// dsnEnv names a scratch PostgreSQL database for the integration test.
const dsnEnv = "NOISEKV_PGX_DSN"

func testLogger(w *bytes.Buffer) *logging.Logger {
	l := logging.MustGetLogger("store:test")
	backend := logging.AddModuleLevel(logging.NewBackendFormatter(
		logging.NewLogBackend(w, "", 0),
		logging.MustStringFormatter("%{level:.4s} %{message}"),
	))
	backend.SetLevel(logging.DEBUG, "")
	l.SetBackend(backend)
	return l
}

func TestToPgxLogLevel(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	require.Equal(pgx.LogLevel(pgx.LogLevelError), toPgxLogLevel("ERROR"))
	require.Equal(pgx.LogLevel(pgx.LogLevelDebug), toPgxLogLevel("debug"))
	require.Equal(pgx.LogLevel(pgx.LogLevelWarn), toPgxLogLevel("NOTICE"))
	require.Equal(pgx.LogLevel(pgx.LogLevelWarn), toPgxLogLevel("INFO"))
}

func TestPgxLogAdapter(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var buf bytes.Buffer
	p := &pgxStore{log: testLogger(&buf)}
	p.Log(pgx.LogLevelWarn, "slow query", map[string]interface{}{"time": "3s"})
	p.Log(pgx.LogLevelNone, "never", nil)

	require.Contains(buf.String(), "WARN slow query time=3s")
	require.NotContains(buf.String(), "never")
}

func TestPgxStore(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	require := require.New(t)

	var buf bytes.Buffer
	s, err := New(dsn, 4, testLogger(&buf), "NOTICE")
	require.NoError(err)
	defer s.Close()

	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	_, err = s.Get(key)
	require.ErrorIs(err, store.ErrNotFound)

	require.NoError(s.Put(key, []byte("world")))
	v, err := s.Get(key)
	require.NoError(err)
	require.Equal([]byte("world"), v)

	require.NoError(s.Put(key, nil))
	v, err = s.Get(key)
	require.NoError(err)
	require.Empty(v)
}
