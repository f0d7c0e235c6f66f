// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigLoad(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cfg := &Config{Address: "tcp://127.0.0.1:8888"}
	c, err := cfg.load()
	require.NoError(err)
	require.Equal("tcp://127.0.0.1:8888", c.Server.Address)
	require.True(c.Logging.Disable)

	f := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(os.WriteFile(f, []byte(`[Server]
Address = "quic://127.0.0.1:8889"
`), 0600))
	fp := strings.Repeat("ab", 32)
	cfg = &Config{ConfigFile: f, Fingerprint: fp}
	c, err = cfg.load()
	require.NoError(err)
	require.Equal("quic://127.0.0.1:8889", c.Server.Address)
	require.Equal(fp, c.Server.Fingerprint)

	cfg = &Config{ConfigFile: f + ".missing"}
	_, err = cfg.load()
	require.ErrorContains(err, "failed to load config file")

	cfg = &Config{Address: "udp://127.0.0.1:1"}
	_, err = cfg.load()
	require.Error(err)
}

func TestRootCommand(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := newRootCommand()
	put, _, err := cmd.Find([]string{"put"})
	require.NoError(err)
	require.Equal("put", put.Name())
	require.Error(put.Args(put, []string{"only-key"}))
}
