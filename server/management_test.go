// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/noisekv/core/wire"
	"github.com/katzenpost/noisekv/server/config"
	"github.com/katzenpost/noisekv/thwack"
)

func TestManagement(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cfg := testServerConfig(t, filepath.Join(t.TempDir(), "data"), "tcp://127.0.0.1:0", config.BackendMemory)
	cfg.Management.Enable = true
	s, err := New(cfg)
	require.NoError(err)
	t.Cleanup(s.Shutdown)

	_ = dialServer(t, s, "tcp")

	c, err := textproto.Dial("unix", cfg.Management.Path)
	require.NoError(err)
	defer c.Close()
	_, _, err = c.ReadCodeLine(int(thwack.StatusServiceReady))
	require.NoError(err)

	require.NoError(c.PrintfLine(cmdFingerprint))
	_, msg, err := c.ReadCodeLine(int(thwack.StatusOk))
	require.NoError(err)
	require.Equal(wire.Fingerprint(s.PublicKey()), msg)

	require.NoError(c.PrintfLine(cmdConnections))
	_, msg, err = c.ReadCodeLine(int(thwack.StatusOk))
	require.NoError(err)
	require.Equal("1", msg)

	require.NoError(c.PrintfLine(cmdRotateLog))
	_, _, err = c.ReadCodeLine(int(thwack.StatusOk))
	require.NoError(err)

	require.NoError(c.PrintfLine(cmdShutdown))
	_, _, err = c.ReadCodeLine(int(thwack.StatusOk))
	require.NoError(err)

	doneCh := make(chan struct{})
	go func() {
		s.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
