// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package thwack

import (
	"net/textproto"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/noisekv/core/log"
)

func TestThwack(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(err)

	s, err := New(&Config{
		Net:         "unix",
		Addr:        filepath.Join(t.TempDir(), "management_sock"),
		ServiceName: "test",
		LogModule:   "mgmt",
		NewLoggerFn: logBackend.GetLogger,
	})
	require.NoError(err)
	require.Nil(s.Addr())

	var gotArgs string
	s.RegisterCommand("echo", func(c *Conn, args string) error {
		gotArgs = args
		return c.WriteReplyMessage(StatusOk, args)
	})
	require.NoError(s.Start())
	defer s.Halt()

	c, err := textproto.Dial("unix", s.Addr().String())
	require.NoError(err)
	defer c.Close()

	_, msg, err := c.ReadCodeLine(int(StatusServiceReady))
	require.NoError(err)
	require.Equal("test Service ready", msg)

	require.NoError(c.PrintfLine("ECHO hello world"))
	_, msg, err = c.ReadCodeLine(int(StatusOk))
	require.NoError(err)
	require.Equal("hello world", msg)
	require.Equal("hello world", gotArgs)

	require.NoError(c.PrintfLine("bogus"))
	_, _, err = c.ReadCodeLine(int(StatusOk))
	require.Error(err)

	require.NoError(c.PrintfLine("quit"))
	_, _, err = c.ReadCodeLine(int(StatusOk))
	require.NoError(err)
	_, err = c.ReadLine()
	require.Error(err, "QUIT closes the connection")
}

func TestThwackHalt(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(err)

	s, err := New(&Config{
		Net:         "tcp",
		Addr:        "127.0.0.1:0",
		LogModule:   "mgmt",
		NewLoggerFn: logBackend.GetLogger,
	})
	require.NoError(err)
	require.NoError(s.Start())

	c, err := textproto.Dial("tcp", s.Addr().String())
	require.NoError(err)
	defer c.Close()
	_, _, err = c.ReadCodeLine(int(StatusServiceReady))
	require.NoError(err)

	s.Halt()
	_, err = c.ReadLine()
	require.Error(err)

	_, err = New(&Config{})
	require.Error(err)
}
