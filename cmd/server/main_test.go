// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateOnlyAndFingerprint(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	f := filepath.Join(dir, "server.toml")
	require.NoError(os.WriteFile(f, []byte(fmt.Sprintf(`[Server]
Identifier = "kv.test"
DataDir = %q
[Logging]
Disable = true
`, filepath.Join(dir, "data"))), 0600))

	require.NoError(runServer(Config{ConfigFile: f, GenOnly: true}))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"fingerprint", "-f", f})
	require.NoError(cmd.Execute())
	require.Len(bytes.TrimSpace(out.Bytes()), 64)
}
