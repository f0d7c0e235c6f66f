// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package common

import (
	"strings"
	"testing"

	"github.com/katzenpost/hpqc/nike/pem"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"
)

func TestTruncatePEMForLogging(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	scheme := x25519.Scheme(rand.Reader)
	pub, _, err := scheme.GenerateKeyPair()
	require.NoError(err)

	fullPEM := pem.ToPublicPEMString(pub, scheme)
	truncated := TruncatePEMForLogging(fullPEM)

	lines := strings.Split(strings.TrimSpace(truncated), "\n")
	require.Len(lines, 3)
	require.Equal("...", lines[2])
	require.Less(len(truncated), len(fullPEM))

	shortPEM := "-----BEGIN TEST-----\n-----END TEST-----"
	require.Equal(shortPEM, TruncatePEMForLogging(shortPEM))
}
