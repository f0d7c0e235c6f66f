// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorker(t *testing.T) {
	t.Parallel()

	var w Worker
	var stopped atomic.Int32
	for i := 0; i < 4; i++ {
		w.Go(func() {
			<-w.HaltCh()
			stopped.Add(1)
		})
	}

	ctx, cancel := w.HaltContext(context.Background())
	defer cancel()

	w.Halt()
	require.Equal(t, int32(4), stopped.Load())
	<-ctx.Done()
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	// Halting twice is harmless.
	w.Halt()
}
