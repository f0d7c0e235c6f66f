// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !noprometheus
// +build !noprometheus

package instrument

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/noisekv/core/log"
)

func TestInstrument(t *testing.T) {
	require := require.New(t)

	Init()
	Init()

	before := testutil.ToFloat64(incomingConns)
	Incoming()
	require.Equal(before+1, testutil.ToFloat64(incomingConns))
	Closed()

	Request("put", 0, time.Millisecond)
	Request("put", 0, time.Millisecond)
	require.Equal(float64(2), testutil.ToFloat64(requests.WithLabelValues("put", "0")))

	HandshakeFailed("message_2_receive")
	require.Equal(float64(1), testutil.ToFloat64(handshakeFailures.WithLabelValues("message_2_receive")))
}

func TestPrometheusListener(t *testing.T) {
	require := require.New(t)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(err)
	l := logBackend.GetLogger("instrument_test")

	c, err := StartPrometheusListener("127.0.0.1:0", l, logBackend.GetGoLogger("metrics", "ERROR"))
	require.NoError(err)
	s := c.(*metricsServer)

	resp, err := http.Get("http://" + s.addr.String() + "/metrics")
	require.NoError(err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Contains(string(body), "noisekv_incoming_total_connections")

	require.NoError(s.Close())

	_, err = StartPrometheusListener("256.0.0.1:1", l, nil)
	require.Error(err)
}
