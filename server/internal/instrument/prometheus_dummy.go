// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build noprometheus
// +build noprometheus

// Package instrument exposes the server's prometheus metrics.
package instrument

import (
	"io"
	goLog "log"
	"time"

	"gopkg.in/op/go-logging.v1"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init does nothing
func Init() {}

// StartPrometheusListener does nothing
func StartPrometheusListener(addr string, log *logging.Logger, errLog *goLog.Logger) (io.Closer, error) {
	log.Warningf("Metrics are not compiled in, ignoring MetricsAddress '%v'", addr)
	return nopCloser{}, nil
}

// Incoming increments the counter for accepted connections
func Incoming() {}

// Closed decrements the open connection gauge
func Closed() {}

// HandshakeFailed increments the handshake failure counter
func HandshakeFailed(state string) {}

// Request records a serviced request
func Request(command string, code uint32, elapsed time.Duration) {}
