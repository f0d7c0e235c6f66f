// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !noprometheus
// +build !noprometheus

// Package instrument exposes the server's prometheus metrics.
package instrument

import (
	"errors"
	"io"
	goLog "log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"
)

var (
	incomingConns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "noisekv_incoming_total_connections",
			Help: "Number of accepted connections",
		},
	)
	activeConns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "noisekv_active_connections",
			Help: "Number of currently open connections",
		},
	)
	handshakeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noisekv_handshake_total_failures",
			Help: "Number of failed handshakes",
		},
		[]string{"state"},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noisekv_total_requests",
			Help: "Number of requests by command and response code",
		},
		[]string{"command", "code"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "noisekv_request_duration_seconds",
			Help:    "Time taken to service a request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	initOnce sync.Once
)

// Init registers the metrics with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(incomingConns)
		prometheus.MustRegister(activeConns)
		prometheus.MustRegister(handshakeFailures)
		prometheus.MustRegister(requests)
		prometheus.MustRegister(requestDuration)
	})
}

type metricsServer struct {
	srv  *http.Server
	addr net.Addr
	wg   sync.WaitGroup
}

func (s *metricsServer) Close() error {
	err := s.srv.Close()
	s.wg.Wait()
	return err
}

// StartPrometheusListener serves /metrics on addr until the returned
// io.Closer is closed.
func StartPrometheusListener(addr string, log *logging.Logger, errLog *goLog.Logger) (io.Closer, error) {
	Init()

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &metricsServer{
		addr: l.Addr(),
		srv: &http.Server{
			Handler:           mux,
			ErrorLog:          errLog,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Noticef("Serving metrics on: %v", l.Addr())
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics listener failed: %v", err)
		}
	}()
	return s, nil
}

// Incoming increments the counter for accepted connections.
func Incoming() {
	incomingConns.Inc()
	activeConns.Inc()
}

// Closed decrements the open connection gauge.
func Closed() {
	activeConns.Dec()
}

// HandshakeFailed increments the handshake failure counter for the state
// the handshake failed in.
func HandshakeFailed(state string) {
	handshakeFailures.With(prometheus.Labels{"state": state}).Inc()
}

// Request records a serviced request.
func Request(command string, code uint32, elapsed time.Duration) {
	requests.With(prometheus.Labels{
		"command": command,
		"code":    strconv.FormatUint(uint64(code), 10),
	}).Inc()
	requestDuration.With(prometheus.Labels{"command": command}).Observe(elapsed.Seconds())
}
