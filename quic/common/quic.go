// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package common adapts a single QUIC stream to net.Conn, so that the wire
// protocol can run over QUIC exactly as it does over TCP.
package common

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// streamAcceptTimeout bounds how long Accept waits for a new connection's
// first stream.  Streams are opened lazily, so this is also the time a
// client has to send its first handshake message.
const streamAcceptTimeout = 10 * time.Second

// QuicConn wraps a conn and a single stream and implements net.Conn.
type QuicConn struct {
	stream *quic.Stream
	conn   *quic.Conn
}

// NewQuicConn returns a QuicConn for the given connection and stream.
func NewQuicConn(conn *quic.Conn, stream *quic.Stream) *QuicConn {
	if conn == nil {
		panic("quic: nil connection")
	}
	if stream == nil {
		panic("quic: nil stream")
	}
	return &QuicConn{conn: conn, stream: stream}
}

// LocalAddr implements net.Conn.
func (q *QuicConn) LocalAddr() net.Addr {
	return q.conn.LocalAddr()
}

// RemoteAddr implements net.Conn.
func (q *QuicConn) RemoteAddr() net.Addr {
	return q.conn.RemoteAddr()
}

// SetDeadline implements net.Conn.
func (q *QuicConn) SetDeadline(t time.Time) error {
	return q.stream.SetDeadline(t)
}

// SetReadDeadline implements net.Conn.
func (q *QuicConn) SetReadDeadline(t time.Time) error {
	return q.stream.SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn.
func (q *QuicConn) SetWriteDeadline(t time.Time) error {
	return q.stream.SetWriteDeadline(t)
}

// Close implements net.Conn.  The stream and the connection carrying it are
// both closed.
func (q *QuicConn) Close() error {
	q.stream.CancelRead(0)
	err := q.stream.Close()
	q.conn.CloseWithError(0, "")
	return err
}

// Read implements net.Conn.
func (q *QuicConn) Read(b []byte) (int, error) {
	return q.stream.Read(b)
}

// Write implements net.Conn.
func (q *QuicConn) Write(b []byte) (int, error) {
	return q.stream.Write(b)
}

// QuicListener implements net.Listener.
type QuicListener struct {
	Listener *quic.Listener
}

// Listen starts a QUIC listener on addr with a throwaway TLS certificate.
func Listen(addr string) (*QuicListener, error) {
	l, err := quic.ListenAddr(addr, GenerateTLSConfig(), nil)
	if err != nil {
		return nil, err
	}
	return &QuicListener{Listener: l}, nil
}

// Accept implements net.Listener.  It waits for the peer's first stream and
// returns a QuicConn for it.
func (l *QuicListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept(context.Background())
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(conn.Context(), streamAcceptTimeout)
		stream, err := conn.AcceptStream(ctx)
		cancel()
		if err != nil {
			// One silent peer must not take the listener down.
			conn.CloseWithError(0, "")
			continue
		}
		return NewQuicConn(conn, stream), nil
	}
}

// Addr implements net.Listener.
func (l *QuicListener) Addr() net.Addr {
	return l.Listener.Addr()
}

// Close implements net.Listener.
func (l *QuicListener) Close() error {
	return l.Listener.Close()
}

// DialQuic connects to addr and opens a single stream.  The server's
// certificate is not verified; the wire protocol handshake authenticates
// the peer.
func DialQuic(ctx context.Context, addr string) (*QuicConn, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{http3.NextProtoH3},
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, err
	}
	return NewQuicConn(conn, stream), nil
}

// GenerateTLSConfig returns a bare-bones TLS config for the server.
func GenerateTLSConfig() *tls.Config {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, pubKey, privKey)
	if err != nil {
		panic(err)
	}
	pkb, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		panic(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkb})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		panic(err)
	}
	// ALPN is visible on the wire, so use a common protocol rather than a
	// distinctive one.
	return &tls.Config{Certificates: []tls.Certificate{tlsCert}, NextProtos: []string{http3.NextProtoH3}}
}
