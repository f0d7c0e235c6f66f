// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"container/list"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/noisekv/core/worker"
	"github.com/katzenpost/noisekv/quic/common"
)

const keepAliveInterval = 3 * time.Minute

type listener struct {
	sync.Mutex
	worker.Worker

	s   *Server
	log *logging.Logger

	l     net.Listener
	conns *list.List

	closeAllCh chan interface{}
	closeAllWg sync.WaitGroup
}

func (l *listener) Halt() {
	// Close the listener, wait for worker() to return.
	l.l.Close()
	l.Worker.Halt()

	// Close all connections belonging to the listener.
	close(l.closeAllCh)
	l.closeAllWg.Wait()
}

func (l *listener) worker() {
	addr := l.l.Addr()
	l.log.Noticef("Listening on: %v", addr)
	defer func() {
		l.log.Noticef("Stopping listening on: %v", addr)
		l.l.Close() // Usually redundant, but harmless.
	}()
	for {
		conn, err := l.l.Accept()
		if err != nil {
			select {
			case <-l.HaltCh():
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, quic.ErrServerClosed) {
				return
			}
			l.log.Errorf("Accept failure: %v", err)
			return
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(keepAliveInterval)
		}

		l.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())

		l.onNewConn(conn)
	}

	// NOTREACHED
}

func (l *listener) onNewConn(conn net.Conn) {
	c := newIncomingConn(l, conn)

	l.closeAllWg.Add(1)
	l.Lock()
	defer func() {
		l.Unlock()
		go c.worker()
	}()
	c.e = l.conns.PushFront(c)
}

func (l *listener) onClosedConn(c *incomingConn) {
	l.Lock()
	defer func() {
		l.Unlock()
		l.closeAllWg.Done()
	}()
	l.conns.Remove(c.e)
}

// numConns returns the number of connections currently owned by the
// listener.
func (l *listener) numConns() int {
	l.Lock()
	defer l.Unlock()
	return l.conns.Len()
}

func newListener(s *Server, id int, addr string) (*listener, error) {
	l := &listener{
		s:          s,
		log:        s.logBackend.GetLogger(fmt.Sprintf("listener:%d", id)),
		conns:      list.New(),
		closeAllCh: make(chan interface{}),
	}

	// Parse the Address line as a URL.
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		if l.l, err = net.Listen(u.Scheme, u.Host); err != nil {
			l.log.Errorf("Failed to start listener '%v': %v", addr, err)
			return nil, err
		}
	case "quic":
		// A single QUIC stream per connection, presented as a net.Conn.
		if l.l, err = common.Listen(u.Host); err != nil {
			l.log.Errorf("Failed to start listener '%v': %v", addr, err)
			return nil, err
		}
	default:
		return nil, fmt.Errorf("server: unsupported listener scheme '%v'", addr)
	}

	l.Go(l.worker)
	return l, nil
}
