// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package memstore implements a volatile in-memory Store.
package memstore

import (
	"bytes"
	"sync"

	"github.com/katzenpost/noisekv/server/internal/store"
)

type memStore struct {
	sync.RWMutex

	m map[string][]byte
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	v, ok := s.m[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (s *memStore) Put(key string, value []byte) error {
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}

	s.Lock()
	defer s.Unlock()
	s.m[key] = v
	return nil
}

func (s *memStore) Close() error {
	s.Lock()
	defer s.Unlock()
	clear(s.m)
	return nil
}

// New creates an empty in-memory store.
func New() store.Store {
	return &memStore{
		m: make(map[string][]byte),
	}
}
