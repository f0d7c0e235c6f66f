// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package memstore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/noisekv/server/internal/store"
)

func TestMemStore(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	s := New()
	defer s.Close()

	_, err := s.Get("hello")
	require.ErrorIs(err, store.ErrNotFound)

	v := []byte("world")
	require.NoError(s.Put("hello", v))
	v[0] = 'W'

	got, err := s.Get("hello")
	require.NoError(err)
	require.Equal([]byte("world"), got, "stored value must not alias the caller's slice")
	got[0] = 'X'
	got, err = s.Get("hello")
	require.NoError(err)
	require.Equal([]byte("world"), got, "returned value must not alias the stored one")

	require.NoError(s.Put("hello", nil))
	got, err = s.Get("hello")
	require.NoError(err)
	require.NotNil(got)
	require.Empty(got)
}

func TestMemStoreConcurrent(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	s := New()
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			for j := 0; j < 100; j++ {
				assert.NoError(s.Put(key, []byte{byte(j)}))
				v, err := s.Get(key)
				assert.NoError(err)
				assert.Equal([]byte{byte(j)}, v)
			}
		}()
	}
	wg.Wait()
}
