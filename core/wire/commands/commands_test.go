// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package commands

import (
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestRequest(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	b, err := NewPut("hello", []byte("world")).Marshal()
	require.NoError(err)
	req, err := RequestFromBytes(b)
	require.NoError(err)
	require.Nil(req.Get)
	require.Equal("hello", req.Put.Key)
	require.Equal([]byte("world"), req.Put.Value)
	require.Equal("hello", req.Key())

	b, err = NewGet("hello").Marshal()
	require.NoError(err)
	req, err = RequestFromBytes(b)
	require.NoError(err)
	require.Nil(req.Put)
	require.Equal("hello", req.Get.Key)
}

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		req  *Request
	}{
		{"empty", &Request{}},
		{"both", &Request{Get: &Get{Key: "a"}, Put: &Put{Key: "a"}}},
		{"empty key", NewGet("")},
		{"long key", NewPut(strings.Repeat("k", MaxKeyLength+1), nil)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, tc.req.Validate())

			b, err := cbor.Marshal(tc.req)
			require.NoError(t, err)
			_, err = RequestFromBytes(b)
			require.Error(t, err)
		})
	}

	require.NoError(t, NewPut(strings.Repeat("k", MaxKeyLength), nil).Validate())
}

func TestRequestMalformed(t *testing.T) {
	t.Parallel()

	_, err := RequestFromBytes([]byte("definitely not cbor"))
	require.Error(t, err)
	_, err = RequestFromBytes(nil)
	require.Error(t, err)
}

func TestResponse(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	b, err := NotFound("missing").Marshal()
	require.NoError(err)
	resp, err := ResponseFromBytes(b)
	require.NoError(err)
	require.Equal(StatusNotFound, resp.Code)
	require.Equal("missing", resp.Key)
	require.Empty(resp.Value)
	require.False(resp.IsOK())

	resp = NewResponse("k", []byte("v"))
	require.True(resp.IsOK())
	require.Contains(resp.String(), `Key: "k"`)
	require.Equal(StatusBadRequest, BadRequest().Code)
	require.Equal(StatusInternalError, InternalError("k").Code)
}
