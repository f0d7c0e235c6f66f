// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package commands implements the key/value protocol commands carried
// inside wire protocol messages.
package commands

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// StatusOK is the response code of a successful command.
	StatusOK uint32 = 0

	// StatusBadRequest is the response code of a request that could not be
	// parsed or validated.
	StatusBadRequest uint32 = 400

	// StatusNotFound is the response code of a Get for a missing key.
	StatusNotFound uint32 = 404

	// StatusInternalError is the response code of a request the server
	// failed to execute.
	StatusInternalError uint32 = 500

	// MaxKeyLength is the maximum length of a key in bytes.
	MaxKeyLength = 1024
)

var (
	errInvalidCommand = errors.New("commands: request must carry exactly one command")
	errEmptyKey       = errors.New("commands: empty key")
	errKeyTooLong     = errors.New("commands: key too long")

	decMode cbor.DecMode
	encMode cbor.EncMode
)

func init() {
	var err error
	if decMode, err = (cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 4,
	}).DecMode(); err != nil {
		panic(err)
	}
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
}

// Get requests the value stored under Key.
type Get struct {
	Key string `cbor:"key"`
}

// Put stores Value under Key.
type Put struct {
	Key   string `cbor:"key"`
	Value []byte `cbor:"value"`
}

// Request is a client to server command.  Exactly one of the fields is set.
type Request struct {
	Get *Get `cbor:"get,omitempty"`
	Put *Put `cbor:"put,omitempty"`
}

// NewGet returns a Get request for key.
func NewGet(key string) *Request {
	return &Request{Get: &Get{Key: key}}
}

// NewPut returns a Put request storing value under key.
func NewPut(key string, value []byte) *Request {
	return &Request{Put: &Put{Key: key, Value: value}}
}

// Key returns the key the request refers to.
func (r *Request) Key() string {
	switch {
	case r.Get != nil:
		return r.Get.Key
	case r.Put != nil:
		return r.Put.Key
	}
	return ""
}

// Validate checks that the request is well formed.
func (r *Request) Validate() error {
	if (r.Get == nil) == (r.Put == nil) {
		return errInvalidCommand
	}
	key := r.Key()
	switch {
	case key == "":
		return errEmptyKey
	case len(key) > MaxKeyLength:
		return errKeyTooLong
	}
	return nil
}

// Marshal serializes the Request.
func (r *Request) Marshal() ([]byte, error) {
	return encMode.Marshal(r)
}

// RequestFromBytes deserializes and validates a Request.
func RequestFromBytes(b []byte) (*Request, error) {
	r := new(Request)
	if err := decMode.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("commands: malformed request: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Response is the server's reply to a Request.
type Response struct {
	Code  uint32 `cbor:"code"`
	Key   string `cbor:"key"`
	Value []byte `cbor:"value,omitempty"`
}

// NewResponse returns a successful Response.
func NewResponse(key string, value []byte) *Response {
	return &Response{
		Code:  StatusOK,
		Key:   key,
		Value: value,
	}
}

// NotFound returns the Response to a Get for a missing key.
func NotFound(key string) *Response {
	return &Response{
		Code: StatusNotFound,
		Key:  key,
	}
}

// BadRequest returns the Response to a malformed Request.
func BadRequest() *Response {
	return &Response{Code: StatusBadRequest}
}

// InternalError returns the Response to a Request that failed server side.
func InternalError(key string) *Response {
	return &Response{
		Code: StatusInternalError,
		Key:  key,
	}
}

// IsOK returns true iff the response code is StatusOK.
func (r *Response) IsOK() bool {
	return r.Code == StatusOK
}

func (r *Response) String() string {
	return fmt.Sprintf("Response{Code: %d, Key: %q, Value: %d bytes}", r.Code, r.Key, len(r.Value))
}

// Marshal serializes the Response.
func (r *Response) Marshal() ([]byte, error) {
	return encMode.Marshal(r)
}

// ResponseFromBytes deserializes a Response.
func ResponseFromBytes(b []byte) (*Response, error) {
	r := new(Response)
	if err := decMode.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("commands: malformed response: %w", err)
	}
	return r, nil
}
