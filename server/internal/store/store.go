// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package store defines the key/value storage interface used by the server.
package store

import "errors"

// ErrNotFound is the error returned when a key is not present.
var ErrNotFound = errors.New("store: key not found")

// Store is the interface provided by all key/value storage backends.
// Implementations must be safe for concurrent use, and must not retain or
// return slices owned by the caller.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error

	// Close releases the backend's resources.
	Close() error
}
