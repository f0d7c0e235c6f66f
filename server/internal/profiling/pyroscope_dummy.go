// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !pyroscope
// +build !pyroscope

// Package profiling hooks the server up to continuous profiling.
package profiling

import "gopkg.in/op/go-logging.v1"

// Start is a dummy function that does nothing.
func Start(log *logging.Logger, identifier string) error {
	log.Debugf("Pyroscope is disabled, not profiling '%v'", identifier)
	return nil
}
