// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package common

import (
	"errors"
	"os"
)

// BothExists returns true iff both files exist.
func BothExists(a, b string) (bool, error) {
	aOk, err := Exists(a)
	if err != nil {
		return false, err
	}
	bOk, err := Exists(b)
	if err != nil {
		return false, err
	}
	return aOk && bOk, nil
}

// BothNotExists returns true iff neither file exists.
func BothNotExists(a, b string) (bool, error) {
	aOk, err := Exists(a)
	if err != nil {
		return false, err
	}
	bOk, err := Exists(b)
	if err != nil {
		return false, err
	}
	return !aOk && !bOk, nil
}

// Exists returns true iff f exists.
func Exists(f string) (bool, error) {
	_, err := os.Stat(f)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
