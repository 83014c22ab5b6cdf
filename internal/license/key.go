// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package license handles the SYNC license key format.
package license

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
)

var ErrInvalidFormat = errors.New("invalid license key format")

// Keys look like SYNC-A1B2C3-D4E5F6: the SYNC prefix and two alphanumeric
// groups. Validation happens before any store access so malformed agent
// requests fail fast.
var keyPattern = regexp.MustCompile(`^SYNC-[A-Za-z0-9]+-[A-Za-z0-9]+$`)

// Validate reports whether key conforms to the SYNC key format.
func Validate(key string) error {
	if !keyPattern.MatchString(key) {
		return ErrInvalidFormat
	}
	return nil
}

const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Generate returns a new license key. The alphabet drops easily-confused
// characters (0/O, 1/I).
func Generate() (string, error) {
	group := func(n int) (string, error) {
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for i, b := range buf {
			buf[i] = keyAlphabet[int(b)%len(keyAlphabet)]
		}
		return string(buf), nil
	}

	a, err := group(6)
	if err != nil {
		return "", fmt.Errorf("failed to generate license key: %w", err)
	}
	b, err := group(6)
	if err != nil {
		return "", fmt.Errorf("failed to generate license key: %w", err)
	}

	return fmt.Sprintf("SYNC-%s-%s", a, b), nil
}
