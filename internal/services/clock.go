// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import "time"

// Clock lets tests pin the sweeper and admission timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// UTC keeps stored timestamps comparable across restarts in any timezone.
func (systemClock) Now() time.Time { return time.Now().UTC() }

// maskLicenseKey masks a license key for logging (shows first 8 chars + ***)
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}
