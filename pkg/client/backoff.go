// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import "time"

// Backoff returns the delay before reconnect attempt number attempt:
// base·2^(attempt-1), capped at max. Attempts below one have no delay.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		return 0
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}

	if delay > max {
		return max
	}
	return delay
}
