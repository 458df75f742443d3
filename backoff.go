// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package queuectl

import (
	"math"
	"time"
)

// MaxBackoffDelay caps the retry delay so that backoffBase^attempts cannot
// push a job arbitrarily far into the future.
const MaxBackoffDelay = time.Hour

// BackoffFunc is a callback that returns the time span between retries of
// failed jobs, given the backoff base and the number of attempts made so
// far. Exponential backoff is used by default.
type BackoffFunc func(base, attempts int) time.Duration

// ExponentialBackoff is the default backoff function. It returns
// base^attempts seconds, capped at MaxBackoffDelay.
func ExponentialBackoff(base, attempts int) time.Duration {
	if base < 1 {
		base = 1
	}
	secs := math.Pow(float64(base), float64(attempts))
	if secs > MaxBackoffDelay.Seconds() {
		return MaxBackoffDelay
	}
	return time.Duration(secs) * time.Second
}
