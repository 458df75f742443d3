// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package queuectl

import (
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		Base     int
		Attempts int
		Expected time.Duration
	}{
		{2, 0, 1 * time.Second},
		{2, 1, 2 * time.Second},
		{2, 2, 4 * time.Second},
		{2, 3, 8 * time.Second},
		{3, 2, 9 * time.Second},
		{1, 5, 1 * time.Second},
		{0, 5, 1 * time.Second},
	}

	for _, test := range tests {
		if want, have := test.Expected, ExponentialBackoff(test.Base, test.Attempts); want != have {
			t.Fatalf("ExponentialBackoff(%d, %d): want %v, have %v", test.Base, test.Attempts, want, have)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	if want, have := MaxBackoffDelay, ExponentialBackoff(2, 30); want != have {
		t.Fatalf("want %v, have %v", want, have)
	}
	if want, have := MaxBackoffDelay, ExponentialBackoff(10, 100); want != have {
		t.Fatalf("want %v, have %v", want, have)
	}
}
