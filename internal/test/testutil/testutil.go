// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package testutil provides common test helpers: deterministic waiting,
// signing keys, in-memory databases and fake external collaborators.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const pollInterval = 5 * time.Millisecond

// WaitForCondition polls cond until it holds or the timeout expires. Use it
// for state owned by background goroutines such as the outbox consumer.
func WaitForCondition(
	t *testing.T,
	cond func() bool,
	timeout time.Duration,
	msg string,
) {
	t.Helper()
	require.Eventually(t, cond, timeout, pollInterval, msg)
}

// RequireReceive returns the next value from ch, failing the test when
// nothing arrives in time
func RequireReceive[T any](
	t *testing.T,
	ch <-chan T,
	timeout time.Duration,
	msg string,
) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed: %s", msg)
		}
		return v
	case <-timer.C:
		t.Fatalf("nothing received after %s: %s", timeout, msg)
	}
	var zero T
	return zero
}

// RequireNoReceive fails the test if ch yields a value within d
func RequireNoReceive[T any](
	t *testing.T,
	ch <-chan T,
	d time.Duration,
	msg string,
) {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected receive %v: %s", v, msg)
		}
	case <-timer.C:
	}
}
