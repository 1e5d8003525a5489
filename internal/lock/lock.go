/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package lock provides the distributed lock guaranteeing at most one
// active investigation per transaction id at a time (spec §5, §8
// "duplicate concurrent run" scenario).
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyLocked is returned by Acquire when another holder already owns
// the lock for this key.
var ErrAlreadyLocked = errors.New("lock: already held")

// Lock is the distributed-lock boundary. Implementations: Redis
// (production, SET NX PX) and Memory (tests).
type Lock interface {
	// Acquire attempts to take the lock for key, returning ErrAlreadyLocked
	// if another holder currently owns it. ttl bounds how long the lock is
	// held if the process dies without releasing it.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) error

	// Release drops the lock for key, but only if holder still owns it
	// (compare-and-delete semantics, avoiding releasing a lock a different
	// holder has since acquired after this holder's TTL expired).
	Release(ctx context.Context, key, holder string) error
}

// TransactionLockKey namespaces the lock key for spec §5's
// one-active-investigation-per-transaction guarantee.
func TransactionLockKey(transactionID string) string {
	return "investigation:active:" + transactionID
}
