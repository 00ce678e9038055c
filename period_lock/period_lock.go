/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// Package period_lock serializes work on a single (identity, year, month)
// receipt period within this process.
//
// Locks for distinct periods never block one another.  Each key is backed by
// a weighted semaphore of size one and a reference count covering holders and
// waiters; when the count drops to zero the key is removed, so the table only
// ever contains periods somebody is currently working on.
package period_lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/saedplatform/portal/cuil"
	"github.com/saedplatform/portal/metrics"
)

type (
	lockEntry struct {
		sem  *semaphore.Weighted
		refs int
	}

	// Locker hands out per-period mutual exclusion.  The zero value is not
	// usable; call NewLocker.
	Locker struct {
		mu      sync.Mutex
		entries map[string]*lockEntry
	}

	// Handle is held by the sole owner of a period key.  Release may be
	// called any number of times; only the first call has an effect.
	Handle struct {
		key    string
		locker *Locker
		entry  *lockEntry
		once   sync.Once
		waited time.Duration
	}
)

func NewLocker() *Locker {
	return &Locker{entries: make(map[string]*lockEntry)}
}

// Key builds the lock key for a period: the digits-only identity followed by
// the zero-padded year and month, e.g. "20123456789:2026-01".
func Key(identity string, year, month int) string {
	return fmt.Sprintf("%s:%04d-%02d", cuil.Normalize(identity), year, month)
}

// Acquire blocks until the caller is the only holder of the period key or ctx
// is done.  On cancellation no handle is returned and the key is left exactly
// as it was found.
func (l *Locker) Acquire(ctx context.Context, identity string, year, month int) (*Handle, error) {
	key := Key(identity, year, month)

	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = entry
	}
	entry.refs++
	metrics.ReceiptLockKeys.Set(float64(len(l.entries)))
	l.mu.Unlock()

	start := time.Now()
	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, entry)
		return nil, err
	}
	waited := time.Since(start)
	metrics.ReceiptLockWaitSeconds.Observe(waited.Seconds())

	return &Handle{key: key, locker: l, entry: entry, waited: waited}, nil
}

func (l *Locker) unref(key string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	metrics.ReceiptLockKeys.Set(float64(len(l.entries)))
}

// Len returns the number of period keys with a holder or waiter.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Refs returns the number of holders and waiters of a lock key.
func (l *Locker) Refs(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[key]; ok {
		return entry.refs
	}
	return 0
}

// Key returns the period key this handle protects.
func (h *Handle) Key() string {
	return h.key
}

// Waited returns how long Acquire blocked before the handle was granted.
func (h *Handle) Waited() time.Duration {
	return h.waited
}

func (h *Handle) Release() {
	h.once.Do(func() {
		h.entry.sem.Release(1)
		h.locker.unref(h.key, h.entry)
	})
}
