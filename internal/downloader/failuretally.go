// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package downloader

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// failureTallyTTL is how long an event's failure count is remembered.
// A cleared tally after this window lets a truly transient source
// outage recover without tripping the permanent blacklist on stale
// counts (spec §4.4, §7).
const failureTallyTTL = 12 * time.Hour

// permanentBlacklistThreshold is the tally at which an event is handed
// to the Ledger as permanently ignored instead of left for the
// Reconciler to re-offer.
const permanentBlacklistThreshold = 10

// FailureTally counts consecutive fetch failures per event id, expiring
// old counts automatically so a blacklist decision only reflects recent
// history.
type FailureTally struct {
	cache *ttlcache.Cache[string, int]
}

// NewFailureTally creates a FailureTally and starts its background
// expiration loop. Call Close when done.
func NewFailureTally() *FailureTally {
	cache := ttlcache.New[string, int](
		ttlcache.WithTTL[string, int](failureTallyTTL),
	)
	go cache.Start()
	return &FailureTally{cache: cache}
}

// Increment records one more failure for id and returns the new tally.
func (f *FailureTally) Increment(id string) int {
	item := f.cache.Get(id)
	count := 1
	if item != nil {
		count = item.Value() + 1
	}
	f.cache.Set(id, count, ttlcache.DefaultTTL)
	return count
}

// Clear forgets id's tally, called after a successful fetch.
func (f *FailureTally) Clear(id string) {
	f.cache.Delete(id)
}

// Exceeded reports whether id's current tally has reached the permanent
// blacklist threshold.
func (f *FailureTally) Exceeded(id string) bool {
	item := f.cache.Get(id)
	return item != nil && item.Value() >= permanentBlacklistThreshold
}

// Close stops the cache's background expiration goroutine.
func (f *FailureTally) Close() {
	f.cache.Stop()
}
