// Package quota enforces per-identity daily request limits through an atomic
// check-and-increment against a shared counter store.
package quota

import (
	"context"
	"time"
)

// Store is the transactional counter consulted on every admission decision.
//
// CheckAndIncrement must be atomic with respect to concurrent calls for the
// same key: no two concurrent calls may both observe count < limit and both
// push the counter past the limit. The record is created lazily with count=1
// on the first call of the day; a denied call performs no mutation at all.
// The returned bool is the admission decision; a non-nil error means the store
// itself failed and the caller must apply its degraded policy.
type Store interface {
	CheckAndIncrement(ctx context.Context, key string, limit int) (bool, error)
}

// DayKey builds the composite quota key for an identity on the UTC calendar
// day of now. One record exists per identity per day; stale records from past
// days are harmless and expire out-of-band.
func DayKey(identityKey string, now time.Time) string {
	return identityKey + "_" + now.UTC().Format("2006-01-02")
}
