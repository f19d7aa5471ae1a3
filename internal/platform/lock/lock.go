// Package lock provides exclusive locks over stock keys so that availability
// checks and the ledger writes that depend on them are not interleaved.
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrNotObtained is returned when a lock could not be acquired before the deadline.
var ErrNotObtained = errors.New("lock: not obtained")

// Locker acquires every key or none. The returned release func is safe to call once.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// normalize sorts and de-duplicates keys so concurrent callers always lock in
// the same order.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
