// Package policy derives the capacity-constrained keep-set from the
// ranked catalog. Selection is deliberately greedy: items are admitted
// strictly in vulnerability order with no repacking, trading byte
// utilization for transparency and run-to-run predictability.
package policy

import (
	"time"

	"github.com/tagay1n/tt-torrent-seedbox/internal/rank"
	"github.com/tagay1n/tt-torrent-seedbox/internal/store"
)

// Limits are the dual capacity caps for the keep-set.
type Limits struct {
	MaxCount int
	MaxBytes int64
}

// Selection partitions the catalog for one reconcile cycle.
type Selection struct {
	Keep                []store.Torrent
	ExcludedByCap       []store.Torrent
	ExcludedUnknownSize []store.Torrent

	// KeepBytes includes pinned bytes for reporting.
	KeepBytes int64
	// PinnedOverflow is set when the pinned set alone exceeds a cap.
	// It is a warning, never a failure: no pinned item is excluded.
	PinnedOverflow bool
}

// InKeep reports whether the torrent with the given ID was selected.
func (s *Selection) InKeep(id int64) bool {
	for i := range s.Keep {
		if s.Keep[i].ID == id {
			return true
		}
	}
	return false
}

// Select computes the keep-set. Pinned items are placed first, in rank
// order among themselves, and can never be displaced by a cap. Remaining
// items are admitted in rank order while both caps hold; an item that
// does not fit at the moment of evaluation is excluded (no backtracking).
// Pure and idempotent for identical input.
func Select(items []store.Torrent, pinned PinnedSet, limits Limits, now time.Time) *Selection {
	sel := &Selection{}

	var pinnedItems, candidates []store.Torrent
	for _, t := range items {
		if pinned.Contains(&t) {
			pinnedItems = append(pinnedItems, t)
			continue
		}
		if t.SizeBytes == nil {
			sel.ExcludedUnknownSize = append(sel.ExcludedUnknownSize, t)
			continue
		}
		candidates = append(candidates, t)
	}

	rank.Sort(pinnedItems, now)
	rank.Sort(candidates, now)

	count := 0
	for _, t := range pinnedItems {
		sel.Keep = append(sel.Keep, t)
		if t.SizeBytes != nil {
			sel.KeepBytes += *t.SizeBytes
		}
		count++
	}
	if sel.KeepBytes > limits.MaxBytes || count > limits.MaxCount {
		sel.PinnedOverflow = true
	}

	for _, t := range candidates {
		size := *t.SizeBytes
		if count < limits.MaxCount && sel.KeepBytes+size <= limits.MaxBytes {
			sel.Keep = append(sel.Keep, t)
			sel.KeepBytes += size
			count++
			continue
		}
		sel.ExcludedByCap = append(sel.ExcludedByCap, t)
	}

	return sel
}
