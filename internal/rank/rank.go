// Package rank orders catalog items by how much they deserve active
// preservation: rare (few seeders), in demand (many leechers), old, and
// small items sort first.
package rank

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tagay1n/tt-torrent-seedbox/internal/store"
)

// Compare returns a negative value when a is more vulnerable than b (more
// deserving of preservation), positive when less, zero never for distinct
// items: ties fall through to the identity key so the order is total and
// stable across runs.
//
// Precedence: seeders ascending, leechers descending, age descending,
// size ascending, then topic URL. Items never scraped sort before any
// observed seeder count so they are not evicted ahead of their first
// stats cycle.
func Compare(a, b *store.Torrent, now time.Time) int {
	as, bs := seedersRank(a), seedersRank(b)
	if as != bs {
		if as < bs {
			return -1
		}
		return 1
	}

	al, bl := leechersRank(a), leechersRank(b)
	if al != bl {
		if al > bl {
			return -1
		}
		return 1
	}

	aa, ba := ageSeconds(a, now), ageSeconds(b, now)
	if aa != ba {
		if aa > ba {
			return -1
		}
		return 1
	}

	az, bz := sizeRank(a), sizeRank(b)
	if az != bz {
		if az < bz {
			return -1
		}
		return 1
	}

	return strings.Compare(a.TopicURL, b.TopicURL)
}

// Sort orders items in place, most vulnerable first.
func Sort(items []store.Torrent, now time.Time) {
	sort.Slice(items, func(i, j int) bool {
		return Compare(&items[i], &items[j], now) < 0
	})
}

// Score derives a display-only vulnerability number. Selection never uses
// it; the comparison above is authoritative.
func Score(t *store.Torrent, now time.Time) float64 {
	seeders := float64(0)
	if t.Seeders != nil {
		seeders = float64(*t.Seeders)
	}
	leechers := float64(0)
	if t.Leechers != nil {
		leechers = float64(*t.Leechers)
	}
	ageDays := ageSeconds(t, now) / 86400.0
	sizeGB := float64(0)
	if t.SizeBytes != nil {
		sizeGB = float64(*t.SizeBytes) / (1 << 30)
	}

	score := math.Max(0, 50-math.Min(seeders, 50)) * 10.0
	score += math.Min(leechers, 500) * 2.0
	score += math.Min(ageDays, 3650) * 0.1
	score -= sizeGB * 0.2
	return math.Round(score*1000) / 1000
}

// seedersRank maps never-scraped items below any observed count.
func seedersRank(t *store.Torrent) int64 {
	if t.Seeders == nil {
		return -1
	}
	return *t.Seeders
}

func leechersRank(t *store.Torrent) int64 {
	if t.Leechers == nil {
		return 0
	}
	return *t.Leechers
}

func ageSeconds(t *store.Torrent, now time.Time) float64 {
	ts := t.DiscoveredAt
	if ts == nil {
		ts = t.AddedAt
	}
	if ts == nil {
		return 0
	}
	parsed, err := time.Parse(time.RFC3339, *ts)
	if err != nil {
		return 0
	}
	age := now.Sub(parsed).Seconds()
	if age < 0 {
		return 0
	}
	return age
}

func sizeRank(t *store.Torrent) int64 {
	if t.SizeBytes == nil {
		return math.MaxInt64
	}
	return *t.SizeBytes
}
