package policy

import (
	"bufio"
	"os"
	"strings"

	"github.com/tagay1n/tt-torrent-seedbox/internal/store"
)

// PinnedSet holds operator-designated identity keys exempt from eviction.
// Keys may be topic URLs, infohashes, or Porla torrent IDs. The set is
// resolved once per cycle and treated as immutable for that cycle.
type PinnedSet map[string]struct{}

// LoadPinned reads one key per line from path. Blank lines and
// #-comments are ignored. A missing file yields an empty set.
func LoadPinned(path string) (PinnedSet, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PinnedSet{}, nil
		}
		return nil, err
	}
	defer f.Close()

	set := PinnedSet{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = struct{}{}
	}
	return set, scanner.Err()
}

// Contains reports whether the torrent matches the pinned set by any of
// its identities.
func (p PinnedSet) Contains(t *store.Torrent) bool {
	if len(p) == 0 {
		return false
	}
	if _, ok := p[t.TopicURL]; ok {
		return true
	}
	if t.Infohash != nil {
		if _, ok := p[*t.Infohash]; ok {
			return true
		}
	}
	if t.PorlaID != nil {
		if _, ok := p[*t.PorlaID]; ok {
			return true
		}
	}
	return false
}
