package framecache

import (
	"encoding/json"
	"fmt"

	"github.com/glimpsehq/glimpse/internal/phash"
)

// snapshot is the serialized cache state. The fingerprint index is rebuilt on
// import, so only entries are persisted.
type snapshot struct {
	Version int      `json:"version"`
	Entries []*Entry `json:"entries"`
}

const snapshotVersion = 1

// ExportSnapshot serializes the full cache state for persistence across
// restarts.
func (c *Cache) ExportSnapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := snapshot{Version: snapshotVersion, Entries: make([]*Entry, 0, len(c.entries))}
	for _, e := range c.entries {
		snap.Entries = append(snap.Entries, e)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal cache snapshot: %w", err)
	}
	return data, nil
}

// ImportSnapshot restores state from a prior ExportSnapshot. Malformed data
// is logged and the cache resets to empty instead of failing; stale entries
// are pruned immediately after restore.
func (c *Cache) ImportSnapshot(data []byte) {
	c.mu.Lock()

	c.entries = make(map[string]*Entry)
	c.byPrint = make(map[phash.Fingerprint]map[string]struct{})

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.mu.Unlock()
		c.log.Warn("discarding corrupt cache snapshot", "error", err)
		return
	}

	for _, e := range snap.Entries {
		if e == nil || e.ContentHash == "" || e.Analysis == nil {
			continue
		}
		c.entries[e.ContentHash] = e
		bucket, ok := c.byPrint[e.Fingerprint]
		if !ok {
			bucket = make(map[string]struct{})
			c.byPrint[e.Fingerprint] = bucket
		}
		bucket[e.ContentHash] = struct{}{}
	}
	c.mu.Unlock()

	if n := c.PruneExpired(); n > 0 {
		c.log.Debug("pruned stale snapshot entries", "count", n)
	}
}
