// Package framecache is a content-addressed store of frame analyses. It
// answers two questions before the pipeline pays for a model call: "have we
// analyzed exactly these bytes?" (SHA-256 content hash) and "have we analyzed
// something that looks the same?" (perceptual fingerprint within a Hamming
// threshold).
package framecache

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/glimpsehq/glimpse/internal/clock"
	"github.com/glimpsehq/glimpse/internal/events"
	"github.com/glimpsehq/glimpse/internal/models"
	"github.com/glimpsehq/glimpse/internal/phash"
)

const (
	// DefaultCapacity bounds the number of live entries before LRU eviction.
	DefaultCapacity = 1000
	// DefaultTTL expires entries regardless of access recency.
	DefaultTTL = time.Hour
)

// Entry is one cached analysis. Owned exclusively by the cache; callers get
// copies of the mutable bookkeeping fields via Hit results.
type Entry struct {
	ContentHash    string            `json:"content_hash"`
	Fingerprint    phash.Fingerprint `json:"fingerprint"`
	Analysis       *models.Analysis  `json:"analysis"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	AccessCount    int               `json:"access_count"`
	Cost           float64           `json:"cost"`
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Entries   int     `json:"entries"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Expired   uint64  `json:"expired"`
	CostSaved float64 `json:"cost_saved"`
}

// Config tunes a Cache. Zero values fall back to defaults.
type Config struct {
	Capacity            int
	TTL                 time.Duration
	SimilarityThreshold int
	Clock               clock.Clock
	Logger              *slog.Logger
	Bus                 *events.Bus // optional; cache-hit/cache-evicted events
}

// Cache maps content hashes to analyses, with a secondary fingerprint index
// for near-duplicate hits. LRU + TTL bounded.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	byPrint   map[phash.Fingerprint]map[string]struct{}
	capacity  int
	ttl       time.Duration
	threshold int
	clock     clock.Clock
	log       *slog.Logger
	bus       *events.Bus
	stats     Stats
}

// New builds a cache from cfg, applying defaults for unset fields.
func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = phash.DefaultSimilarityThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		entries:   make(map[string]*Entry),
		byPrint:   make(map[phash.Fingerprint]map[string]struct{}),
		capacity:  cfg.Capacity,
		ttl:       cfg.TTL,
		threshold: cfg.SimilarityThreshold,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		bus:       cfg.Bus,
	}
}

// HashContent returns the hex SHA-256 of the exact encoded frame bytes used
// as the exact-match cache key.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached entry for the frame, trying an exact content
// match first and then the nearest-by-recency fingerprint match within the
// similarity threshold. A hit bumps access bookkeeping and the cost-saved
// counter. Returns nil on miss.
func (c *Cache) Lookup(contentHash string, fp phash.Fingerprint) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	if e, ok := c.entries[contentHash]; ok {
		if c.expired(e, now) {
			c.remove(e, "expired")
		} else {
			return c.hit(e, now)
		}
	}

	// Near-duplicate scan. Among all stored fingerprints within threshold,
	// the most recently accessed entry wins, not the closest by distance:
	// fresh results surface ahead of marginally closer stale ones.
	var best *Entry
	for stored, hashes := range c.byPrint {
		if phash.Distance(stored, fp) > c.threshold {
			continue
		}
		for h := range hashes {
			e, ok := c.entries[h]
			if !ok {
				continue
			}
			if c.expired(e, now) {
				c.remove(e, "expired")
				continue
			}
			if best == nil || e.LastAccessedAt.After(best.LastAccessedAt) {
				best = e
			}
		}
	}
	if best != nil {
		return c.hit(best, now)
	}

	c.stats.Misses++
	return nil
}

func (c *Cache) hit(e *Entry, now time.Time) *Entry {
	e.AccessCount++
	e.LastAccessedAt = now
	c.stats.Hits++
	c.stats.CostSaved += e.Cost
	if c.bus != nil {
		c.bus.Emit(events.CacheHit, e.ContentHash)
	}
	return e
}

// Store inserts a freshly computed analysis. When the cache is full it first
// drops TTL-expired entries; if still full it evicts the least recently
// accessed entry.
func (c *Cache) Store(contentHash string, fp phash.Fingerprint, analysis *models.Analysis, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	if old, ok := c.entries[contentHash]; ok {
		c.remove(old, "replaced")
	}

	if len(c.entries) >= c.capacity {
		if c.pruneExpiredLocked(now) == 0 {
			c.evictLRULocked()
		}
		// Expiry may not have freed a slot.
		if len(c.entries) >= c.capacity {
			c.evictLRULocked()
		}
	}

	e := &Entry{
		ContentHash:    contentHash,
		Fingerprint:    fp,
		Analysis:       analysis,
		CreatedAt:      now,
		LastAccessedAt: now,
		Cost:           cost,
	}
	c.entries[contentHash] = e
	bucket, ok := c.byPrint[fp]
	if !ok {
		bucket = make(map[string]struct{})
		c.byPrint[fp] = bucket
	}
	bucket[contentHash] = struct{}{}
}

// PruneExpired sweeps the whole cache and removes entries older than TTL.
// Returns the number removed. Meant to run on a periodic timer, independent
// of eviction-on-insert.
func (c *Cache) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneExpiredLocked(c.clock.Now())
}

func (c *Cache) pruneExpiredLocked(now time.Time) int {
	removed := 0
	for _, e := range c.entries {
		if c.expired(e, now) {
			c.remove(e, "expired")
			removed++
		}
	}
	return removed
}

func (c *Cache) evictLRULocked() {
	var oldest *Entry
	for _, e := range c.entries {
		if oldest == nil || e.LastAccessedAt.Before(oldest.LastAccessedAt) {
			oldest = e
		}
	}
	if oldest != nil {
		c.remove(oldest, "lru")
	}
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.CreatedAt) > c.ttl
}

// remove deletes the entry from the primary map and the fingerprint index,
// dropping the index bucket entirely when it empties. Index buckets and
// entries must never disagree.
func (c *Cache) remove(e *Entry, reason string) {
	delete(c.entries, e.ContentHash)
	if bucket, ok := c.byPrint[e.Fingerprint]; ok {
		delete(bucket, e.ContentHash)
		if len(bucket) == 0 {
			delete(c.byPrint, e.Fingerprint)
		}
	}
	switch reason {
	case "expired":
		c.stats.Expired++
	case "lru":
		c.stats.Evictions++
	}
	if c.bus != nil && reason != "replaced" {
		c.bus.Emit(events.CacheEvicted, e.ContentHash)
	}
}

// Len returns the live entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a snapshot of the current entries, in no particular order.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// Stats returns a copy of the running counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}
