package fleet

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	sqotel "github.com/timvw/sisqo/internal/otel"
)

// OutputCache remembers a hash of the last output of each command on each
// device, so repeated runs can report which outputs changed.
//
// Entries have a TTL. After expiry an output counts as changed even if it
// is identical, so a long-running watch periodically re-reports state
// that never moves.
type OutputCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry // keyed by device and command
	ttl     time.Duration
	hits    int64
	misses  int64
	metrics *sqotel.Metrics
}

type cacheEntry struct {
	outputHash string
	cachedAt   time.Time
	hitCount   int
}

// NewOutputCache creates a cache with the given TTL.
// A TTL of 0 disables caching: every output counts as changed.
func NewOutputCache(ttl time.Duration, metrics *sqotel.Metrics) *OutputCache {
	return &OutputCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		metrics: metrics,
	}
}

func cacheKey(device, command string) string {
	return device + "\x00" + command
}

// Unchanged reports whether output is what was stored for device and
// command, within the TTL.
func (c *OutputCache) Unchanged(ctx context.Context, device, command, output string) bool {
	if c == nil || c.ttl <= 0 {
		return false
	}

	hash := hashOutput(output)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cacheKey(device, command)]
	if !ok || entry.outputHash != hash || time.Since(entry.cachedAt) > c.ttl {
		c.misses++
		c.metrics.RecordCacheMiss(ctx)
		return false
	}
	entry.hitCount++
	c.hits++
	c.metrics.RecordCacheHit(ctx)
	return true
}

// Store records output as the latest for device and command. An unchanged
// output keeps its original timestamp so the TTL runs from the first time
// it was seen.
func (c *OutputCache) Store(device, command, output string) {
	if c == nil || c.ttl <= 0 {
		return
	}

	hash := hashOutput(output)
	key := cacheKey(device, command)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.outputHash == hash && time.Since(e.cachedAt) <= c.ttl {
		return
	}
	c.entries[key] = &cacheEntry{
		outputHash: hash,
		cachedAt:   time.Now(),
	}
}

// Invalidate forgets every output of device.
func (c *OutputCache) Invalidate(device string) {
	if c == nil {
		return
	}
	prefix := device + "\x00"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// Stats returns cache statistics.
func (c *OutputCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}

// hashOutput returns a hex-encoded SHA256 hash of the output.
func hashOutput(output string) string {
	h := sha256.Sum256([]byte(output))
	return fmt.Sprintf("%x", h)
}
