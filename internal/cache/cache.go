// Package cache implements the tiered semantic result cache: an exact tier
// keyed by query fingerprint (hot in-memory LRU plus an optional larger
// warm tier) and a near-match tier compared by embedding cosine similarity.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// Config tunes the semantic cache. Thresholds and TTLs come from the
// environment; none of the similarity bands are hard-coded.
type Config struct {
	ExactThreshold float64 // near-tier similarity treated as exact-equivalent
	NearThreshold  float64 // near-tier similarity treated as approximate
	ExactTTL       time.Duration
	NearTTL        time.Duration
	HotCapacity    int
	NearCapacity   int
	WarmPath       string // badger directory; empty disables the warm tier
}

// Entry is one cached result set.
type Entry struct {
	ID          string                 `json:"id"`
	Fingerprint string                 `json:"fingerprint"`
	Query       string                 `json:"query"`
	Embedding   []float32              `json:"embedding"`
	Results     []model.ExpandedResult `json:"results"`
	HitCount    int                    `json:"hit_count"`
	LastAccess  time.Time              `json:"last_access"`
	CreatedAt   time.Time              `json:"created_at"`
	ExpiresAt   time.Time              `json:"expires_at"`
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Hit is a successful cache lookup.
type Hit struct {
	Tier        string // model.CacheTierExact or model.CacheTierNear
	Approximate bool   // near hit below the exact-equivalent band
	Similarity  float64
	Results     []model.ExpandedResult
}

// Stats counts lookups per outcome.
type Stats struct {
	ExactHits  uint64 `json:"exact_hits"`
	WarmHits   uint64 `json:"warm_hits"`
	NearHits   uint64 `json:"near_hits"`
	ApproxHits uint64 `json:"approx_hits"`
	Misses     uint64 `json:"misses"`
}

// SemanticCache is safe for concurrent use; lookups are never blocked by a
// concurrent write-back.
type SemanticCache struct {
	cfg  Config
	now  func() time.Time
	warm *warmStore // nil when disabled

	mu   sync.RWMutex
	hot  *lru.Cache[string, *Entry]
	near *lru.Cache[string, *Entry]

	exactHits  atomic.Uint64
	warmHits   atomic.Uint64
	nearHits   atomic.Uint64
	approxHits atomic.Uint64
	misses     atomic.Uint64
}

// New creates the cache. A warm-tier open failure disables that tier rather
// than failing startup: the cache must never be load-bearing.
func New(cfg Config) (*SemanticCache, error) {
	if cfg.HotCapacity <= 0 {
		cfg.HotCapacity = 1024
	}
	if cfg.NearCapacity <= 0 {
		cfg.NearCapacity = 512
	}

	hot, err := lru.New[string, *Entry](cfg.HotCapacity)
	if err != nil {
		return nil, err
	}
	near, err := lru.New[string, *Entry](cfg.NearCapacity)
	if err != nil {
		return nil, err
	}

	c := &SemanticCache{
		cfg:  cfg,
		now:  time.Now,
		hot:  hot,
		near: near,
	}

	if cfg.WarmPath != "" {
		warm, err := openWarmStore(cfg.WarmPath)
		if err != nil {
			slog.Warn("warm cache tier unavailable, continuing without it",
				"path", cfg.WarmPath, "error", err)
		} else {
			c.warm = warm
		}
	}

	return c, nil
}

// Lookup consults the exact tier first (hot, then warm), then the near-match
// tier. A nil embedding skips the near tier. Returns (nil, false) on miss.
func (c *SemanticCache) Lookup(ctx context.Context, fingerprint string, embedding []float32) (*Hit, bool) {
	now := c.now()

	// Exact tier: hot.
	if entry, ok := c.hot.Get(fingerprint); ok {
		if entry.expired(now) {
			c.hot.Remove(fingerprint)
		} else {
			c.touch(entry, now)
			c.exactHits.Add(1)
			return &Hit{Tier: model.CacheTierExact, Similarity: 1.0, Results: entry.Results}, true
		}
	}

	// Exact tier: warm. Hits are promoted back into the hot tier; an
	// unavailable warm tier is a miss, never an error.
	if c.warm != nil {
		entry, err := c.warm.get(ctx, fingerprint)
		if err != nil {
			slog.Warn("warm cache lookup failed", "error", err)
		} else if entry != nil && !entry.expired(now) {
			c.touch(entry, now)
			c.hot.Add(fingerprint, entry)
			c.warmHits.Add(1)
			return &Hit{Tier: model.CacheTierExact, Similarity: 1.0, Results: entry.Results}, true
		}
	}

	// Near-match tier.
	if len(embedding) > 0 {
		if entry, sim := c.bestNearMatch(embedding, now); entry != nil {
			if sim >= c.cfg.ExactThreshold {
				// Exact-equivalent: promoted like an exact hit.
				c.touch(entry, now)
				c.near.Get(entry.Fingerprint) // refresh recency
				c.nearHits.Add(1)
				return &Hit{Tier: model.CacheTierNear, Similarity: sim, Results: entry.Results}, true
			}
			if sim >= c.cfg.NearThreshold {
				c.touch(entry, now)
				c.approxHits.Add(1)
				return &Hit{Tier: model.CacheTierNear, Approximate: true, Similarity: sim, Results: entry.Results}, true
			}
		}
	}

	c.misses.Add(1)
	return nil, false
}

// bestNearMatch scans the near tier without disturbing LRU recency and
// returns the closest unexpired entry by cosine similarity.
func (c *SemanticCache) bestNearMatch(embedding []float32, now time.Time) (*Entry, float64) {
	var best *Entry
	var bestSim float64

	for _, key := range c.near.Keys() {
		entry, ok := c.near.Peek(key)
		if !ok {
			continue
		}
		if entry.expired(now) {
			c.near.Remove(key)
			continue
		}
		if sim := CosineSimilarity(embedding, entry.Embedding); sim > bestSim {
			best = entry
			bestSim = sim
		}
	}
	return best, bestSim
}

// Store writes a fresh result set into every tier. The warm write is
// best-effort: a failure is logged and ignored so write-back never blocks or
// fails a response.
func (c *SemanticCache) Store(ctx context.Context, query string, fingerprint string, embedding []float32, results []model.ExpandedResult) {
	now := c.now()
	entry := &Entry{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint,
		Query:       query,
		Embedding:   embedding,
		Results:     results,
		LastAccess:  now,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.cfg.ExactTTL),
	}
	// The warm write and near copy read the entry, so both happen before it
	// is published into a tier. Once a concurrent Lookup can see the entry,
	// touch may mutate it at any time.
	if c.warm != nil {
		if err := c.warm.put(ctx, entry, c.cfg.ExactTTL); err != nil {
			slog.Warn("warm cache write failed", "error", err)
		}
	}

	if len(embedding) > 0 {
		// Near entries carry their own, shorter TTL: they are lower-fidelity.
		nearEntry := *entry
		nearEntry.ExpiresAt = now.Add(c.cfg.NearTTL)
		c.near.Add(fingerprint, &nearEntry)
	}

	c.hot.Add(fingerprint, entry)
}

// touch records a hit on an entry.
func (c *SemanticCache) touch(entry *Entry, now time.Time) {
	c.mu.Lock()
	entry.HitCount++
	entry.LastAccess = now
	c.mu.Unlock()
}

// Stats returns cumulative hit/miss counters per tier.
func (c *SemanticCache) Stats() Stats {
	return Stats{
		ExactHits:  c.exactHits.Load(),
		WarmHits:   c.warmHits.Load(),
		NearHits:   c.nearHits.Load(),
		ApproxHits: c.approxHits.Load(),
		Misses:     c.misses.Load(),
	}
}

// Close releases the warm tier, if open.
func (c *SemanticCache) Close() error {
	if c.warm != nil {
		return c.warm.close()
	}
	return nil
}
