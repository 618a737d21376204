package cache

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

func testConfig() Config {
	return Config{
		ExactThreshold: 0.98,
		NearThreshold:  0.93,
		ExactTTL:       5 * time.Minute,
		NearTTL:        2 * time.Minute,
		HotCapacity:    8,
		NearCapacity:   8,
	}
}

// newTestCache returns a cache with a controllable clock.
func newTestCache(t *testing.T, cfg Config) (*SemanticCache, *time.Time) {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

// embeddingAt returns a unit vector whose cosine similarity with (1, 0) is
// exactly cos.
func embeddingAt(cos float64) []float32 {
	sin := math.Sqrt(1 - cos*cos)
	return []float32{float32(cos), float32(sin)}
}

func sampleResults(chunkID string) []model.ExpandedResult {
	return []model.ExpandedResult{{
		Candidate: model.RerankedCandidate{
			FusedCandidate: model.FusedCandidate{ChunkID: chunkID, Score: 0.02},
			FinalScore:     0.02,
		},
		Chunk: model.Chunk{ID: chunkID, Text: "cached text"},
	}}
}

func TestCache_ExactHit(t *testing.T) {
	c, _ := newTestCache(t, testConfig())
	ctx := context.Background()

	fp := Fingerprint("refund policy", model.SearchFilters{})
	c.Store(ctx, "refund policy", fp, embeddingAt(1.0), sampleResults("a"))

	hit, ok := c.Lookup(ctx, fp, nil)
	if !ok {
		t.Fatal("expected exact hit")
	}
	if hit.Tier != model.CacheTierExact {
		t.Errorf("expected tier %q, got %q", model.CacheTierExact, hit.Tier)
	}
	if hit.Approximate {
		t.Error("exact hit must not be approximate")
	}
	if len(hit.Results) != 1 || hit.Results[0].Chunk.ID != "a" {
		t.Errorf("unexpected results: %+v", hit.Results)
	}
}

func TestCache_NearBands(t *testing.T) {
	tests := []struct {
		name       string
		similarity float64
		wantHit    bool
		wantApprox bool
	}{
		{"exact equivalent at 0.99", 0.99, true, false},
		{"approximate at 0.95", 0.95, true, true},
		{"miss at 0.80", 0.80, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(t, testConfig())
			ctx := context.Background()

			fp := Fingerprint("refund policy", model.SearchFilters{})
			c.Store(ctx, "refund policy", fp, embeddingAt(1.0), sampleResults("a"))

			// Different query text: the exact tier cannot match.
			otherFP := Fingerprint("how do refunds work", model.SearchFilters{})
			hit, ok := c.Lookup(ctx, otherFP, embeddingAt(tt.similarity))

			if ok != tt.wantHit {
				t.Fatalf("expected hit=%v, got %v", tt.wantHit, ok)
			}
			if !tt.wantHit {
				return
			}
			if hit.Tier != model.CacheTierNear {
				t.Errorf("expected tier %q, got %q", model.CacheTierNear, hit.Tier)
			}
			if hit.Approximate != tt.wantApprox {
				t.Errorf("expected approximate=%v, got %v", tt.wantApprox, hit.Approximate)
			}
		})
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, now := newTestCache(t, testConfig())
	ctx := context.Background()

	fp := Fingerprint("refund policy", model.SearchFilters{})
	c.Store(ctx, "refund policy", fp, embeddingAt(1.0), sampleResults("a"))

	*now = now.Add(6 * time.Minute) // past the 5m exact TTL
	if _, ok := c.Lookup(ctx, fp, nil); ok {
		t.Error("expected miss after exact TTL expiry")
	}
}

func TestCache_NearTTLShorterThanExact(t *testing.T) {
	c, now := newTestCache(t, testConfig())
	ctx := context.Background()

	fp := Fingerprint("refund policy", model.SearchFilters{})
	c.Store(ctx, "refund policy", fp, embeddingAt(1.0), sampleResults("a"))

	// Past the 2m near TTL but inside the 5m exact TTL.
	*now = now.Add(3 * time.Minute)

	otherFP := Fingerprint("how do refunds work", model.SearchFilters{})
	if _, ok := c.Lookup(ctx, otherFP, embeddingAt(0.99)); ok {
		t.Error("expected near tier miss after near TTL expiry")
	}
	if _, ok := c.Lookup(ctx, fp, nil); !ok {
		t.Error("expected exact tier still valid")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	cfg := testConfig()
	cfg.HotCapacity = 2
	c, _ := newTestCache(t, cfg)
	ctx := context.Background()

	fpA := Fingerprint("query a", model.SearchFilters{})
	fpB := Fingerprint("query b", model.SearchFilters{})
	fpC := Fingerprint("query c", model.SearchFilters{})

	c.Store(ctx, "query a", fpA, nil, sampleResults("a"))
	c.Store(ctx, "query b", fpB, nil, sampleResults("b"))
	c.Lookup(ctx, fpA, nil) // refresh a; b is now least recently used
	c.Store(ctx, "query c", fpC, nil, sampleResults("c"))

	if _, ok := c.Lookup(ctx, fpB, nil); ok {
		t.Error("expected least-recently-used entry evicted")
	}
	if _, ok := c.Lookup(ctx, fpA, nil); !ok {
		t.Error("expected recently-used entry retained")
	}
}

func TestCache_HitMutatesEntry(t *testing.T) {
	c, now := newTestCache(t, testConfig())
	ctx := context.Background()

	fp := Fingerprint("refund policy", model.SearchFilters{})
	c.Store(ctx, "refund policy", fp, nil, sampleResults("a"))

	*now = now.Add(time.Minute)
	c.Lookup(ctx, fp, nil)
	c.Lookup(ctx, fp, nil)

	entry, ok := c.hot.Peek(fp)
	if !ok {
		t.Fatal("entry missing from hot tier")
	}
	if entry.HitCount != 2 {
		t.Errorf("expected hit count 2, got %d", entry.HitCount)
	}
	if !entry.LastAccess.Equal(*now) {
		t.Errorf("expected last access %v, got %v", *now, entry.LastAccess)
	}
}

func TestCache_ApproximateHitMutatesEntry(t *testing.T) {
	c, now := newTestCache(t, testConfig())
	ctx := context.Background()

	fp := Fingerprint("refund policy", model.SearchFilters{})
	c.Store(ctx, "refund policy", fp, embeddingAt(1.0), sampleResults("a"))

	*now = now.Add(time.Minute)
	otherFp := Fingerprint("return policy", model.SearchFilters{})
	hit, ok := c.Lookup(ctx, otherFp, embeddingAt(0.95))
	if !ok || !hit.Approximate {
		t.Fatalf("expected approximate near hit, got ok=%v hit=%+v", ok, hit)
	}

	entry, ok := c.near.Peek(fp)
	if !ok {
		t.Fatal("entry missing from near tier")
	}
	if entry.HitCount != 1 {
		t.Errorf("expected hit count 1, got %d", entry.HitCount)
	}
	if !entry.LastAccess.Equal(*now) {
		t.Errorf("expected last access %v, got %v", *now, entry.LastAccess)
	}
}

// Store must not read an entry after a concurrent Lookup can touch it.
// Meaningful under the race detector.
func TestCache_ConcurrentStoreAndLookup(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.WarmPath = dir
	c, _ := newTestCache(t, cfg)
	defer c.Close()
	ctx := context.Background()

	fp := Fingerprint("refund policy", model.SearchFilters{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Store(ctx, "refund policy", fp, embeddingAt(1.0), sampleResults("a"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Lookup(ctx, fp, embeddingAt(0.95))
			}
		}()
	}
	wg.Wait()
}

func TestCache_StatsCounters(t *testing.T) {
	c, _ := newTestCache(t, testConfig())
	ctx := context.Background()

	fp := Fingerprint("refund policy", model.SearchFilters{})
	c.Lookup(ctx, fp, nil) // miss
	c.Store(ctx, "refund policy", fp, nil, sampleResults("a"))
	c.Lookup(ctx, fp, nil) // exact hit

	stats := c.Stats()
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
	if stats.ExactHits != 1 {
		t.Errorf("expected 1 exact hit, got %d", stats.ExactHits)
	}
}

func TestCache_WarmTierSurvivesHotEviction(t *testing.T) {
	cfg := testConfig()
	cfg.HotCapacity = 1
	cfg.WarmPath = t.TempDir()

	c, _ := newTestCache(t, cfg)
	defer c.Close()
	ctx := context.Background()

	fpA := Fingerprint("query a", model.SearchFilters{})
	fpB := Fingerprint("query b", model.SearchFilters{})

	c.Store(ctx, "query a", fpA, nil, sampleResults("a"))
	c.Store(ctx, "query b", fpB, nil, sampleResults("b")) // evicts a from hot

	hit, ok := c.Lookup(ctx, fpA, nil)
	if !ok {
		t.Fatal("expected warm tier hit after hot eviction")
	}
	if hit.Tier != model.CacheTierExact {
		t.Errorf("expected exact tier, got %q", hit.Tier)
	}
	if c.Stats().WarmHits != 1 {
		t.Errorf("expected 1 warm hit, got %d", c.Stats().WarmHits)
	}
}

func TestFingerprint_SensitiveToFilters(t *testing.T) {
	base := Fingerprint("refund policy", model.SearchFilters{})
	filtered := Fingerprint("refund policy", model.SearchFilters{DocIDs: []string{"doc-1"}})
	if base == filtered {
		t.Error("fingerprint must differ when filters differ")
	}

	// Normalization: case and whitespace do not matter, filter order does not matter.
	a := Fingerprint("  Refund   POLICY ", model.SearchFilters{DocIDs: []string{"d2", "d1"}})
	b := Fingerprint("refund policy", model.SearchFilters{DocIDs: []string{"d1", "d2"}})
	if a != b {
		t.Error("fingerprint must be insensitive to case, whitespace, and filter order")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"mismatched lengths", []float32{1, 0}, []float32{1}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}
