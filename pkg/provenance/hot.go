package provenance

import (
	"github.com/dgraph-io/ristretto"

	"github.com/mcpmux/proxy/pkg/mcperr"
)

// HotTier is the in-memory recent-context cache. ristretto provides
// cost-based admission and LRU-style eviction bounded by total memory
// cost without this package having to hand-roll an eviction policy; the
// entry count is bounded only through each entry's cost. Eviction from hot never
// deletes the corresponding cold-tier row, since ColdStore writes always
// happen first (write-through).
type HotTier struct {
	cache *ristretto.Cache
}

// HotTierConfig sizes the hot tier. MaxCostBytes is the hard bound on
// approximate total memory cost. MaxEntries only sizes ristretto's
// admission counters (ten per expected entry); it is not a cap on the
// number of cached entries.
type HotTierConfig struct {
	MaxEntries int64
	MaxCostBytes int64
}

// DefaultHotTierConfig is a reasonable default for a single-operator proxy
// instance: sized for ten thousand recent context units, bounded to 64 MiB.
func DefaultHotTierConfig() HotTierConfig {
	return HotTierConfig{MaxEntries: 10_000, MaxCostBytes: 64 << 20}
}

// NewHotTier builds a bounded ristretto cache.
func NewHotTier(cfg HotTierConfig) (*HotTier, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10, // ristretto recommends ~10x expected entries
		MaxCost:     cfg.MaxCostBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindStorage, "provenance.NewHotTier", err, "constructing cache")
	}
	return &HotTier{cache: cache}, nil
}

// approximateCost estimates a ContextUnit's memory cost for ristretto's
// cost-based eviction, proportional to its content length.
func approximateCost(u ContextUnit) int64 {
	return int64(len(u.Content)) + 128 // fixed overhead for the struct's scalar fields
}

// Put admits u into the hot tier under the given cost; eviction of other
// entries may occur as a side effect, but never touches the cold tier.
func (h *HotTier) Put(u ContextUnit) {
	h.cache.Set(u.ID, u, approximateCost(u))
}

// Get returns a ContextUnit from the hot tier only (a miss does not
// consult the cold tier — callers check hot first and fall back
// explicitly, per the spec's "reads check hot first" rule).
func (h *HotTier) Get(id string) (ContextUnit, bool) {
	v, ok := h.cache.Get(id)
	if !ok {
		return ContextUnit{}, false
	}
	u, ok := v.(ContextUnit)
	return u, ok
}

// Invalidate removes id from the hot tier (used after a feedback-driven
// update, so the next read picks up the fresh cold-tier value rather than
// a stale cached aggregate score).
func (h *HotTier) Invalidate(id string) {
	h.cache.Del(id)
}

// Close releases background goroutines ristretto maintains for its
// eviction and metrics bookkeeping.
func (h *HotTier) Close() {
	h.cache.Close()
}

// Stats returns the cache's current hit/miss/eviction counters.
func (h *HotTier) Stats() CacheStats {
	m := h.cache.Metrics
	if m == nil {
		return CacheStats{}
	}
	return CacheStats{
		Hits:        m.Hits(),
		Misses:      m.Misses(),
		KeysAdded:   m.KeysAdded(),
		KeysEvicted: m.KeysEvicted(),
		CostAdded:   m.CostAdded(),
		CostEvicted: m.CostEvicted(),
	}
}
