package storagetier

import (
	"sync"
	"sync/atomic"

	"github.com/guts-org/guts-node/objstore"
)

// HybridConfig parameterizes the hot/cache/cold composition, with
// defaults resolved from the reference hybrid-storage implementation.
type HybridConfig struct {
	HotMaxObjects    int
	HotMaxBytes      int64
	Cache            CacheConfig
	PromoteThreshold uint32
}

// DefaultHybridConfig matches the reference implementation's defaults:
// 10,000 hot objects, 512 MiB hot bytes, promote after 3 cold accesses.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		HotMaxObjects:    10_000,
		HotMaxBytes:      512 << 20,
		Cache:            DefaultCacheConfig(),
		PromoteThreshold: 3,
	}
}

// HybridStats exposes hot/cold traffic counters.
type HybridStats struct {
	HotHits     int64
	HotMisses   int64
	Promotions  int64
	Demotions   int64
}

// accessTracker counts cold-tier gets per object ID to decide promotion.
type accessTracker struct {
	mu     sync.Mutex
	counts map[objstore.ObjectID]uint32
	total  int64
}

func newAccessTracker() *accessTracker {
	return &accessTracker{counts: make(map[objstore.ObjectID]uint32)}
}

func (t *accessTracker) recordAccess(id objstore.ObjectID) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[id]++
	atomic.AddInt64(&t.total, 1)
	return t.counts[id]
}

func (t *accessTracker) reset(id objstore.ObjectID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, id)
}

// HybridStorage composes a hot in-memory tier, a cold durable tier
// (wrapped by a CachedStorage warm cache), and an access tracker deciding
// promotion. Every object reachable from any reference is always present
// in cold: hot and cache are pure performance tiers.
type HybridStorage struct {
	hot   *objstore.MemStore
	cold  objstore.Store
	cache *CachedStorage

	hotIDs  sync.Map // objstore.ObjectID -> struct{}
	hotSize int64    // count of entries currently in hot
	hotBytes int64

	tracker *accessTracker
	cfg     HybridConfig

	hotHits, hotMisses, promotions, demotions int64
}

// NewHybridStorage builds a hybrid store over cold, a durable backend.
func NewHybridStorage(cold objstore.Store, cfg HybridConfig) (*HybridStorage, error) {
	if cfg.HotMaxObjects <= 0 {
		cfg.HotMaxObjects = DefaultHybridConfig().HotMaxObjects
	}
	if cfg.PromoteThreshold == 0 {
		cfg.PromoteThreshold = DefaultHybridConfig().PromoteThreshold
	}
	cache, err := NewCachedStorage(cold, cfg.Cache)
	if err != nil {
		return nil, err
	}
	return &HybridStorage{
		hot:     objstore.NewMemStore(),
		cold:    cold,
		cache:   cache,
		tracker: newAccessTracker(),
		cfg:     cfg,
	}, nil
}

// WithDefaults builds a HybridStorage over cold using DefaultHybridConfig.
func WithDefaults(cold objstore.Store) (*HybridStorage, error) {
	return NewHybridStorage(cold, DefaultHybridConfig())
}

// Get probes hot first; on a cold hit it increments the access count and
// promotes to hot once the count reaches PromoteThreshold.
func (h *HybridStorage) Get(id objstore.ObjectID) (*objstore.GitObject, error) {
	if obj, err := h.hot.Get(id); err == nil {
		atomic.AddInt64(&h.hotHits, 1)
		return obj, nil
	}
	atomic.AddInt64(&h.hotMisses, 1)
	obj, err := h.cache.Get(id)
	if err != nil {
		return nil, err
	}
	if count := h.tracker.recordAccess(id); count >= h.cfg.PromoteThreshold {
		h.promote(obj)
	}
	return obj, nil
}

func (h *HybridStorage) promote(obj *objstore.GitObject) {
	for h.overHotCapacity(obj) {
		if !h.evictOneHot() {
			break
		}
	}
	if _, loaded := h.hotIDs.LoadOrStore(obj.ID, struct{}{}); !loaded {
		h.hot.Put(obj)
		atomic.AddInt64(&h.hotSize, 1)
		atomic.AddInt64(&h.hotBytes, int64(len(obj.Data)))
		atomic.AddInt64(&h.promotions, 1)
		h.tracker.reset(obj.ID)
	}
}

func (h *HybridStorage) overHotCapacity(obj *objstore.GitObject) bool {
	return atomic.LoadInt64(&h.hotSize) >= int64(h.cfg.HotMaxObjects) ||
		(h.cfg.HotMaxBytes > 0 && atomic.LoadInt64(&h.hotBytes)+int64(len(obj.Data)) > h.cfg.HotMaxBytes)
}

// evictOneHot demotes an arbitrary hot entry: the first ID that
// hotIDs.Range yields (the hot tier has no ordering metadata beyond the access
// tracker, which only tracks cold-side accesses).
func (h *HybridStorage) evictOneHot() bool {
	var victim objstore.ObjectID
	found := false
	h.hotIDs.Range(func(k, _ any) bool {
		victim = k.(objstore.ObjectID)
		found = true
		return false
	})
	if !found {
		return false
	}
	if obj, err := h.hot.Get(victim); err == nil {
		atomic.AddInt64(&h.hotBytes, -int64(len(obj.Data)))
	}
	h.hot.Delete(victim)
	h.hotIDs.Delete(victim)
	atomic.AddInt64(&h.hotSize, -1)
	atomic.AddInt64(&h.demotions, 1)
	return true
}

// Put writes to cold unconditionally (durability), and to hot if capacity
// allows.
func (h *HybridStorage) Put(obj *objstore.GitObject) (objstore.ObjectID, error) {
	if _, err := h.cache.Put(obj); err != nil {
		return "", err
	}
	if !h.overHotCapacity(obj) {
		if _, loaded := h.hotIDs.LoadOrStore(obj.ID, struct{}{}); !loaded {
			h.hot.Put(obj)
			atomic.AddInt64(&h.hotSize, 1)
			atomic.AddInt64(&h.hotBytes, int64(len(obj.Data)))
		}
	}
	return obj.ID, nil
}

// Contains reports membership in either tier.
func (h *HybridStorage) Contains(id objstore.ObjectID) bool {
	return h.hot.Contains(id) || h.cache.Contains(id)
}

// Delete purges id from hot, invalidates the cache, and deletes from
// cold.
func (h *HybridStorage) Delete(id objstore.ObjectID) bool {
	if h.hot.Delete(id) {
		h.hotIDs.Delete(id)
		atomic.AddInt64(&h.hotSize, -1)
	}
	return h.cache.Delete(id)
}

// Len reports the authoritative (cold) object count.
func (h *HybridStorage) Len() int { return h.cache.Len() }

// ListObjects delegates to cold.
func (h *HybridStorage) ListObjects() []objstore.ObjectID { return h.cache.ListObjects() }

// BatchGet fetches multiple IDs through Get.
func (h *HybridStorage) BatchGet(ids []objstore.ObjectID) []*objstore.GitObject {
	out := make([]*objstore.GitObject, len(ids))
	for i, id := range ids {
		if obj, err := h.Get(id); err == nil {
			out[i] = obj
		}
	}
	return out
}

// Flush delegates to cold.
func (h *HybridStorage) Flush() error { return h.cache.Flush() }

// Stats returns a snapshot of hot/cold traffic counters.
func (h *HybridStorage) Stats() HybridStats {
	return HybridStats{
		HotHits:    atomic.LoadInt64(&h.hotHits),
		HotMisses:  atomic.LoadInt64(&h.hotMisses),
		Promotions: atomic.LoadInt64(&h.promotions),
		Demotions:  atomic.LoadInt64(&h.demotions),
	}
}

var _ objstore.Store = (*HybridStorage)(nil)
