// Package cache implements the two-tier artifact cache: a fast in-memory
// tier with pluggable eviction, backed by a slower encrypted disk tier
// with TTL and size-cap invalidation. The memory tier is the single
// source of truth for what is resident.
package cache

import (
	"container/list"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"artifactd/internal/provider"
	"artifactd/pkg/types"
)

// Key identifies a cached artifact variant. The disk key derived from it
// is stable across runs.
type Key struct {
	ID       string
	Variant  types.Variant
	Provider types.ProviderKind
}

func (k Key) diskKey() string { return DeriveKey(k.ID, k.Variant, k.Provider) }

// entry is a resident artifact. The handle's lifetime equals the entry's:
// the release routine runs when the entry leaves the tier, before the
// slot can be reused.
type entry struct {
	id         string
	variant    types.Variant
	handle     types.Handle
	size       int64
	ttl        time.Duration
	loadedAt   time.Time
	lastAccess time.Time
	uses       uint64
	elem       *list.Element
}

// Config tunes the tiered cache.
type Config struct {
	// SoftLimitBytes triggers strategy eviction on Put.
	SoftLimitBytes int64
	// HardLimitBytes is never knowingly exceeded; eviction happens before
	// admission, not after.
	HardLimitBytes int64
	Strategy       Strategy
	// Snapshot supplies live memory telemetry to the strategy.
	Snapshot func() types.MemorySnapshot
	// Disk enables the encrypted disk tier when non-nil.
	Disk            *DiskConfig
	WriteQueueDepth int
	Log             zerolog.Logger
}

type Tiered struct {
	cfg      Config
	strategy Strategy
	snapshot func() types.MemorySnapshot
	log      zerolog.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	lru       *list.List // front = most recently used
	usedBytes int64

	disk *diskTier
	wq   *writeQueue
}

func New(cfg Config) (*Tiered, error) {
	if cfg.HardLimitBytes > 0 && cfg.SoftLimitBytes > cfg.HardLimitBytes {
		return nil, fmt.Errorf("soft limit %d exceeds hard limit %d", cfg.SoftLimitBytes, cfg.HardLimitBytes)
	}
	t := &Tiered{
		cfg:      cfg,
		strategy: cfg.Strategy,
		snapshot: cfg.Snapshot,
		log:      cfg.Log,
		entries:  make(map[string]*entry),
		lru:      list.New(),
	}
	if t.strategy == nil {
		t.strategy = &LRU{}
	}
	if t.snapshot == nil {
		t.snapshot = func() types.MemorySnapshot { return types.MemorySnapshot{} }
	}
	if cfg.Disk != nil {
		d, err := newDiskTier(*cfg.Disk, cfg.Log)
		if err != nil {
			return nil, err
		}
		t.disk = d
		t.wq = newWriteQueue(cfg.WriteQueueDepth, d, cfg.Log)
	}
	return t, nil
}

// Get looks up an artifact: memory tier first (updating access stats on
// hit), then the disk tier, rehydrating a verified record into memory.
// Disk I/O runs without the memory-tier lock held.
func (t *Tiered) Get(key Key) (types.Handle, bool) {
	now := time.Now()
	t.mu.Lock()
	if e, ok := t.entries[key.ID]; ok {
		if e.expired(now) {
			t.removeLocked(e, "ttl")
			t.mu.Unlock()
			releaseQuietly(e.handle, t.log)
		} else {
			t.touchLocked(e, now)
			h := e.handle
			t.mu.Unlock()
			cacheHits.WithLabelValues("memory").Inc()
			return h, true
		}
	} else {
		t.mu.Unlock()
	}

	if t.disk == nil {
		cacheMisses.Inc()
		return nil, false
	}
	hdr, payload, err := t.disk.read(key.diskKey())
	if err != nil {
		cacheMisses.Inc()
		return nil, false
	}
	h := provider.NewBytesHandle(key.ID, hdr.Variant, payload, nil)
	remaining := time.Duration(0)
	if hdr.TTLSec > 0 {
		remaining = time.Duration(hdr.TTLSec)*time.Second - now.Sub(hdr.written())
		if remaining <= 0 {
			cacheMisses.Inc()
			return nil, false
		}
	}
	t.admit(key, h, remaining, false)
	cacheHits.WithLabelValues("disk").Inc()
	return h, true
}

// Put inserts a handle into the memory tier, evicting per strategy until
// the soft limit holds, and schedules best-effort encrypted write-through.
func (t *Tiered) Put(key Key, h types.Handle, ttl time.Duration) {
	t.admit(key, h, ttl, true)
}

func (t *Tiered) admit(key Key, h types.Handle, ttl time.Duration, writeThrough bool) {
	now := time.Now()
	size := h.SizeBytes()

	t.mu.Lock()
	// At most one resident entry per artifact id: replace, releasing the
	// old handle once outside the lock.
	var displaced types.Handle
	if old, ok := t.entries[key.ID]; ok && old.handle != h {
		t.removeLocked(old, "replaced")
		displaced = old.handle
	}
	e := &entry{
		id:         key.ID,
		variant:    h.Variant(),
		handle:     h,
		size:       size,
		ttl:        ttl,
		loadedAt:   now,
		lastAccess: now,
		uses:       1,
	}
	e.elem = t.lru.PushFront(e)
	t.entries[key.ID] = e
	t.usedBytes += size
	evicted := t.evictOverLimitLocked(t.cfg.SoftLimitBytes, e)
	evicted = append(evicted, t.evictToHardLocked(e)...)
	residentBytes.Set(float64(t.usedBytes))
	t.mu.Unlock()

	if displaced != nil {
		releaseQuietly(displaced, t.log)
	}
	for _, victim := range evicted {
		releaseQuietly(victim, t.log)
	}

	if writeThrough && ttl > 0 && t.wq != nil {
		if payload, ok := h.Payload(); ok {
			// Copy: the handle may be released while the job is queued.
			buf := make([]byte, len(payload))
			copy(buf, payload)
			t.wq.enqueue(writeJob{
				key:        key.diskKey(),
				artifactID: key.ID,
				variant:    h.Variant(),
				kind:       key.Provider,
				ttl:        ttl,
				payload:    buf,
			})
		}
	}
}

// evictOverLimitLocked applies the strategy until usedBytes fits limit or
// only keep remains. Returns the displaced handles for release by the
// caller, outside the lock.
func (t *Tiered) evictOverLimitLocked(limit int64, keep *entry) []types.Handle {
	if limit <= 0 {
		return nil
	}
	var out []types.Handle
	for t.usedBytes > limit && len(t.entries) > 0 {
		if len(t.entries) == 1 && keep != nil && t.entries[keep.id] == keep {
			break
		}
		id, ok := t.strategy.Candidate(t.statsLocked(keep), t.snapshot(), time.Now())
		if !ok {
			break
		}
		e := t.entries[id]
		if e == nil {
			break
		}
		t.removeLocked(e, "pressure")
		out = append(out, e.handle)
	}
	return out
}

// evictToHardLocked enforces the hard limit unconditionally: the tier
// footprint must not exceed it even when no soft limit is configured or
// the strategy yields no candidate, in which case the LRU tail goes.
func (t *Tiered) evictToHardLocked(keep *entry) []types.Handle {
	limit := t.cfg.HardLimitBytes
	if limit <= 0 {
		return nil
	}
	var out []types.Handle
	for t.usedBytes > limit && len(t.entries) > 0 {
		if len(t.entries) == 1 && keep != nil && t.entries[keep.id] == keep {
			break
		}
		var victim *entry
		if id, ok := t.strategy.Candidate(t.statsLocked(keep), t.snapshot(), time.Now()); ok {
			victim = t.entries[id]
		}
		if victim == nil {
			for el := t.lru.Back(); el != nil; el = el.Prev() {
				if e := el.Value.(*entry); e != keep {
					victim = e
					break
				}
			}
		}
		if victim == nil {
			break
		}
		t.removeLocked(victim, "pressure")
		out = append(out, victim.handle)
	}
	return out
}

// statsLocked builds the strategy view, excluding the entry being
// admitted so a fresh insert cannot be chosen by its own admission check.
func (t *Tiered) statsLocked(exclude *entry) []EntryStat {
	out := make([]EntryStat, 0, len(t.entries))
	for _, e := range t.entries {
		if e == exclude {
			continue
		}
		out = append(out, EntryStat{
			ID:         e.id,
			Variant:    e.variant,
			Size:       e.size,
			LoadedAt:   e.loadedAt,
			LastAccess: e.lastAccess,
			Uses:       e.uses,
			TTL:        e.ttl,
		})
	}
	return out
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.loadedAt) > e.ttl
}

func (t *Tiered) touchLocked(e *entry, now time.Time) {
	e.lastAccess = now
	e.uses++
	t.lru.MoveToFront(e.elem)
}

func (t *Tiered) removeLocked(e *entry, reason string) {
	delete(t.entries, e.id)
	t.lru.Remove(e.elem)
	t.usedBytes -= e.size
	residentBytes.Set(float64(t.usedBytes))
	cacheEvictions.WithLabelValues(reason).Inc()
}

// Evict removes an artifact from both tiers and runs the handle's release
// routine. This is the only path that frees a resident entry's resources.
func (t *Tiered) Evict(id string) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		t.removeLocked(e, "explicit")
	}
	t.mu.Unlock()
	if ok {
		releaseQuietly(e.handle, t.log)
	}
	if t.disk != nil {
		t.disk.removeByArtifact(id)
	}
	return ok
}

// EvictLeastValuable evicts strategy-selected candidates until at least
// target bytes are freed or the memory tier is empty. Each iteration
// consults the current telemetry snapshot. Returns bytes actually freed.
func (t *Tiered) EvictLeastValuable(target int64) int64 {
	var freed int64
	for freed < target {
		t.mu.Lock()
		if len(t.entries) == 0 {
			t.mu.Unlock()
			break
		}
		id, ok := t.strategy.Candidate(t.statsLocked(nil), t.snapshot(), time.Now())
		if !ok {
			t.mu.Unlock()
			break
		}
		e := t.entries[id]
		if e == nil {
			t.mu.Unlock()
			break
		}
		t.removeLocked(e, "pressure")
		t.mu.Unlock()
		releaseQuietly(e.handle, t.log)
		freed += e.size
	}
	return freed
}

// SweepExpired evicts TTL-expired entries from both tiers.
func (t *Tiered) SweepExpired() int {
	now := time.Now()
	t.mu.Lock()
	var victims []*entry
	for _, e := range t.entries {
		if e.expired(now) {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		t.removeLocked(e, "ttl")
	}
	t.mu.Unlock()
	for _, e := range victims {
		releaseQuietly(e.handle, t.log)
	}
	if t.disk != nil {
		t.disk.sweepExpired(now)
	}
	return len(victims)
}

// Stats reports both tiers for status endpoints.
type Stats struct {
	ResidentBytes int64
	Resident      []types.ResidentStatus
	DiskRecords   int
	DiskBytes     int64
}

func (t *Tiered) Stats() Stats {
	t.mu.Lock()
	s := Stats{ResidentBytes: t.usedBytes}
	for _, e := range t.entries {
		s.Resident = append(s.Resident, types.ResidentStatus{
			ID:         e.id,
			Variant:    e.variant,
			SizeBytes:  e.size,
			LoadedAt:   e.loadedAt,
			LastAccess: e.lastAccess,
			UsageCount: e.uses,
		})
	}
	t.mu.Unlock()
	sort.Slice(s.Resident, func(i, j int) bool { return s.Resident[i].ID < s.Resident[j].ID })
	if t.disk != nil {
		s.DiskRecords, s.DiskBytes = t.disk.stats()
	}
	return s
}

// Resident reports whether id is in the memory tier without bumping its
// access stats.
func (t *Tiered) Resident(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// UsedBytes returns the current memory-tier footprint.
func (t *Tiered) UsedBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usedBytes
}

// Close drains the write-through queue. Resident entries stay; the
// lifecycle layer owns their release order at shutdown.
func (t *Tiered) Close() {
	if t.wq != nil {
		t.wq.close()
	}
}

func releaseQuietly(h types.Handle, log zerolog.Logger) {
	if h == nil {
		return
	}
	if err := h.Release(); err != nil {
		log.Warn().Str("artifact", h.ArtifactID()).Err(err).Msg("handle release failed")
	}
}
