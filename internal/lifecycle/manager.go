package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"artifactd/internal/cache"
	"artifactd/internal/catalog"
	"artifactd/internal/loader"
	"artifactd/internal/provider"
	"artifactd/internal/registry"
	"artifactd/internal/telemetry"
	"artifactd/pkg/types"
)

type Manager struct {
	reg     *registry.Registry
	device  types.DeviceProfile
	cache   *cache.Tiered
	loader  *loader.Loader
	sampler *telemetry.Sampler

	softLimit    int64
	hardLimit    int64
	loadTimeout  time.Duration
	drainTimeout time.Duration
	publisher    EventPublisher
	log          zerolog.Logger
	startTime    time.Time

	mu       sync.Mutex
	inflight map[string]*inflightLoad
	usage    map[string]*usageStat
	closed   bool

	unsubscribe  func()
	pressureDone chan struct{}
}

// inflightLoad is one in-progress materialization. The first caller for
// an id performs the load; later callers block on done and share the
// outcome.
type inflightLoad struct {
	done    chan struct{}
	opID    string
	outcome LoadOutcome
	err     error
	// unloadWanted is set (under the manager lock) when an Unload gave up
	// waiting; the leader evicts its own admission after settling.
	unloadWanted bool
}

type usageStat struct {
	uses             uint64
	lastAccess       time.Time
	lastLoadDuration time.Duration
	lastVariant      types.Variant
	fallbackAttempts int
	lastOpID         string
}

// LoadOutcome is the result of Get: a live handle plus how it was
// obtained.
type LoadOutcome struct {
	Handle    types.Handle
	Variant   types.Variant
	SizeBytes int64
	// Fallbacks counts degradations below the requested variant, zero on
	// cache hits.
	Fallbacks int
	OpID      string
	FromCache bool
}

// Get returns a live handle for the artifact, loading it if necessary.
// preferred pins the starting variant; empty means resolve from the
// device profile. Concurrent calls for the same id trigger at most one
// materialization.
func (m *Manager) Get(ctx context.Context, id string, preferred types.Variant) (LoadOutcome, error) {
	desc, ok := m.reg.Get(id)
	if !ok {
		return LoadOutcome{}, provider.NotFound(id, "artifact")
	}
	start := preferred
	if start == "" {
		if start, ok = catalog.Resolve(desc, m.device); !ok {
			return LoadOutcome{}, provider.NotFound(id, "registered variants")
		}
	}

	for {
		if out, ok := m.cacheLookup(desc, start); ok {
			m.recordAccess(id, out.Variant)
			return out, nil
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return LoadOutcome{}, shuttingDownError{}
		}
		if fl := m.inflight[id]; fl != nil {
			m.mu.Unlock()
			select {
			case <-fl.done:
			case <-ctx.Done():
				return LoadOutcome{}, ctx.Err()
			}
			if fl.err != nil {
				return LoadOutcome{}, fl.err
			}
			// Prefer the cache so the shared entry's stats see this use;
			// fall back to the leader's outcome if it was already evicted.
			if out, ok := m.cacheLookup(desc, start); ok {
				m.recordAccess(id, out.Variant)
				return out, nil
			}
			m.recordAccess(id, fl.outcome.Variant)
			return fl.outcome, nil
		}
		fl := &inflightLoad{done: make(chan struct{}), opID: uuid.NewString()}
		m.inflight[id] = fl
		inflightLoads.Inc()
		m.mu.Unlock()

		out, err := m.materialize(ctx, desc, start, fl.opID)

		m.mu.Lock()
		fl.outcome, fl.err = out, err
		evictAfter := fl.unloadWanted
		delete(m.inflight, id)
		inflightLoads.Dec()
		m.mu.Unlock()
		close(fl.done)
		if evictAfter && err == nil {
			// An Unload gave up waiting on this load; honor it now so the
			// artifact does not end up resident after the unload returned.
			m.cache.Evict(id)
			m.log.Warn().Str("artifact", id).Msg("evicting load admitted past an unload")
		}
		return out, err
	}
}

// cacheLookup probes the cache along the fallback chain from start,
// skipping variants the descriptor does not carry. A memory-tier
// resident for the id matches on the first probe regardless of variant.
func (m *Manager) cacheLookup(desc types.ArtifactDescriptor, start types.Variant) (LoadOutcome, bool) {
	for _, v := range catalog.Chain(start) {
		if !desc.HasVariant(v) {
			continue
		}
		h, ok := m.cache.Get(cache.Key{ID: desc.ID, Variant: v, Provider: desc.Provider})
		if !ok {
			continue
		}
		return LoadOutcome{
			Handle:    h,
			Variant:   h.Variant(),
			SizeBytes: h.SizeBytes(),
			FromCache: true,
		}, true
	}
	return LoadOutcome{}, false
}

func (m *Manager) materialize(ctx context.Context, desc types.ArtifactDescriptor, start types.Variant, opID string) (LoadOutcome, error) {
	m.shedBeforeLoad(desc.ID)
	m.publisher.Publish(Event{Name: "load_start", ArtifactID: desc.ID, Fields: map[string]any{
		"variant": string(start), "op": opID,
	}})

	lctx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	defer cancel()
	res, err := m.loader.Load(lctx, desc, start)
	if err != nil {
		if lctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = loadTimeoutError{id: desc.ID}
		}
		loadsTotal.WithLabelValues("error").Inc()
		m.publisher.Publish(Event{Name: "load_error", ArtifactID: desc.ID, Fields: map[string]any{
			"error": err.Error(), "op": opID,
		}})
		m.log.Error().Str("artifact", desc.ID).Str("op", opID).Err(err).Msg("load failed")
		return LoadOutcome{}, err
	}

	key := cache.Key{ID: desc.ID, Variant: res.Variant, Provider: desc.Provider}
	m.cache.Put(key, res.Handle, desc.DiskTTL)
	m.recordLoad(desc.ID, res, opID)
	loadsTotal.WithLabelValues("ok").Inc()
	m.publisher.Publish(Event{Name: "load_ready", ArtifactID: desc.ID, Fields: map[string]any{
		"variant": string(res.Variant), "attempts": res.Attempts, "bytes": res.FootprintBytes, "op": opID,
	}})
	m.log.Info().
		Str("artifact", desc.ID).
		Str("variant", string(res.Variant)).
		Int("attempts", res.Attempts).
		Int64("bytes", res.FootprintBytes).
		Dur("took", res.Duration).
		Msg("artifact loaded")

	return LoadOutcome{
		Handle:    res.Handle,
		Variant:   res.Variant,
		SizeBytes: res.FootprintBytes,
		Fallbacks: res.Attempts - 1,
		OpID:      opID,
	}, nil
}

// Unload waits out any in-flight load for the id and evicts it from both
// cache tiers. Unloading a known but non-resident artifact is a no-op.
func (m *Manager) Unload(id string) error {
	if _, ok := m.reg.Get(id); !ok {
		return provider.NotFound(id, "artifact")
	}
	m.mu.Lock()
	fl := m.inflight[id]
	m.mu.Unlock()
	if fl != nil {
		select {
		case <-fl.done:
		case <-time.After(m.drainTimeout):
			// The leader will evict its own admission once it settles, so
			// the id cannot end up resident after this returns.
			m.mu.Lock()
			fl.unloadWanted = true
			m.mu.Unlock()
			m.publisher.Publish(Event{Name: "unload_timeout", ArtifactID: id, Fields: map[string]any{}})
			m.log.Warn().Str("artifact", id).Msg("unload proceeding past in-flight load")
		}
	}
	evicted := m.cache.Evict(id)
	m.publisher.Publish(Event{Name: "unload_done", ArtifactID: id, Fields: map[string]any{
		"was_resident": evicted,
	}})
	return nil
}

func (m *Manager) recordAccess(id string, v types.Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.usage[id]
	if u == nil {
		u = &usageStat{}
		m.usage[id] = u
	}
	u.uses++
	u.lastAccess = time.Now()
	if v != "" {
		u.lastVariant = v
	}
}

func (m *Manager) recordLoad(id string, res loader.Result, opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.usage[id]
	if u == nil {
		u = &usageStat{}
		m.usage[id] = u
	}
	u.uses++
	u.lastAccess = time.Now()
	u.lastLoadDuration = res.Duration
	u.lastVariant = res.Variant
	u.fallbackAttempts = res.Attempts - 1
	u.lastOpID = opID
}

// UsageReport snapshots per-artifact usage history. Entries persist
// across eviction; only a restart clears them.
func (m *Manager) UsageReport() types.UsageReport {
	m.mu.Lock()
	out := types.UsageReport{GeneratedAt: time.Now()}
	for id, u := range m.usage {
		out.Artifacts = append(out.Artifacts, types.ArtifactUsage{
			ID:               id,
			UsageCount:       u.uses,
			LastAccess:       u.lastAccess,
			LastLoadDuration: u.lastLoadDuration,
			LastVariant:      u.lastVariant,
			FallbackAttempts: u.fallbackAttempts,
			LastOpID:         u.lastOpID,
		})
	}
	m.mu.Unlock()
	for i := range out.Artifacts {
		out.Artifacts[i].Resident = m.cache.Resident(out.Artifacts[i].ID)
	}
	sort.Slice(out.Artifacts, func(i, j int) bool { return out.Artifacts[i].ID < out.Artifacts[j].ID })
	return out
}

func (m *Manager) Status() types.StatusResponse {
	m.mu.Lock()
	state := "ready"
	if m.closed {
		state = "draining"
	}
	inflight := len(m.inflight)
	m.mu.Unlock()

	var snap types.MemorySnapshot
	if m.sampler != nil {
		snap = m.sampler.Latest()
	}
	stats := m.cache.Stats()
	return types.StatusResponse{
		State:          state,
		Pressure:       snap.Level,
		Snapshot:       snap,
		Device:         m.device,
		SoftLimitBytes: m.softLimit,
		HardLimitBytes: m.hardLimit,
		ResidentBytes:  stats.ResidentBytes,
		Resident:       stats.Resident,
		DiskRecords:    stats.DiskRecords,
		DiskBytes:      stats.DiskBytes,
		LoadsInFlight:  inflight,
	}
}

// Ready reports whether the manager accepts loads.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// Device returns the host capability profile computed at startup.
func (m *Manager) Device() types.DeviceProfile { return m.device }

// List returns all registered artifact descriptors, sorted by id.
func (m *Manager) List() []types.ArtifactDescriptor { return m.reg.List() }

// ListByTask returns the descriptors for one task family, sorted by id.
func (m *Manager) ListByTask(family string) []types.ArtifactDescriptor {
	return m.reg.ListByTask(family)
}

// shedBeforeLoad frees resident entries before a load admits new bytes
// while the sampler reports hard pressure: least-valuable first, one per
// iteration against the live snapshot, until the level drops or nothing
// evictable remains.
func (m *Manager) shedBeforeLoad(id string) {
	if m.sampler == nil {
		return
	}
	var freed int64
	for m.sampler.Latest().Level == types.PressureHard {
		n := m.cache.EvictLeastValuable(1)
		if n <= 0 {
			break
		}
		freed += n
	}
	if freed == 0 {
		return
	}
	m.publisher.Publish(Event{Name: "pressure_evict", ArtifactID: id, Fields: map[string]any{
		"freed_bytes": freed, "trigger": "load",
	}})
	m.log.Warn().
		Str("artifact", id).
		Int64("freed_bytes", freed).
		Msg("hard pressure eviction before load")
}

// watchPressure evicts low-value residents when pressure transitions to
// hard, driving memory-tier usage back under the soft limit.
func (m *Manager) watchPressure(ch <-chan telemetry.PressureTransition) {
	defer close(m.pressureDone)
	for tr := range ch {
		if tr.To != types.PressureHard {
			continue
		}
		over := m.cache.UsedBytes() - m.softLimit
		if over <= 0 {
			continue
		}
		freed := m.cache.EvictLeastValuable(over)
		m.publisher.Publish(Event{Name: "pressure_evict", ArtifactID: "", Fields: map[string]any{
			"freed_bytes": freed, "target_bytes": over,
		}})
		m.log.Warn().
			Int64("freed_bytes", freed).
			Int64("target_bytes", over).
			Float64("system_used_percent", tr.Snapshot.SystemUsedPercent).
			Msg("hard pressure eviction")
	}
}

// Shutdown drains in-flight loads, stops pressure handling, and releases
// every resident handle. The manager rejects new loads from the first
// call on.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	waiting := make([]*inflightLoad, 0, len(m.inflight))
	for _, fl := range m.inflight {
		waiting = append(waiting, fl)
	}
	m.mu.Unlock()

	for _, fl := range waiting {
		select {
		case <-fl.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
		select {
		case <-m.pressureDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.unsubscribe = nil
	}
	for _, r := range m.cache.Stats().Resident {
		m.cache.Evict(r.ID)
	}
	m.cache.Close()
	m.log.Info().Dur("uptime", time.Since(m.startTime)).Msg("lifecycle manager stopped")
	return nil
}
