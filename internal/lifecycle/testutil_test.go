package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"artifactd/internal/cache"
	"artifactd/internal/loader"
	"artifactd/internal/provider"
	"artifactd/internal/registry"
	"artifactd/internal/telemetry"
	"artifactd/pkg/types"
)

// scriptedProvider serves fixed-size byte handles and can be told to
// reject variants or block until released.
type scriptedProvider struct {
	mu        sync.Mutex
	exhausted map[types.Variant]bool
	block     chan struct{}
	calls     int
	size      int
}

func (p *scriptedProvider) Kind() types.ProviderKind { return types.ProviderLocal }

func (p *scriptedProvider) Materialize(ctx context.Context, desc types.ArtifactDescriptor, v types.Variant) (types.Handle, error) {
	p.mu.Lock()
	p.calls++
	block := p.block
	exhausted := p.exhausted != nil && p.exhausted[v]
	size := p.size
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if exhausted {
		return nil, provider.ResourceExhausted(desc.ID, v, "insufficient memory")
	}
	if size <= 0 {
		size = 100
	}
	return provider.NewBytesHandle(desc.ID, v, make([]byte, size), nil), nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fixture struct {
	m    *Manager
	prov *scriptedProvider
	pub  *MemoryPublisher
	samp *telemetry.Sampler
}

type fixtureOpts struct {
	cacheSoftLimit int64
	strategy       cache.Strategy
	managerSoft    int64
	loadTimeout    time.Duration
	sampler        *telemetry.Sampler
}

func allVariantsDesc(id string) types.ArtifactDescriptor {
	d := types.ArtifactDescriptor{ID: id, Family: "textgen", Provider: types.ProviderLocal}
	for _, v := range []types.Variant{types.VariantFull, types.VariantReduced, types.VariantDistilled, types.VariantCompressed} {
		d.Variants = append(d.Variants, types.VariantSpec{Variant: v, Path: "/tmp/" + id + "-" + string(v) + ".bin"})
	}
	return d
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	reg := registry.New()
	for _, id := range []string{"summarizer", "translator"} {
		if !reg.Register(allVariantsDesc(id)) {
			t.Fatalf("register %s", id)
		}
	}
	prov := &scriptedProvider{}
	c, err := cache.New(cache.Config{
		SoftLimitBytes: opts.cacheSoftLimit,
		Strategy:       opts.strategy,
		Snapshot: func() types.MemorySnapshot {
			if opts.sampler != nil {
				return opts.sampler.Latest()
			}
			return types.MemorySnapshot{Level: types.PressureNormal}
		},
		Log: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	ld := loader.New(func(types.ProviderKind) (provider.ArtifactProvider, error) { return prov, nil }, zerolog.Nop())
	pub := NewMemoryPublisher()
	m := NewWithConfig(ManagerConfig{
		Registry:       reg,
		Device:         types.DeviceProfile{Tier: types.TierCPUHighMemory, Recommended: types.VariantFull},
		Cache:          c,
		Loader:         ld,
		Sampler:        opts.sampler,
		SoftLimitBytes: opts.managerSoft,
		LoadTimeout:    opts.loadTimeout,
		DrainTimeout:   200 * time.Millisecond,
		Publisher:      pub,
		Log:            zerolog.Nop(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return &fixture{m: m, prov: prov, pub: pub, samp: opts.sampler}
}

func eventNames(pub *MemoryPublisher) []string {
	evs := pub.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Name
	}
	return out
}
