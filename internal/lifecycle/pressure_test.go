package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"artifactd/internal/cache"
	"artifactd/internal/telemetry"
	"artifactd/pkg/types"
)

// fakeSystemReader is an injectable memory-used-percent source.
type fakeSystemReader struct {
	mu  sync.Mutex
	pct float64
}

func (r *fakeSystemReader) set(pct float64) {
	r.mu.Lock()
	r.pct = pct
	r.mu.Unlock()
}

func (r *fakeSystemReader) read() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pct, nil
}

func TestHardPressureEvictsLowReuseEntry(t *testing.T) {
	sys := &fakeSystemReader{pct: 30}
	samp := telemetry.New(telemetry.Config{
		Interval:    time.Hour, // driven manually via SampleNow
		SoftPercent: 70,
		HardPercent: 90,
		ReadSystem:  sys.read,
	}, zerolog.Nop())

	f := newFixture(t, fixtureOpts{
		strategy:    &cache.PressureAdaptive{},
		managerSoft: 150,
		sampler:     samp,
	})
	samp.SampleNow()

	// Build up reuse history: hot gets touched often, cold once.
	if _, err := f.m.Get(context.Background(), "summarizer", ""); err != nil {
		t.Fatalf("load summarizer: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := f.m.Get(context.Background(), "summarizer", ""); err != nil {
			t.Fatalf("touch summarizer: %v", err)
		}
	}
	if _, err := f.m.Get(context.Background(), "translator", ""); err != nil {
		t.Fatalf("load translator: %v", err)
	}

	// Both resident (200 bytes) against a 150-byte budget; nothing evicts
	// until pressure turns hard.
	st := f.m.Status()
	if len(st.Resident) != 2 {
		t.Fatalf("%d resident before pressure, want 2", len(st.Resident))
	}

	sys.set(95)
	samp.SampleNow()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st = f.m.Status()
		if len(st.Resident) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(st.Resident) != 1 {
		t.Fatalf("%d resident after hard pressure, want 1", len(st.Resident))
	}
	if st.Resident[0].ID != "summarizer" {
		t.Fatalf("survivor = %s, want the frequently used summarizer", st.Resident[0].ID)
	}
	if st.ResidentBytes > 150 {
		t.Fatalf("resident bytes %d still over budget", st.ResidentBytes)
	}
}

func TestSustainedHardPressureShedsBeforeLoad(t *testing.T) {
	// Pressure is hard from the very first sample and never transitions
	// again, so the subscription watcher gets no edge to act on. The
	// load path itself must shed residents before admitting new bytes.
	sys := &fakeSystemReader{pct: 95}
	samp := telemetry.New(telemetry.Config{
		Interval:    time.Hour,
		SoftPercent: 70,
		HardPercent: 90,
		ReadSystem:  sys.read,
	}, zerolog.Nop())
	f := newFixture(t, fixtureOpts{
		strategy:    &cache.PressureAdaptive{},
		managerSoft: 150,
		sampler:     samp,
	})
	samp.SampleNow()

	if _, err := f.m.Get(context.Background(), "summarizer", ""); err != nil {
		t.Fatalf("load summarizer: %v", err)
	}
	if st := f.m.Status(); len(st.Resident) != 1 {
		t.Fatalf("%d resident after first load, want 1", len(st.Resident))
	}

	if _, err := f.m.Get(context.Background(), "translator", ""); err != nil {
		t.Fatalf("load translator: %v", err)
	}
	st := f.m.Status()
	if len(st.Resident) != 1 || st.Resident[0].ID != "translator" {
		t.Fatalf("resident = %+v, want only the fresh translator", st.Resident)
	}
	if st.ResidentBytes > 150 {
		t.Fatalf("resident bytes %d over budget after shed", st.ResidentBytes)
	}

	var shed bool
	for _, name := range eventNames(f.pub) {
		if name == "pressure_evict" {
			shed = true
		}
	}
	if !shed {
		t.Fatal("no pressure_evict event published for the pre-load shed")
	}
}

func TestNormalPressureTransitionDoesNotEvict(t *testing.T) {
	sys := &fakeSystemReader{pct: 30}
	samp := telemetry.New(telemetry.Config{
		Interval:    time.Hour,
		SoftPercent: 70,
		HardPercent: 90,
		ReadSystem:  sys.read,
	}, zerolog.Nop())
	f := newFixture(t, fixtureOpts{
		strategy:    &cache.PressureAdaptive{},
		managerSoft: 150,
		sampler:     samp,
	})
	samp.SampleNow()

	for _, id := range []string{"summarizer", "translator"} {
		if _, err := f.m.Get(context.Background(), id, ""); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}

	// Soft pressure alone must not trigger eviction.
	sys.set(80)
	samp.SampleNow()
	time.Sleep(50 * time.Millisecond)
	if st := f.m.Status(); len(st.Resident) != 2 {
		t.Fatalf("%d resident after soft pressure, want 2", len(st.Resident))
	}
	if st := f.m.Status(); st.Pressure != types.PressureSoft {
		t.Fatalf("pressure = %s, want soft", st.Pressure)
	}
}
