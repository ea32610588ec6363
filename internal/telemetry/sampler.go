// Package telemetry samples host memory on a fixed interval, classifies
// memory pressure, and publishes pressure-level transitions to
// subscribers. It mutates no cache or registry state; it only emits
// signals for the lifecycle layer to act on.
package telemetry

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"

	"artifactd/pkg/types"
)

const (
	defaultInterval = 5 * time.Second
	defaultRingSize = 120
)

// Config tunes the sampler. Zero fields take package defaults.
type Config struct {
	Interval    time.Duration
	SoftPercent float64
	HardPercent float64
	RingSize    int

	// ReadSystem returns the system memory used percentage. Defaults to
	// gopsutil; injectable for tests.
	ReadSystem func() (float64, error)
	// ReadAccelerator returns accelerator memory used percentage; ok is
	// false when no accelerator telemetry is available.
	ReadAccelerator func() (float64, bool)
}

// PressureTransition is published when the classified level changes.
type PressureTransition struct {
	From     types.PressureLevel
	To       types.PressureLevel
	Snapshot types.MemorySnapshot
}

// Sampler is the periodic memory telemetry source. Single writer (its own
// loop); all consumer methods are read-only.
type Sampler struct {
	cfg Config
	log zerolog.Logger

	mu     sync.RWMutex
	ring   []types.MemorySnapshot
	next   int
	filled int
	latest types.MemorySnapshot
	level  types.PressureLevel
	subs   map[int]chan PressureTransition
	subSeq int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
}

func New(cfg Config, log zerolog.Logger) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = defaultRingSize
	}
	if cfg.SoftPercent <= 0 {
		cfg.SoftPercent = 75
	}
	if cfg.HardPercent <= 0 {
		cfg.HardPercent = 90
	}
	if cfg.ReadSystem == nil {
		cfg.ReadSystem = readSystemPercent
	}
	return &Sampler{
		cfg:    cfg,
		log:    log,
		ring:   make([]types.MemorySnapshot, cfg.RingSize),
		level:  types.PressureNormal,
		subs:   make(map[int]chan PressureTransition),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func readSystemPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// Start launches the sampling loop. It samples once immediately so
// Latest is meaningful before the first tick.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.SampleNow()
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SampleNow()
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for it to exit. Idempotent. Sampling
// is never cancelled mid-run except through this path at shutdown.
func (s *Sampler) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })
	if started {
		<-s.doneCh
	}
}

// SampleNow takes one sample synchronously. Exposed so tests and the
// lifecycle layer can force a fresh reading.
func (s *Sampler) SampleNow() types.MemorySnapshot {
	snap := s.collect()
	s.mu.Lock()
	s.ring[s.next] = snap
	s.next = (s.next + 1) % len(s.ring)
	if s.filled < len(s.ring) {
		s.filled++
	}
	s.latest = snap
	prev := s.level
	s.level = snap.Level
	if prev != snap.Level {
		// Fanout stays under the lock so a concurrent cancel cannot close
		// a channel mid-send. Sends never block.
		t := PressureTransition{From: prev, To: snap.Level, Snapshot: snap}
		for _, ch := range s.subs {
			select {
			case ch <- t:
			default:
				// slow subscriber, drop rather than block the sampler
			}
		}
	}
	s.mu.Unlock()

	observeSnapshot(snap)
	if prev != snap.Level {
		s.log.Info().
			Str("from", string(prev)).
			Str("to", string(snap.Level)).
			Float64("system_used_percent", snap.SystemUsedPercent).
			Msg("memory pressure transition")
	}
	return snap
}

func (s *Sampler) collect() types.MemorySnapshot {
	snap := types.MemorySnapshot{Time: time.Now(), ProcessMB: processMB()}
	used, err := s.cfg.ReadSystem()
	if err != nil {
		// No signal is worse than a pessimistic one: classify as hard.
		s.log.Warn().Err(err).Msg("system memory read failed, assuming hard pressure")
		snap.Degraded = true
		snap.Level = types.PressureHard
		return snap
	}
	snap.SystemUsedPercent = used
	worst := used
	if s.cfg.ReadAccelerator != nil {
		if accel, ok := s.cfg.ReadAccelerator(); ok {
			snap.AcceleratorUsedPercent = accel
			if accel > worst {
				worst = accel
			}
		}
	}
	switch {
	case worst >= s.cfg.HardPercent:
		snap.Level = types.PressureHard
	case worst >= s.cfg.SoftPercent:
		snap.Level = types.PressureSoft
	default:
		snap.Level = types.PressureNormal
	}
	return snap
}

func processMB() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys / (1024 * 1024)
}

// Latest returns the most recent snapshot (zero value before Start).
func (s *Sampler) Latest() types.MemorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Recent returns up to n most recent snapshots, newest first.
func (s *Sampler) Recent(n int) []types.MemorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > s.filled {
		n = s.filled
	}
	out := make([]types.MemorySnapshot, 0, n)
	idx := s.next - 1
	for i := 0; i < n; i++ {
		if idx < 0 {
			idx += len(s.ring)
		}
		out = append(out, s.ring[idx])
		idx--
	}
	return out
}

// Subscribe registers for pressure-level transitions. The returned cancel
// func unregisters and closes the channel, terminating range loops over it.
func (s *Sampler) Subscribe(buffer int) (<-chan PressureTransition, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan PressureTransition, buffer)
	s.mu.Lock()
	id := s.subSeq
	s.subSeq++
	s.subs[id] = ch
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
}
