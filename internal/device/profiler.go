// Package device performs one-shot detection of host capability and
// classifies it into a tier with a recommended artifact variant.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"artifactd/pkg/types"
)

// Thresholds are the classification cut points. They come from
// configuration, never hardcoded at call sites.
type Thresholds struct {
	// AccelHighMB: accelerator capacity at or above this maps to the
	// large-accelerator tier (full-fidelity variants).
	AccelHighMB uint64
	// AccelMidMB: capacity at or above this (but below high) maps to the
	// small-accelerator tier (reduced-precision variants).
	AccelMidMB uint64
	// AmpleMemoryMB: system memory at or above this counts as ample for
	// accelerator-less hosts.
	AmpleMemoryMB uint64
}

// AcceleratorInfo is the raw accelerator reading consumed by Detect.
type AcceleratorInfo struct {
	Present    bool
	Name       string
	CapacityMB uint64
}

// Profiler detects the host profile. The accelerator probe is injectable;
// the default reads ARTIFACTD_ACCEL_MB or sysfs.
type Profiler struct {
	Thresholds Thresholds
	Probe      func() (AcceleratorInfo, error)
	Log        zerolog.Logger
}

// New returns a Profiler with the default accelerator probe.
func New(th Thresholds, log zerolog.Logger) *Profiler {
	return &Profiler{Thresholds: th, Probe: probeAccelerator, Log: log}
}

// Detect reads host telemetry once and classifies the device. It never
// fails: on a telemetry read error it returns the most conservative
// profile (no accelerator, low memory, most-compressed variant).
func (p *Profiler) Detect() types.DeviceProfile {
	vm, err := mem.VirtualMemory()
	if err != nil {
		p.Log.Warn().Err(err).Msg("memory read failed, assuming most conservative profile")
		return conservativeProfile()
	}
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = 1
	}

	profile := types.DeviceProfile{
		TotalMemoryMB:     vm.Total / (1024 * 1024),
		AvailableMemoryMB: vm.Available / (1024 * 1024),
		CPUCores:          cores,
	}

	accel := AcceleratorInfo{}
	if p.Probe != nil {
		if a, aerr := p.Probe(); aerr == nil {
			accel = a
		} else {
			p.Log.Debug().Err(aerr).Msg("accelerator probe failed, treating as absent")
		}
	}
	profile.HasAccelerator = accel.Present
	profile.AcceleratorName = accel.Name
	profile.AcceleratorMB = accel.CapacityMB

	switch {
	case accel.Present && accel.CapacityMB >= p.Thresholds.AccelHighMB:
		profile.Tier = types.TierAccelLarge
		profile.Recommended = types.VariantFull
	case accel.Present && accel.CapacityMB >= p.Thresholds.AccelMidMB:
		profile.Tier = types.TierAccelSmall
		profile.Recommended = types.VariantReduced
	case accel.Present:
		profile.Tier = types.TierAccelSmall
		profile.Recommended = types.VariantDistilled
	case profile.TotalMemoryMB >= p.Thresholds.AmpleMemoryMB:
		profile.Tier = types.TierCPUHighMemory
		profile.Recommended = types.VariantDistilled
	default:
		profile.Tier = types.TierCPULowMemory
		profile.Recommended = types.VariantCompressed
	}
	profile.Recommendations = recommendations(profile)

	p.Log.Info().
		Str("tier", string(profile.Tier)).
		Str("recommended", string(profile.Recommended)).
		Uint64("total_mb", profile.TotalMemoryMB).
		Uint64("accel_mb", profile.AcceleratorMB).
		Msg("device profile detected")
	return profile
}

func conservativeProfile() types.DeviceProfile {
	p := types.DeviceProfile{
		CPUCores:    1,
		Tier:        types.TierCPULowMemory,
		Recommended: types.VariantCompressed,
	}
	p.Recommendations = recommendations(p)
	return p
}

// recommendations produces operator-facing tuning hints for the profile.
func recommendations(p types.DeviceProfile) []string {
	var out []string
	switch p.Tier {
	case types.TierCPULowMemory:
		out = append(out,
			"CPU-only host with scarce memory: expect significant slowdown on heavy artifacts",
			"use compressed variants for all task families",
			"limit concurrent resident artifacts to one or two")
	case types.TierCPUHighMemory:
		out = append(out,
			"CPU-only host: distilled variants recommended",
			"close memory-heavy applications before loading large artifacts")
	case types.TierAccelSmall:
		out = append(out,
			fmt.Sprintf("small accelerator (%d MB): reduced-precision or distilled variants recommended", p.AcceleratorMB),
			"limit concurrent resident artifacts to two")
	case types.TierAccelLarge:
		out = append(out, "large accelerator detected: full-fidelity variants are viable")
	}
	if p.AvailableMemoryMB > 0 && p.AvailableMemoryMB < 4096 {
		out = append(out, "less than 4 GB of memory available: enable aggressive eviction")
	}
	return out
}

// probeAccelerator reads accelerator capacity from the environment or from
// sysfs VRAM counters. Hosts without either report no accelerator.
func probeAccelerator() (AcceleratorInfo, error) {
	if v := os.Getenv("ARTIFACTD_ACCEL_MB"); v != "" {
		mb, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return AcceleratorInfo{}, fmt.Errorf("parse ARTIFACTD_ACCEL_MB: %w", err)
		}
		if mb == 0 {
			return AcceleratorInfo{}, nil
		}
		return AcceleratorInfo{Present: true, Name: "env-override", CapacityMB: mb}, nil
	}
	matches, err := filepath.Glob("/sys/class/drm/card*/device/mem_info_vram_total")
	if err != nil || len(matches) == 0 {
		return AcceleratorInfo{}, nil
	}
	var best uint64
	var name string
	for _, m := range matches {
		b, rerr := os.ReadFile(m)
		if rerr != nil {
			continue
		}
		n, perr := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
		if perr != nil {
			continue
		}
		if mb := n / (1024 * 1024); mb > best {
			best = mb
			name = filepath.Base(filepath.Dir(filepath.Dir(m)))
		}
	}
	if best == 0 {
		return AcceleratorInfo{}, nil
	}
	return AcceleratorInfo{Present: true, Name: name, CapacityMB: best}, nil
}
