package types

import "time"

// Variant identifies a resource/quality tradeoff of an artifact.
type Variant string

const (
	// VariantFull is the original, full-fidelity artifact.
	VariantFull Variant = "full"
	// VariantReduced is the reduced-precision (int8) build.
	VariantReduced Variant = "reduced"
	// VariantDistilled is the distilled lightweight build.
	VariantDistilled Variant = "distilled"
	// VariantCompressed is the most aggressive compression (int4).
	// It is the terminal point of every fallback chain.
	VariantCompressed Variant = "compressed"
)

// ProviderKind selects how an artifact is materialized.
type ProviderKind string

const (
	ProviderLocal  ProviderKind = "local"
	ProviderRemote ProviderKind = "remote"
	ProviderHybrid ProviderKind = "hybrid"
)

// VariantSpec describes one concrete variant of an artifact and its
// resource requirements.
type VariantSpec struct {
	// Variant name, one of the known Variant constants.
	Variant Variant `json:"variant" yaml:"variant" toml:"variant"`
	// Path to the variant's payload on disk (local/hybrid providers).
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	// MinMemoryMB is the minimum host memory required to hold the variant.
	MinMemoryMB int `json:"min_memory_mb,omitempty" yaml:"min_memory_mb,omitempty" toml:"min_memory_mb,omitempty"`
	// MinAcceleratorMB is the minimum accelerator memory, 0 if not needed.
	MinAcceleratorMB int `json:"min_accelerator_mb,omitempty" yaml:"min_accelerator_mb,omitempty" toml:"min_accelerator_mb,omitempty"`
}

// ArtifactDescriptor is the immutable registration record for an artifact.
// It carries no handle to the materialized artifact itself.
type ArtifactDescriptor struct {
	// Stable identifier, e.g. "summarizer".
	ID string `json:"id" yaml:"id" toml:"id"`
	// Family is the task family tag, e.g. "textgen", "translation".
	Family string `json:"family" yaml:"family" toml:"family"`
	// Provider selects the materialization backend.
	Provider ProviderKind `json:"provider" yaml:"provider" toml:"provider"`
	// Variants available for this artifact, heaviest first.
	Variants []VariantSpec `json:"variants" yaml:"variants" toml:"variants"`
	// DiskTTL bounds the disk-tier lifetime of cached payloads.
	// Zero disables write-through for this artifact.
	DiskTTL time.Duration `json:"disk_ttl,omitempty" yaml:"disk_ttl,omitempty" toml:"disk_ttl,omitempty"`
}

// VariantSpec returns the spec for v, if the descriptor carries it.
func (d ArtifactDescriptor) VariantSpec(v Variant) (VariantSpec, bool) {
	for _, vs := range d.Variants {
		if vs.Variant == v {
			return vs, true
		}
	}
	return VariantSpec{}, false
}

// HasVariant reports whether v is one of the descriptor's variants.
func (d ArtifactDescriptor) HasVariant(v Variant) bool {
	_, ok := d.VariantSpec(v)
	return ok
}

// CapabilityTier classifies a host's ability to run heavy artifacts.
type CapabilityTier string

const (
	TierCPULowMemory  CapabilityTier = "cpu-low-mem"
	TierCPUHighMemory CapabilityTier = "cpu-high-mem"
	TierAccelSmall    CapabilityTier = "accel-small"
	TierAccelLarge    CapabilityTier = "accel-large"
)

// DeviceProfile is the one-shot host capability classification. It is
// computed once at startup and shared read-only.
type DeviceProfile struct {
	TotalMemoryMB     uint64         `json:"total_memory_mb"`
	AvailableMemoryMB uint64         `json:"available_memory_mb"`
	CPUCores          int            `json:"cpu_cores"`
	HasAccelerator    bool           `json:"has_accelerator"`
	AcceleratorName   string         `json:"accelerator_name,omitempty"`
	AcceleratorMB     uint64         `json:"accelerator_mb,omitempty"`
	Tier              CapabilityTier `json:"tier"`
	Recommended       Variant        `json:"recommended_variant"`
	// Recommendations are human-readable tuning hints for this host.
	Recommendations []string `json:"recommendations,omitempty"`
}

// PressureLevel is the current memory-scarcity classification.
type PressureLevel string

const (
	PressureNormal PressureLevel = "normal"
	PressureSoft   PressureLevel = "soft"
	PressureHard   PressureLevel = "hard"
)

// MemorySnapshot is a point-in-time view of host memory.
type MemorySnapshot struct {
	Time                   time.Time     `json:"time"`
	ProcessMB              uint64        `json:"process_mb"`
	SystemUsedPercent      float64       `json:"system_used_percent"`
	AcceleratorUsedPercent float64       `json:"accelerator_used_percent,omitempty"`
	Level                  PressureLevel `json:"level"`
	// Degraded marks a snapshot built after a telemetry read failure;
	// such snapshots classify as hard pressure.
	Degraded bool `json:"degraded,omitempty"`
}

// Handle is an opaque reference to a materialized artifact. Its lifetime
// equals the lifetime of the cache entry holding it; Release frees the
// underlying resources and must be idempotent.
type Handle interface {
	ArtifactID() string
	Variant() Variant
	// SizeBytes is the measured or estimated memory footprint.
	SizeBytes() int64
	// Payload returns the serializable artifact bytes for disk-tier
	// write-through. ok is false when the handle is not persistable
	// (e.g. a remote API client).
	Payload() (data []byte, ok bool)
	Release() error
}
