package types

import "time"

// ResidentStatus describes one entry of the in-memory cache tier.
type ResidentStatus struct {
	ID         string    `json:"id"`
	Variant    Variant   `json:"variant"`
	SizeBytes  int64     `json:"size_bytes"`
	LoadedAt   time.Time `json:"loaded_at"`
	LastAccess time.Time `json:"last_access"`
	UsageCount uint64    `json:"usage_count"`
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	State          string           `json:"state"`
	Pressure       PressureLevel    `json:"pressure"`
	Snapshot       MemorySnapshot   `json:"snapshot"`
	Device         DeviceProfile    `json:"device"`
	SoftLimitBytes int64            `json:"soft_limit_bytes"`
	HardLimitBytes int64            `json:"hard_limit_bytes"`
	ResidentBytes  int64            `json:"resident_bytes"`
	Resident       []ResidentStatus `json:"resident"`
	DiskRecords    int              `json:"disk_records"`
	DiskBytes      int64            `json:"disk_bytes"`
	LoadsInFlight  int              `json:"loads_in_flight"`
	Error          string           `json:"error,omitempty"`
}

// ArtifactUsage is the per-id slice of the usage report. It describes
// the id's history, not a live cache entry, so it survives eviction.
type ArtifactUsage struct {
	ID               string        `json:"id"`
	UsageCount       uint64        `json:"usage_count"`
	LastAccess       time.Time     `json:"last_access"`
	LastLoadDuration time.Duration `json:"last_load_duration"`
	LastVariant      Variant       `json:"last_variant,omitempty"`
	FallbackAttempts int           `json:"fallback_attempts"`
	LastOpID         string        `json:"last_op_id,omitempty"`
	Resident         bool          `json:"resident"`
}

// UsageReport is a read-only snapshot of per-artifact usage statistics
// for external observability collaborators.
type UsageReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Artifacts   []ArtifactUsage `json:"artifacts"`
}

// LoadResponse is returned by the load endpoint.
type LoadResponse struct {
	ID        string  `json:"id"`
	Variant   Variant `json:"variant"`
	SizeBytes int64   `json:"size_bytes"`
	Fallbacks int     `json:"fallbacks"`
	FromCache bool    `json:"from_cache"`
	OpID      string  `json:"op_id,omitempty"`
}

// LoadRequest optionally pins a starting variant for a load.
type LoadRequest struct {
	Variant Variant `json:"variant,omitempty"`
}

// ErrorResponse is the uniform JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
