package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr"`
	CatalogPath string `json:"catalog_path" yaml:"catalog_path" toml:"catalog_path"`
	CacheDir    string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`

	// Memory-tier budgets.
	MemorySoftLimitMB int `json:"memory_soft_limit_mb" yaml:"memory_soft_limit_mb" toml:"memory_soft_limit_mb"`
	MemoryHardLimitMB int `json:"memory_hard_limit_mb" yaml:"memory_hard_limit_mb" toml:"memory_hard_limit_mb"`

	// Disk-tier cap; records are trimmed oldest-first to 80% of this.
	DiskCapMB int `json:"disk_cap_mb" yaml:"disk_cap_mb" toml:"disk_cap_mb"`

	// Eviction strategy: "lru" or "adaptive".
	EvictionStrategy string `json:"eviction_strategy" yaml:"eviction_strategy" toml:"eviction_strategy"`

	// Telemetry sampling and pressure thresholds (percent of system memory).
	TelemetryIntervalSec int     `json:"telemetry_interval_sec" yaml:"telemetry_interval_sec" toml:"telemetry_interval_sec"`
	SoftPressurePercent  float64 `json:"soft_pressure_percent" yaml:"soft_pressure_percent" toml:"soft_pressure_percent"`
	HardPressurePercent  float64 `json:"hard_pressure_percent" yaml:"hard_pressure_percent" toml:"hard_pressure_percent"`

	// Device classification thresholds.
	AccelHighMB   uint64 `json:"accel_high_mb" yaml:"accel_high_mb" toml:"accel_high_mb"`
	AccelMidMB    uint64 `json:"accel_mid_mb" yaml:"accel_mid_mb" toml:"accel_mid_mb"`
	AmpleMemoryMB uint64 `json:"ample_memory_mb" yaml:"ample_memory_mb" toml:"ample_memory_mb"`

	// Load behavior.
	LoadTimeoutSec  int `json:"load_timeout_sec" yaml:"load_timeout_sec" toml:"load_timeout_sec"`
	WriteQueueDepth int `json:"write_queue_depth" yaml:"write_queue_depth" toml:"write_queue_depth"`

	// Remote provider endpoint for remote/hybrid artifacts.
	RemoteEndpoint string `json:"remote_endpoint" yaml:"remote_endpoint" toml:"remote_endpoint"`

	// HTTP surface tuning. MaxBodyKB bounds JSON request bodies; an empty
	// origin list leaves CORS disabled.
	MaxBodyKB          int      `json:"max_body_kb" yaml:"max_body_kb" toml:"max_body_kb"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
