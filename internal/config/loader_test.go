package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.yaml", `
addr: ":9090"
catalog_path: /etc/artifactd/catalog.yaml
memory_soft_limit_mb: 2048
memory_hard_limit_mb: 3072
hard_pressure_percent: 92.5
eviction_strategy: adaptive
max_body_kb: 256
cors_allowed_origins:
  - https://ops.example.com
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.MemorySoftLimitMB != 2048 || cfg.MemoryHardLimitMB != 3072 {
		t.Errorf("limits = %d/%d", cfg.MemorySoftLimitMB, cfg.MemoryHardLimitMB)
	}
	if cfg.HardPressurePercent != 92.5 {
		t.Errorf("HardPressurePercent = %v", cfg.HardPressurePercent)
	}
	if cfg.EvictionStrategy != "adaptive" {
		t.Errorf("EvictionStrategy = %q", cfg.EvictionStrategy)
	}
	if cfg.MaxBodyKB != 256 {
		t.Errorf("MaxBodyKB = %d", cfg.MaxBodyKB)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "https://ops.example.com" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_JSON(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.json", `{"addr":":8081","disk_cap_mb":512,"write_queue_depth":8}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.DiskCapMB != 512 || cfg.WriteQueueDepth != 8 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.toml", "addr = \":7070\"\ncache_dir = \"/var/cache/artifactd\"\naccel_high_mb = 8192\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.CacheDir != "/var/cache/artifactd" || cfg.AccelHighMB != 8192 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.ini", "addr=:1")
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}
