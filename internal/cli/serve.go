package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"artifactd/internal/cache"
	"artifactd/internal/config"
	"artifactd/internal/device"
	"artifactd/internal/httpapi"
	"artifactd/internal/lifecycle"
	"artifactd/internal/loader"
	"artifactd/internal/provider"
	"artifactd/internal/registry"
	"artifactd/internal/sealer"
	"artifactd/internal/telemetry"
	"artifactd/pkg/types"
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", envOr("ARTIFACTD_CONFIG", ""), "Config file (.yaml/.json/.toml)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveCatalog, "catalog", "", "Artifact catalog file (overrides config)")
	serveCmd.Flags().StringVar(&serveCacheDir, "cache-dir", "", "Disk cache directory, empty disables the disk tier")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveConfigPath string
	serveAddr       string
	serveCatalog    string
	serveCacheDir   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the artifactd HTTP server",
	RunE:  runServe,
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// applyDefaults fills unset config fields with production defaults.
func applyDefaults(cfg *config.Config) {
	if cfg.Addr == "" {
		cfg.Addr = envOr("ARTIFACTD_ADDR", ":8090")
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = envOr("ARTIFACTD_CATALOG", "artifacts.yaml")
	}
	if cfg.EvictionStrategy == "" {
		cfg.EvictionStrategy = "adaptive"
	}
	if cfg.TelemetryIntervalSec <= 0 {
		cfg.TelemetryIntervalSec = 5
	}
	if cfg.SoftPressurePercent <= 0 {
		cfg.SoftPressurePercent = 75
	}
	if cfg.HardPressurePercent <= 0 {
		cfg.HardPressurePercent = 90
	}
	if cfg.MemorySoftLimitMB <= 0 {
		cfg.MemorySoftLimitMB = 2048
	}
	if cfg.MemoryHardLimitMB <= 0 {
		cfg.MemoryHardLimitMB = cfg.MemorySoftLimitMB * 2
	}
	if cfg.DiskCapMB <= 0 {
		cfg.DiskCapMB = 8192
	}
	if cfg.LoadTimeoutSec <= 0 {
		cfg.LoadTimeoutSec = 120
	}
	if cfg.AccelHighMB == 0 {
		cfg.AccelHighMB = 8192
	}
	if cfg.AccelMidMB == 0 {
		cfg.AccelMidMB = 4096
	}
	if cfg.AmpleMemoryMB == 0 {
		cfg.AmpleMemoryMB = 16384
	}
}

// thresholds maps the config's classification cut points onto the
// profiler's.
func thresholds(cfg *config.Config) device.Thresholds {
	return device.Thresholds{
		AccelHighMB:   cfg.AccelHighMB,
		AccelMidMB:    cfg.AccelMidMB,
		AmpleMemoryMB: cfg.AmpleMemoryMB,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	var cfg config.Config
	if serveConfigPath != "" {
		var err error
		if cfg, err = config.Load(serveConfigPath); err != nil {
			return err
		}
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if serveCatalog != "" {
		cfg.CatalogPath = serveCatalog
	}
	if serveCacheDir != "" {
		cfg.CacheDir = serveCacheDir
	}
	applyDefaults(&cfg)

	profiler := device.New(thresholds(&cfg), log)
	profile := profiler.Detect()
	log.Info().
		Str("tier", string(profile.Tier)).
		Str("recommended", string(profile.Recommended)).
		Uint64("total_memory_mb", profile.TotalMemoryMB).
		Bool("accelerator", profile.HasAccelerator).
		Bool("deep_init", provider.RuntimeSupported()).
		Msg("device profiled")

	reg := registry.New()
	n, err := registry.LoadFile(reg, cfg.CatalogPath)
	if err != nil {
		return err
	}
	log.Info().Int("artifacts", n).Str("catalog", cfg.CatalogPath).Msg("catalog loaded")

	sampler := telemetry.New(telemetry.Config{
		Interval:    time.Duration(cfg.TelemetryIntervalSec) * time.Second,
		SoftPercent: cfg.SoftPressurePercent,
		HardPercent: cfg.HardPressurePercent,
	}, log)

	var diskCfg *cache.DiskConfig
	if cfg.CacheDir != "" {
		passphrase := os.Getenv("ARTIFACTD_CACHE_KEY")
		if passphrase == "" {
			host, _ := os.Hostname()
			passphrase = "artifactd:" + host
			log.Warn().Msg("ARTIFACTD_CACHE_KEY unset, deriving disk cache key from hostname")
		}
		diskCfg = &cache.DiskConfig{
			Dir:      cfg.CacheDir,
			CapBytes: int64(cfg.DiskCapMB) << 20,
			Sealer:   sealer.NewFromPassphrase(passphrase),
		}
	}
	tiered, err := cache.New(cache.Config{
		SoftLimitBytes:  int64(cfg.MemorySoftLimitMB) << 20,
		HardLimitBytes:  int64(cfg.MemoryHardLimitMB) << 20,
		Strategy:        cache.NewStrategy(cfg.EvictionStrategy),
		Snapshot:        sampler.Latest,
		Disk:            diskCfg,
		WriteQueueDepth: cfg.WriteQueueDepth,
		Log:             log,
	})
	if err != nil {
		return err
	}

	provOpts := provider.Options{
		AcceleratorMB: profile.AcceleratorMB,
		Endpoint:      cfg.RemoteEndpoint,
		Log:           log,
	}
	providers := make(map[types.ProviderKind]provider.ArtifactProvider)
	for _, kind := range []types.ProviderKind{types.ProviderLocal, types.ProviderRemote, types.ProviderHybrid} {
		p, err := provider.ForKind(kind, provOpts)
		if err != nil {
			// Remote/hybrid need an endpoint; without one only local loads.
			log.Debug().Str("kind", string(kind)).Err(err).Msg("provider kind unavailable")
			continue
		}
		providers[kind] = p
	}
	ld := loader.New(func(kind types.ProviderKind) (provider.ArtifactProvider, error) {
		if p, ok := providers[kind]; ok {
			return p, nil
		}
		return nil, provider.NotFound(string(kind), "provider")
	}, log)

	baseCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	sampler.Start(baseCtx)

	mgr := lifecycle.NewWithConfig(lifecycle.ManagerConfig{
		Registry:       reg,
		Device:         profile,
		Cache:          tiered,
		Loader:         ld,
		Sampler:        sampler,
		SoftLimitBytes: int64(cfg.MemorySoftLimitMB) << 20,
		HardLimitBytes: int64(cfg.MemoryHardLimitMB) << 20,
		LoadTimeout:    time.Duration(cfg.LoadTimeoutSec) * time.Second,
		Log:            log,
	})

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(baseCtx)
	if cfg.MaxBodyKB > 0 {
		httpapi.SetMaxBodyBytes(int64(cfg.MaxBodyKB) << 10)
	}
	if len(cfg.CORSAllowedOrigins) > 0 {
		httpapi.SetCORSOptions(true, cfg.CORSAllowedOrigins,
			[]string{http.MethodGet, http.MethodPost, http.MethodDelete},
			[]string{"Accept", "Content-Type"})
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(mgr)}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("artifactd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-baseCtx.Done():
	case err := <-errCh:
		return err
	}

	// Drain HTTP first so no new loads arrive, then the manager, then
	// telemetry.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("manager shutdown")
	}
	sampler.Stop()
	return nil
}
