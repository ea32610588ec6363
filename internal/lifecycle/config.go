package lifecycle

import (
	"time"

	"github.com/rs/zerolog"

	"artifactd/internal/cache"
	"artifactd/internal/loader"
	"artifactd/internal/registry"
	"artifactd/internal/telemetry"
	"artifactd/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultLoadTimeout  = 2 * time.Minute
	defaultDrainTimeout = 10 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry *registry.Registry
	Device   types.DeviceProfile
	Cache    *cache.Tiered
	Loader   *loader.Loader
	Sampler  *telemetry.Sampler

	// SoftLimitBytes is the memory-tier budget pressure eviction drives
	// usage back under. HardLimitBytes is reported in status only; the
	// cache enforces it.
	SoftLimitBytes int64
	HardLimitBytes int64

	// LoadTimeout bounds a single load including its fallback walk.
	LoadTimeout time.Duration
	// DrainTimeout bounds how long Unload and Shutdown wait for in-flight
	// loads.
	DrainTimeout time.Duration

	Publisher EventPublisher
	Log       zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		reg:          cfg.Registry,
		device:       cfg.Device,
		cache:        cfg.Cache,
		loader:       cfg.Loader,
		sampler:      cfg.Sampler,
		softLimit:    cfg.SoftLimitBytes,
		hardLimit:    cfg.HardLimitBytes,
		loadTimeout:  cfg.LoadTimeout,
		drainTimeout: cfg.DrainTimeout,
		publisher:    cfg.Publisher,
		log:          cfg.Log,
		inflight:     make(map[string]*inflightLoad),
		usage:        make(map[string]*usageStat),
		startTime:    time.Now(),
	}
	if m.loadTimeout <= 0 {
		m.loadTimeout = defaultLoadTimeout
	}
	if m.drainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if m.sampler != nil {
		ch, cancel := m.sampler.Subscribe(8)
		m.unsubscribe = cancel
		m.pressureDone = make(chan struct{})
		go m.watchPressure(ch)
	}
	return m
}
