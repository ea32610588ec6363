package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"artifactd/pkg/types"
)

var (
	systemUsedPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "artifactd",
		Subsystem: "telemetry",
		Name:      "system_memory_used_percent",
		Help:      "System memory used percentage from the last sample",
	})

	processMemMB = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "artifactd",
		Subsystem: "telemetry",
		Name:      "process_memory_mb",
		Help:      "Process memory in MB from the last sample",
	})

	pressureLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "artifactd",
		Subsystem: "telemetry",
		Name:      "pressure_level",
		Help:      "Classified memory pressure: 0=normal 1=soft 2=hard",
	})

	degradedSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "artifactd",
		Subsystem: "telemetry",
		Name:      "degraded_samples_total",
		Help:      "Samples taken after a telemetry read failure",
	})
)

func init() {
	prometheus.MustRegister(systemUsedPercent, processMemMB, pressureLevel, degradedSamples)
}

func observeSnapshot(snap types.MemorySnapshot) {
	systemUsedPercent.Set(snap.SystemUsedPercent)
	processMemMB.Set(float64(snap.ProcessMB))
	switch snap.Level {
	case types.PressureSoft:
		pressureLevel.Set(1)
	case types.PressureHard:
		pressureLevel.Set(2)
	default:
		pressureLevel.Set(0)
	}
	if snap.Degraded {
		degradedSamples.Inc()
	}
}
