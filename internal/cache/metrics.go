package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "artifactd",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by tier",
		},
		[]string{"tier"},
	)

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "artifactd",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Lookups that missed both tiers",
	})

	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "artifactd",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted from the memory tier by reason",
		},
		[]string{"reason"},
	)

	corruptRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "artifactd",
		Subsystem: "cache",
		Name:      "corrupt_disk_records_total",
		Help:      "Disk records dropped after failing verification",
	})

	writeQueueDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "artifactd",
		Subsystem: "cache",
		Name:      "write_queue_drops_total",
		Help:      "Write-through jobs dropped because the queue was full",
	})

	residentBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "artifactd",
		Subsystem: "cache",
		Name:      "resident_bytes",
		Help:      "Total footprint of the in-memory tier",
	})

	diskTierBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "artifactd",
		Subsystem: "cache",
		Name:      "disk_bytes",
		Help:      "Total size of disk-tier records",
	})
)

func init() {
	prometheus.MustRegister(
		cacheHits, cacheMisses, cacheEvictions,
		corruptRecords, writeQueueDrops, residentBytes, diskTierBytes,
	)
}
