package loader

import (
	"github.com/prometheus/client_golang/prometheus"
)

var loadAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "artifactd_load_attempts",
	Help:    "Materialization attempts per successful load, including the final one.",
	Buckets: []float64{1, 2, 3, 4},
})

func init() {
	prometheus.MustRegister(loadAttempts)
}
