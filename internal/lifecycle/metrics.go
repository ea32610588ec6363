package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	loadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactd_loads_total",
		Help: "Completed load operations by outcome.",
	}, []string{"outcome"})

	inflightLoads = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "artifactd_loads_in_flight",
		Help: "Load operations currently materializing.",
	})
)

func init() {
	prometheus.MustRegister(loadsTotal, inflightLoads)
}
