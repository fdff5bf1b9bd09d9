package compat

import "github.com/prometheus/client_golang/prometheus"

var (
	lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compatscan_compat_lookups_total",
			Help: "Total number of compatibility lookups, by the source that resolved them.",
		},
		[]string{"source"},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "compatscan_compat_cache_hits_total",
			Help: "Total number of compatibility lookups answered from the resolver cache.",
		},
	)
)

func init() {
	prometheus.MustRegister(lookupsTotal)
	prometheus.MustRegister(cacheHitsTotal)

	for _, src := range []string{SourceStatic, SourceCompatData, SourceWebFeatures, SourceNone} {
		lookupsTotal.WithLabelValues(src)
	}
}
