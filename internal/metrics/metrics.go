// Package metrics registers the prometheus collectors the compiler and
// bundle store report into (spec.md §4.16, added ambient component).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the collectors a single eztex process exposes. A
// fresh Registry is created per process (not a package-level singleton)
// so tests can assert on isolated counters.
type Registry struct {
	reg *prometheus.Registry

	CompileDuration *prometheus.HistogramVec
	CompilePasses   prometheus.Histogram
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	FetchBytes      prometheus.Counter
}

// New creates and registers all eztex collectors against a fresh
// registry, mirroring the prometheus wiring pattern used elsewhere in
// the corpus (client_golang's NewRegistry + MustRegister idiom).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		CompileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eztex_compile_duration_seconds",
			Help:    "Wall-clock duration of a compile, labeled by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		CompilePasses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eztex_compile_passes",
			Help:    "Number of engine passes a compile took to reach a fixed point.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eztex_cache_hits_total",
			Help: "Number of bundle resolutions served from the persistent cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eztex_cache_misses_total",
			Help: "Number of bundle resolutions that required a fetch.",
		}),
		FetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eztex_fetch_bytes_total",
			Help: "Total bytes fetched from the bundle over HTTP.",
		}),
	}

	reg.MustRegister(r.CompileDuration, r.CompilePasses, r.CacheHits, r.CacheMisses, r.FetchBytes)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for the status
// server's /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
