package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Admissions       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vies_admissions_total", Help: "Validation requests admitted, by mode"}, []string{"mode"})
	CacheLookups     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vies_cache_lookups_total", Help: "Cache lookups at admission, by outcome (fresh, stale, miss, skipped, error)"}, []string{"outcome"})
	UpstreamCalls    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vies_upstream_calls_total", Help: "Upstream checkVat calls, by result code"}, []string{"code"})
	Resolutions      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vies_resolutions_total", Help: "Resolved jobs, by mode and how they ended"}, []string{"mode", "outcome"})
	SyncTimeouts     = prometheus.NewCounter(prometheus.CounterOpts{Name: "vies_sync_timeouts_total", Help: "Sync jobs resolved by the expiry sweep"})
	RateLimitWaits   = prometheus.NewCounter(prometheus.CounterOpts{Name: "vies_upstream_rate_limit_waits_total", Help: "Attempts deferred by the upstream token bucket"})
	Callbacks        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vies_callbacks_total", Help: "Callback deliveries, by outcome (delivered, abandoned)"}, []string{"outcome"})
	CallbackAttempts = prometheus.NewCounter(prometheus.CounterOpts{Name: "vies_callback_attempts_total", Help: "Individual callback POST attempts"})
	QueueDepthGauge  = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "vies_queue_depth", Help: "Pending jobs per priority class"}, []string{"mode"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "vies_upstream_inflight", Help: "Upstream calls currently outstanding (0 or 1)"})
)

// Register adds the collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			Admissions,
			CacheLookups,
			UpstreamCalls,
			Resolutions,
			SyncTimeouts,
			RateLimitWaits,
			Callbacks,
			CallbackAttempts,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
