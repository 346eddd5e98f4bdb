// Package metrics instruments the master's RPC handlers with Prometheus
// counters and gauges. Grounded on the teacher's own dependency on
// prometheus/client_golang (domains/platform/apis/prom_proxy uses its
// query-side api/prometheus/v1 package); this package uses the same
// module's instrumentation side, promauto/promhttp, since the master
// emits metrics rather than querying an external Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface master.Master calls into. A
// *Recorder built with New is always safe to use; master checks for nil
// and records nothing when no Recorder was attached with
// master.WithMetrics.
type Recorder struct {
	registry *prometheus.Registry

	getWeights      prometheus.Counter
	setWeights      prometheus.Counter
	updWeights      prometheus.Counter
	versionMismatch prometheus.Counter
	currentVersion  prometheus.Gauge
	weightsBytes    prometheus.Gauge
}

// New creates a Recorder with its own registry, so multiple masters in
// the same process (as in tests) never collide on metric names.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	return &Recorder{
		registry: reg,
		getWeights: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "training_master_get_weights_total",
			Help: "Total GetWeights requests handled.",
		}),
		setWeights: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "training_master_set_weights_total",
			Help: "Total completed SetWeights requests.",
		}),
		updWeights: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "training_master_upd_weights_total",
			Help: "Total completed UpdWeights requests.",
		}),
		versionMismatch: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "training_master_version_mismatch_total",
			Help: "Total SetWeights/UpdWeights requests rejected for a stale version.",
		}),
		currentVersion: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "training_master_current_version_ordinal",
			Help: "Monotonically increasing ordinal of the master's current weights version.",
		}),
		weightsBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "training_master_weights_bytes",
			Help: "Size in bytes of the master's current serialized weights buffer.",
		}),
	}
}

// Handler returns an http.Handler serving this Recorder's metrics in the
// Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveGetWeights()       { r.getWeights.Inc() }
func (r *Recorder) ObserveSetWeights()       { r.setWeights.Inc() }
func (r *Recorder) ObserveUpdWeights()       { r.updWeights.Inc() }
func (r *Recorder) ObserveVersionMismatch()  { r.versionMismatch.Inc() }

// ObserveVersionOrdinal records the current weights-version ordinal
// (the number of completed write RPCs so far, monotonically increasing).
func (r *Recorder) ObserveVersionOrdinal(ordinal int) { r.currentVersion.Set(float64(ordinal)) }

// ObserveWeightsSize records the current weights buffer's length.
func (r *Recorder) ObserveWeightsSize(n int) { r.weightsBytes.Set(float64(n)) }
