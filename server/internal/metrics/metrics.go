package metrics

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Persist outcomes.
const (
	PersistWritten   = "written"
	PersistUnchanged = "unchanged"
	PersistFailed    = "failed"
)

// Recorder owns a private registry and the store collectors.
type Recorder struct {
	reg *prometheus.Registry

	tagOps      *prometheus.CounterVec
	persists    *prometheus.CounterVec
	heartbeats  *prometheus.CounterVec
	recoveries  prometheus.Counter
	repairs     prometheus.Counter
	photosTotal prometheus.Gauge
}

// New creates a Recorder. When withRuntime is set, Go runtime and process
// collectors are registered too.
func New(withRuntime bool) *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		tagOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zita_tag_operations_total",
			Help: "Tag operations by resulting tagged-count delta.",
		}, []string{"delta"}),
		persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zita_store_persist_total",
			Help: "Persist calls by backend and outcome.",
		}, []string{"backend", "result"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zita_presence_heartbeats_total",
			Help: "Tagger presence heartbeats, split by new or refreshed entry.",
		}, []string{"created"}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zita_store_malformed_recoveries_total",
			Help: "Times persisted content failed to parse and the store started empty.",
		}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zita_store_count_repairs_total",
			Help: "Tagged-count aggregates rewritten by a recompute pass.",
		}),
		photosTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zita_store_photos",
			Help: "Photos with an entry in the tag map at the last dump.",
		}),
	}
	r.reg.MustRegister(r.tagOps, r.persists, r.heartbeats, r.recoveries, r.repairs, r.photosTotal)
	if withRuntime {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Tag records one tag operation.
func (r *Recorder) Tag(delta int) {
	if r == nil {
		return
	}
	r.tagOps.WithLabelValues(strconv.Itoa(delta)).Inc()
}

// Persist records one persist outcome.
func (r *Recorder) Persist(backend, result string) {
	if r == nil {
		return
	}
	r.persists.WithLabelValues(backend, result).Inc()
}

// Heartbeat records a presence refresh.
func (r *Recorder) Heartbeat(created bool) {
	if r == nil {
		return
	}
	r.heartbeats.WithLabelValues(strconv.FormatBool(created)).Inc()
}

// Recovered records a malformed-content recovery at load time.
func (r *Recorder) Recovered() {
	if r == nil {
		return
	}
	r.recoveries.Inc()
}

// Repaired records n aggregate rewrites.
func (r *Recorder) Repaired(n int) {
	if r == nil {
		return
	}
	r.repairs.Add(float64(n))
}

// Photos sets the current photo count.
func (r *Recorder) Photos(n int) {
	if r == nil {
		return
	}
	r.photosTotal.Set(float64(n))
}

// Gather returns the current metric families.
func (r *Recorder) Gather() ([]*dto.MetricFamily, error) {
	if r == nil {
		return nil, nil
	}
	return r.reg.Gather()
}

// Handler serves GET /metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mfs, err := r.Gather()
		if err != nil {
			slog.Warn("metrics: gather returned errors", "err", err)
		}
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range mfs {
			if err := enc.Encode(mf); err != nil {
				slog.Error("metrics: encode failed", "family", mf.GetName(), "err", err)
				return
			}
		}
	})
}
