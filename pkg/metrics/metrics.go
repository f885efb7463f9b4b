package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "s7panel"

const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Recorder owns the panel's collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry        *prometheus.Registry
	pollCycles      prometheus.Counter
	pollCycleTime   prometheus.Histogram
	tagReads        *prometheus.CounterVec
	tagWrites       *prometheus.CounterVec
	connectionState prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Number of completed poll cycles.",
		}),
		pollCycleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_seconds",
			Help:      "Duration of one poll cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		tagReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tag_reads_total",
			Help:      "Tag reads by result.",
		}, []string{"result"}),
		tagWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tag_writes_total",
			Help:      "Tag writes by result.",
		}, []string{"result"}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "PLC connection state: 0 disconnected, 1 connected, 2 failed.",
		}),
	}
	r.registry.MustRegister(
		r.pollCycles,
		r.pollCycleTime,
		r.tagReads,
		r.tagWrites,
		r.connectionState,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObservePollCycle(d time.Duration) {
	if r == nil {
		return
	}
	r.pollCycles.Inc()
	r.pollCycleTime.Observe(d.Seconds())
}

func (r *Recorder) TagRead(err error) {
	if r == nil {
		return
	}
	r.tagReads.WithLabelValues(result(err)).Inc()
}

func (r *Recorder) TagWrite(err error) {
	if r == nil {
		return
	}
	r.tagWrites.WithLabelValues(result(err)).Inc()
}

func (r *Recorder) SetConnectionState(state int) {
	if r == nil {
		return
	}
	r.connectionState.Set(float64(state))
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
