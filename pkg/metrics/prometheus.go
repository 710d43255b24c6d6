package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var regimes = []string{"NORMAL", "CRASH", "BOOM"}

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal     *prometheus.CounterVec
	instruments    *prometheus.CounterVec
	regime         *prometheus.GaugeVec
	remainingTicks prometheus.Gauge
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	tickDuration   prometheus.Histogram
	latency        *prometheus.HistogramVec
}

// New registers the simulator metrics on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers on reg. Tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradealchemist_ticks_total",
				Help: "Completed ticks by effective regime",
			},
			[]string{"regime"},
		),
		instruments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradealchemist_instruments_total",
				Help: "Instruments processed per outcome",
			},
			[]string{"outcome"},
		),
		regime: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradealchemist_regime",
				Help: "1 for the regime currently persisted, 0 otherwise",
			},
			[]string{"regime"},
		),
		remainingTicks: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradealchemist_regime_remaining_ticks",
			Help: "Ticks left in the current regime hold",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradealchemist_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradealchemist_last_price",
				Help: "Last simulated price per instrument",
			},
			[]string{"instrument"},
		),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradealchemist_tick_duration_seconds",
			Help:    "Wall time of a full tick",
			Buckets: prometheus.DefBuckets,
		}),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradealchemist_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordTick records one completed tick.
func (r *Recorder) RecordTick(regime string, updated, skipped int, seconds float64) {
	r.ticksTotal.WithLabelValues(regime).Inc()
	r.instruments.WithLabelValues("updated").Add(float64(updated))
	r.instruments.WithLabelValues("skipped").Add(float64(skipped))
	r.tickDuration.Observe(seconds)
}

// RecordRegime exposes the persisted regime as a one-hot gauge.
func (r *Recorder) RecordRegime(regime string, remaining int) {
	for _, name := range regimes {
		v := 0.0
		if name == regime {
			v = 1
		}
		r.regime.WithLabelValues(name).Set(v)
	}
	r.remainingTicks.Set(float64(remaining))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(instrument string, price float64) {
	r.lastPrice.WithLabelValues(instrument).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) RecordTick(string, int, int, float64) {}
func (Nop) RecordRegime(string, int)             {}
func (Nop) RecordError(string)                   {}
func (Nop) RecordLastPrice(string, float64)      {}
func (Nop) RecordLatency(string, float64)        {}
