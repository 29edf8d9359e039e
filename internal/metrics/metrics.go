// Package metrics exposes Prometheus counters for backtest runs and data loads.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/newthinker/quantsim/internal/backtest"
	"github.com/newthinker/quantsim/internal/broker"
)

const namespace = "quantsim"

// Registry holds all Prometheus metrics. It implements backtest.Recorder.
type Registry struct {
	*prometheus.Registry

	// Run metrics
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	barsProcessed  prometheus.Counter
	fillsTotal     *prometheus.CounterVec
	ordersDropped  *prometheus.CounterVec
	breachesTotal  *prometheus.CounterVec
	signalsEmitted *prometheus.CounterVec

	// Data metrics
	fetchesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	barsLoaded    *prometheus.CounterVec

	// HTTP API metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
}

var _ backtest.Recorder = (*Registry)(nil)

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of backtest runs by final state",
			},
			[]string{"state"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Backtest run duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
		barsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bars_processed_total",
				Help:      "Total number of committed simulation steps",
			},
		),
		fillsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fills_total",
				Help:      "Total number of fills by order origin",
			},
			[]string{"origin"},
		),
		ordersDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_dropped_total",
				Help:      "Total number of signals or orders dropped before filling",
			},
			[]string{"reason"},
		),
		breachesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "risk_breaches_total",
				Help:      "Total number of risk limit breaches by scope",
			},
			[]string{"scope"},
		),
		signalsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_generated_total",
				Help:      "Total number of signal events generated",
			},
			[]string{"strategy"},
		),
	}

	r.fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fetches_total",
			Help:      "Total number of history fetches by provider and status",
		},
		[]string{"provider", "status"},
	)
	r.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_fetch_duration_seconds",
			Help:      "History fetch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	r.barsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bars_loaded_total",
			Help:      "Total number of bars loaded from providers",
		},
		[]string{"provider"},
	)

	r.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
	r.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	r.httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "API requests currently being served",
		},
	)

	reg.MustRegister(r.runsTotal)
	reg.MustRegister(r.runDuration)
	reg.MustRegister(r.barsProcessed)
	reg.MustRegister(r.fillsTotal)
	reg.MustRegister(r.ordersDropped)
	reg.MustRegister(r.breachesTotal)
	reg.MustRegister(r.signalsEmitted)
	reg.MustRegister(r.fetchesTotal)
	reg.MustRegister(r.fetchDuration)
	reg.MustRegister(r.barsLoaded)
	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	return r
}

// RunFinished records a finished run.
func (r *Registry) RunFinished(state backtest.RunState, duration time.Duration) {
	r.runsTotal.WithLabelValues(string(state)).Inc()
	r.runDuration.Observe(duration.Seconds())
}

// BarsProcessed adds committed simulation steps.
func (r *Registry) BarsProcessed(n int) {
	r.barsProcessed.Add(float64(n))
}

// FillRecorded counts a fill.
func (r *Registry) FillRecorded(origin broker.OrderOrigin) {
	r.fillsTotal.WithLabelValues(string(origin)).Inc()
}

// OrderDropped counts a dropped signal or order.
func (r *Registry) OrderDropped(reason string) {
	r.ordersDropped.WithLabelValues(reason).Inc()
}

// BreachRecorded counts a risk breach.
func (r *Registry) BreachRecorded(scope broker.BreachScope) {
	r.breachesTotal.WithLabelValues(string(scope)).Inc()
}

// RecordSignals counts signal events produced by a strategy.
func (r *Registry) RecordSignals(strategy string, n int) {
	r.signalsEmitted.WithLabelValues(strategy).Add(float64(n))
}

// RecordFetch records a history fetch and the bars it returned.
func (r *Registry) RecordFetch(provider string, bars int, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.fetchesTotal.WithLabelValues(provider, status).Inc()
	r.fetchDuration.WithLabelValues(provider).Observe(duration.Seconds())
	r.barsLoaded.WithLabelValues(provider).Add(float64(bars))
}

// WriteTextfile writes the current metrics in the node exporter textfile format.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r)
}
