package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Predictions      *prometheus.CounterVec
	RequestErrors    *prometheus.CounterVec
	Probability      prometheus.Histogram
	InferenceLatency prometheus.Histogram
	HTTPDuration     *prometheus.HistogramVec
	ModelReady       prometheus.Gauge
	WebsocketClients prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "predmaint_predictions_total",
			Help: "Predictions served, by decision label.",
		}, []string{"label"}),
		RequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "predmaint_prediction_errors_total",
			Help: "Rejected or failed prediction requests, by kind.",
		}, []string{"kind"}),
		Probability: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "predmaint_failure_probability",
			Help:    "Distribution of served failure probabilities.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		}),
		InferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "predmaint_inference_seconds",
			Help:    "Time spent validating and scoring one reading.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predmaint_http_request_seconds",
			Help:    "HTTP request latency by route and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
		ModelReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "predmaint_model_ready",
			Help: "1 when a model artifact is loaded.",
		}),
		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "predmaint_websocket_clients",
			Help: "Connected live-feed clients.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Predictions,
		m.RequestErrors,
		m.Probability,
		m.InferenceLatency,
		m.HTTPDuration,
		m.ModelReady,
		m.WebsocketClients,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetModelReady(ready bool) {
	if ready {
		m.ModelReady.Set(1)
		return
	}
	m.ModelReady.Set(0)
}
