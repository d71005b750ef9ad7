package metrics

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tiergate"

// Recorder exports webhook, checkout and retention metrics.
type Recorder struct {
	registry        *prometheus.Registry
	webhookTotal    *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	checkoutTotal   *prometheus.CounterVec
	purgedTotal     *prometheus.CounterVec
}

// NewRecorder registers all collectors on a private registry, together with
// the Go runtime and process collectors.
func NewRecorder() (*Recorder, error) {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by outcome and reason.",
		}, []string{"outcome", "reason"}),
		webhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Time spent handling one webhook delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		checkoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_total",
			Help:      "Checkout session requests by result.",
		}, []string{"result"}),
		purgedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processed_events_purged_total",
			Help:      "Expired idempotency records removed by the retention sweep.",
		}, []string{"backend"}),
	}

	for _, c := range []prometheus.Collector{
		r.webhookTotal,
		r.webhookDuration,
		r.checkoutTotal,
		r.purgedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := r.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

func (r *Recorder) ObserveWebhook(outcome, reason string, seconds float64) {
	if r == nil {
		return
	}
	r.webhookTotal.WithLabelValues(outcome, reason).Inc()
	r.webhookDuration.WithLabelValues(outcome).Observe(seconds)
}

func (r *Recorder) ObserveCheckout(result string) {
	if r == nil {
		return
	}
	r.checkoutTotal.WithLabelValues(result).Inc()
}

func (r *Recorder) ObservePurge(backend string, purged int64) {
	if r == nil || purged <= 0 {
		return
	}
	r.purgedTotal.WithLabelValues(backend).Add(float64(purged))
}

// Gatherer exposes the registry for tests and custom exporters.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
}
