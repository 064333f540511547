// Package metrics exposes quote counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Simplici0/glassquote/internal/pricing"
)

const (
	OutcomePriced   = "priced"
	OutcomeRejected = "rejected"
)

// Metrics holds the quote collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	quotes    *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	price     prometheus.Histogram
}

// New registers the quote collectors on a fresh registry along with the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glassquote_quotes_total",
			Help: "Quote calculations by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glassquote_formula_fallbacks_total",
			Help: "Quotes priced with the default formula because the configured one failed.",
		}, []string{"mode"}),
		price: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "glassquote_quote_price",
			Help:    "Distribution of priced quote amounts.",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10),
		}),
	}

	m.registry.MustRegister(
		m.quotes,
		m.fallbacks,
		m.price,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one calculation. mode is the configured formula mode, reported on
// fallbacks so operators can see which configuration is failing.
func (m *Metrics) Observe(mode pricing.FormulaMode, res pricing.QuoteResult) {
	if res.Rejected() {
		m.quotes.WithLabelValues(OutcomeRejected).Inc()
		return
	}
	m.quotes.WithLabelValues(OutcomePriced).Inc()
	m.price.Observe(res.QuotePrice)
	if res.FormulaFallback != "" {
		m.fallbacks.WithLabelValues(string(mode)).Inc()
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
