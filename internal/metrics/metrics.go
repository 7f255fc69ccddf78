// Package metrics holds the prometheus collectors of the image pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slidefix"

type Metrics struct {
	urlChecks       *prometheus.CounterVec
	urlCheckSeconds prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	similarityHits  *prometheus.CounterVec
	suggestionCalls *prometheus.CounterVec
	replacements    *prometheus.CounterVec
	removals        prometheus.Counter
	documents       *prometheus.CounterVec
	documentSeconds prometheus.Histogram
	httpRequests    *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		urlChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "url_checks_total",
			Help:      "Image URL checks by outcome (valid or error category).",
		}, []string{"result"}),
		urlCheckSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "url_check_duration_seconds",
			Help:      "Time spent on one image URL check.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 3, 5},
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Topic cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		similarityHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "similarity_lookups_total",
			Help:      "Similar-topic searches by result (hit, miss, error).",
		}, []string{"result"}),
		suggestionCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_calls_total",
			Help:      "Completion calls by strategy and result (success, empty, error, rejected).",
		}, []string{"strategy", "result"}),
		replacements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_replacements_total",
			Help:      "Images replaced, by provenance.",
		}, []string{"provenance"}),
		removals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_removals_total",
			Help:      "Broken images removed because no replacement was available.",
		}),
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Processed documents by final state.",
		}, []string{"state"}),
		documentSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_duration_seconds",
			Help:      "Wall-clock time spent on one document.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) ObserveURLCheck(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.urlChecks.WithLabelValues(result).Inc()
	m.urlCheckSeconds.Observe(d.Seconds())
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SimilarityLookup(result string) {
	if m == nil {
		return
	}
	m.similarityHits.WithLabelValues(result).Inc()
}

func (m *Metrics) SuggestionCall(strategy, result string) {
	if m == nil {
		return
	}
	m.suggestionCalls.WithLabelValues(strategy, result).Inc()
}

func (m *Metrics) Replacement(provenance string) {
	if m == nil {
		return
	}
	m.replacements.WithLabelValues(provenance).Inc()
}

func (m *Metrics) Removal() {
	if m == nil {
		return
	}
	m.removals.Inc()
}

func (m *Metrics) Document(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(state).Inc()
	m.documentSeconds.Observe(d.Seconds())
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
