package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "medassist"

// LLMMetrics exposes counters/histograms for provider calls made by the gateway.
type LLMMetrics struct {
	requestsTotal *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	tokensTotal   *prometheus.CounterVec
}

func NewLLMMetrics(reg prometheus.Registerer) *LLMMetrics {
	m := &LLMMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM completions by provider, portal and outcome",
		}, []string{"provider", "portal", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "Latency of LLM completions",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 10, 15, 20, 30},
		}, []string{"provider", "portal"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by LLM completions",
		}, []string{"provider", "portal"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.latency, m.tokensTotal)
	return m
}

// ObserveCompletion records one provider call. Tokens are only counted on success.
func (m *LLMMetrics) ObserveCompletion(provider, portal, outcome string, seconds float64, tokens int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(provider, portal, outcome).Inc()
	m.latency.WithLabelValues(provider, portal).Observe(seconds)
	if tokens > 0 {
		m.tokensTotal.WithLabelValues(provider, portal).Add(float64(tokens))
	}
}

// ConversationMetrics covers analyzer output and the review queue.
type ConversationMetrics struct {
	confidence      *prometheus.HistogramVec
	urgencyTotal    *prometheus.CounterVec
	reviewDecisions *prometheus.CounterVec
	pendingReviews  prometheus.Gauge
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "confidence",
			Help:      "Heuristic confidence assigned to assistant replies",
			Buckets:   []float64{0.7, 0.8, 0.9, 1.0},
		}, []string{"portal"}),
		urgencyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "urgency_total",
			Help:      "Assistant replies by extracted urgency tier",
		}, []string{"portal", "urgency"}),
		reviewDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "review",
			Name:      "decisions_total",
			Help:      "Clinician review attempts by action and outcome",
		}, []string{"action", "outcome"}),
		pendingReviews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "review",
			Name:      "pending",
			Help:      "Assistant replies waiting for clinician review at last listing",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.confidence, m.urgencyTotal, m.reviewDecisions, m.pendingReviews)
	return m
}

func (m *ConversationMetrics) ObserveAnalysis(portal string, confidence float64, urgency string) {
	if m == nil {
		return
	}
	m.confidence.WithLabelValues(portal).Observe(confidence)
	if urgency != "" {
		m.urgencyTotal.WithLabelValues(portal, urgency).Inc()
	}
}

func (m *ConversationMetrics) ObserveReview(action, outcome string) {
	if m == nil {
		return
	}
	m.reviewDecisions.WithLabelValues(action, outcome).Inc()
}

func (m *ConversationMetrics) SetPendingReviews(n int) {
	if m == nil {
		return
	}
	m.pendingReviews.Set(float64(n))
}
