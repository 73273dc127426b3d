package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLLMMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLLMMetrics(reg)
	m.ObserveCompletion("openai", "wellness", "success", 1.2, 350)
	m.ObserveCompletion("openai", "wellness", "rate_limited", 0.1, 0)

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("openai", "wellness", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.tokensTotal.WithLabelValues("openai", "wellness")); got != 350 {
		t.Fatalf("expected 350 tokens, got %v", got)
	}
	if got := testutil.CollectAndCount(m.latency); got != 1 {
		t.Fatalf("expected one latency series, got %d", got)
	}
}

func TestConversationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)
	m.ObserveAnalysis("wellness", 0.8, "low")
	m.ObserveAnalysis("clinical_support", 0.9, "")
	m.ObserveReview("approve", "success")
	m.ObserveReview("approve", "conflict")
	m.SetPendingReviews(4)

	if got := testutil.ToFloat64(m.urgencyTotal.WithLabelValues("wellness", "low")); got != 1 {
		t.Fatalf("expected urgency count 1, got %v", got)
	}
	if got := testutil.CollectAndCount(m.urgencyTotal); got != 1 {
		t.Fatalf("expected clinical analysis without urgency to be skipped, got %d series", got)
	}
	if got := testutil.ToFloat64(m.pendingReviews); got != 4 {
		t.Fatalf("expected 4 pending, got %v", got)
	}
}

func TestMetricsDefaultRegistry(t *testing.T) {
	m := NewLLMMetrics(nil)
	m.ObserveCompletion("bedrock", "patient_assist", "success", 0.5, 10)
}

func TestMetricsNilSafe(t *testing.T) {
	var l *LLMMetrics
	l.ObserveCompletion("openai", "wellness", "success", 1, 1)
	var c *ConversationMetrics
	c.ObserveAnalysis("wellness", 0.7, "low")
	c.ObserveReview("reject", "success")
	c.SetPendingReviews(1)
}
