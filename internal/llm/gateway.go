package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/medassist-platform/internal/observability/metrics"
	"github.com/wolfman30/medassist-platform/internal/portal"
	"github.com/wolfman30/medassist-platform/internal/prompts"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

const DefaultTimeout = 30 * time.Second

var tracer = otel.Tracer("medassist.internal.llm")

// Params are the generation parameters for one portal.
type Params struct {
	Temperature      float32
	MaxTokens        int
	PresencePenalty  float32
	FrequencyPenalty float32
}

// ParamsFor returns the fixed parameters for p. Clinicians get a larger output budget.
func ParamsFor(p portal.Portal) Params {
	params := Params{
		Temperature:      0.3,
		MaxTokens:        2000,
		PresencePenalty:  0.1,
		FrequencyPenalty: 0.1,
	}
	if p == portal.ClinicalSupport {
		params.MaxTokens = 4000
	}
	return params
}

// Result is a normalized model answer.
type Result struct {
	Content string
	Usage   ResultUsage
	Latency time.Duration
}

type ResultUsage struct {
	Model  string
	Tokens int
}

// Gateway builds the system instruction for a portal, calls the configured
// client under a fixed timeout and classifies failures. It never persists anything.
type Gateway struct {
	client   Client
	provider string
	model    string
	timeout  time.Duration
	logger   *logging.Logger
	metrics  *metrics.LLMMetrics
}

type GatewayOption func(*Gateway)

func WithProvider(name, model string) GatewayOption {
	return func(g *Gateway) {
		g.provider = name
		g.model = model
	}
}

func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(logger *logging.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithMetrics(m *metrics.LLMMetrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway wraps client. A nil client is allowed and makes every call fail
// with ErrNotConfigured.
func NewGateway(client Client, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client:   client,
		provider: ProviderOpenAI,
		timeout:  DefaultTimeout,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends turns to the provider behind the portal's system instruction.
// Cancelling ctx does not abort the provider call; only the gateway timeout does.
func (g *Gateway) Generate(ctx context.Context, turns []Turn, p portal.Portal, userContext portal.Context) (Result, error) {
	if g == nil || g.client == nil {
		return Result{}, &ProviderError{Provider: "none", Kind: ErrNotConfigured}
	}
	if len(turns) == 0 {
		return Result{}, errors.New("llm: at least one turn is required")
	}

	params := ParamsFor(p)
	req := Request{
		Model:            g.model,
		System:           prompts.Build(p, userContext),
		Messages:         turns,
		MaxTokens:        params.MaxTokens,
		Temperature:      params.Temperature,
		PresencePenalty:  params.PresencePenalty,
		FrequencyPenalty: params.FrequencyPenalty,
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()
	callCtx, span := tracer.Start(callCtx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("medassist.llm.provider", g.provider),
		attribute.String("medassist.portal", p.String()),
		attribute.Int("medassist.llm.turns", len(turns)),
	)

	start := time.Now()
	resp, err := g.client.Complete(callCtx, req)
	latency := time.Since(start)
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = &ProviderError{Provider: g.provider, Kind: ErrProviderUnavailable, Err: errors.New("empty completion")}
	}
	if err != nil {
		err = g.classify(callCtx, err)
		outcome := Outcome(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		g.metrics.ObserveCompletion(g.provider, p.String(), outcome, latency.Seconds(), 0)
		g.logger.Warn("llm completion failed",
			"provider", g.provider,
			"portal", p,
			"outcome", outcome,
			"latency_ms", latency.Milliseconds(),
			"error", err,
		)
		return Result{}, err
	}

	model := resp.Model
	if model == "" {
		model = g.model
	}
	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	}
	span.SetAttributes(attribute.String("medassist.llm.model", model), attribute.Int("medassist.llm.tokens", tokens))
	g.metrics.ObserveCompletion(g.provider, p.String(), Outcome(nil), latency.Seconds(), tokens)
	g.logger.Debug("llm completion finished",
		"provider", g.provider,
		"portal", p,
		"model", model,
		"tokens", tokens,
		"latency_ms", latency.Milliseconds(),
	)

	return Result{
		Content: resp.Text,
		Usage:   ResultUsage{Model: model, Tokens: tokens},
		Latency: latency,
	}, nil
}

func (g *Gateway) classify(callCtx context.Context, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, ErrProviderUnavailable) {
			return err
		}
		return &ProviderError{Provider: g.provider, Kind: ErrProviderUnavailable, Err: fmt.Errorf("timed out after %s: %w", g.timeout, err)}
	}
	if isClassified(err) {
		return err
	}
	return &ProviderError{Provider: g.provider, Kind: ErrProviderUnavailable, Err: err}
}
