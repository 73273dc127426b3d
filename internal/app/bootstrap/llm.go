package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/medassist-platform/internal/config"
	"github.com/wolfman30/medassist-platform/internal/llm"
	"github.com/wolfman30/medassist-platform/internal/observability/metrics"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

// BuildGateway wires the LLM client selected by LLM_PROVIDER behind a gateway.
// A provider without credentials still yields a gateway; its calls fail with
// llm.ErrNotConfigured. The returned func releases provider resources.
func BuildGateway(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, m *metrics.LLMMetrics, logger *logging.Logger) (*llm.Gateway, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	noop := func() {}
	provider := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	var (
		client  llm.Client
		model   = strings.TrimSpace(cfg.LLMModel)
		cleanup = noop
	)

	switch provider {
	case "", llm.ProviderOpenAI:
		provider = llm.ProviderOpenAI
		openaiClient := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if !openaiClient.Configured() {
			logger.Warn("OPENAI_API_KEY not set; assistant replies will fail until configured")
		}
		client = openaiClient
	case llm.ProviderBedrock:
		if id := strings.TrimSpace(cfg.BedrockModelID); id != "" {
			model = id
		}
		client = llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), model)
	case llm.ProviderGemini:
		if name := strings.TrimSpace(cfg.GeminiModel); name != "" {
			model = name
		}
		geminiClient, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, model)
		if err != nil {
			if !errors.Is(err, llm.ErrNotConfigured) {
				return nil, nil, fmt.Errorf("bootstrap: gemini client: %w", err)
			}
			logger.Warn("GEMINI_API_KEY not set; assistant replies will fail until configured")
			break
		}
		client = geminiClient
		cleanup = func() {
			if err := geminiClient.Close(); err != nil {
				logger.Warn("failed to close gemini client", "error", err)
			}
		}
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}

	logger.Info("llm gateway configured", "provider", provider, "model", model, "timeout", cfg.LLMTimeout.String())
	gateway := llm.NewGateway(client,
		llm.WithProvider(provider, model),
		llm.WithTimeout(cfg.LLMTimeout),
		llm.WithLogger(logger.Component("llm")),
		llm.WithMetrics(m),
	)
	return gateway, cleanup, nil
}
