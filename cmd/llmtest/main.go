// Command llmtest sends one prompt through the LLM gateway for each provider
// that has credentials, to check keys and model ids before a deploy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"

	"github.com/wolfman30/medassist-platform/cmd/mainconfig"
	"github.com/wolfman30/medassist-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medassist-platform/internal/config"
	"github.com/wolfman30/medassist-platform/internal/llm"
	"github.com/wolfman30/medassist-platform/internal/portal"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	portalName := flag.String("portal", string(portal.Wellness), "portal whose system instruction is used")
	prompt := flag.String("prompt", "I have had a mild headache for two days. What can I do at home?", "user message")
	flag.Parse()

	p, err := portal.Parse(*portalName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := appconfig.Load()
	logger := logging.New("warn")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		fmt.Printf("AWS config unavailable, bedrock will be skipped: %v\n", err)
	}

	turns := []llm.Turn{{Role: llm.RoleUser, Content: *prompt}}
	failed := false
	for _, provider := range []string{llm.ProviderOpenAI, llm.ProviderBedrock, llm.ProviderGemini} {
		if !hasCredentials(cfg, awsCfg, provider) {
			fmt.Printf("[%s] skipped: no credentials\n", provider)
			continue
		}
		if err := run(ctx, cfg, awsCfg, provider, p, turns, logger); err != nil {
			fmt.Printf("[%s] FAILED: %v\n", provider, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func hasCredentials(cfg *appconfig.Config, awsCfg aws.Config, provider string) bool {
	switch provider {
	case llm.ProviderOpenAI:
		return cfg.OpenAIAPIKey != ""
	case llm.ProviderGemini:
		return cfg.GeminiAPIKey != ""
	case llm.ProviderBedrock:
		return awsCfg.Credentials != nil
	}
	return false
}

func run(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, provider string, p portal.Portal, turns []llm.Turn, logger *logging.Logger) error {
	providerCfg := *cfg
	providerCfg.LLMProvider = provider

	gateway, cleanup, err := bootstrap.BuildGateway(ctx, &providerCfg, awsCfg, nil, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := gateway.Generate(ctx, turns, p, portal.Context{})
	if err != nil {
		var providerErr *llm.ProviderError
		if errors.As(err, &providerErr) && providerErr.StatusCode != 0 {
			return fmt.Errorf("http %d: %w", providerErr.StatusCode, err)
		}
		return err
	}
	fmt.Printf("[%s] %s, %d tokens, %s\n%s\n\n",
		provider, result.Usage.Model, result.Usage.Tokens, result.Latency.Round(time.Millisecond), result.Content)
	return nil
}
