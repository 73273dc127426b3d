package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "LLM_PROVIDER", "LLM_TIMEOUT", "RETENTION_DAYS", "STORE_BACKEND", "REVIEWER_EMAILS", "OPENAI_API_KEY"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected openai provider by default, got %s", cfg.LLMProvider)
	}
	if cfg.LLMTimeout != 30*time.Second {
		t.Fatalf("expected 30s llm timeout, got %s", cfg.LLMTimeout)
	}
	if cfg.RetentionDays != 30 {
		t.Fatalf("expected 30 retention days, got %d", cfg.RetentionDays)
	}
	if cfg.StoreBackend != "postgres" {
		t.Fatalf("expected postgres store backend, got %s", cfg.StoreBackend)
	}
	if cfg.OpenAIAPIKey != "" {
		t.Fatalf("expected empty openai key, got %q", cfg.OpenAIAPIKey)
	}
	if cfg.ReviewerEmails != nil {
		t.Fatalf("expected no reviewer emails, got %v", cfg.ReviewerEmails)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("LLM_PROVIDER", " Bedrock ")
	t.Setenv("LLM_TIMEOUT", "12s")
	t.Setenv("RETENTION_DAYS", "7")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("REVIEWER_EMAILS", "a@clinic.test, ,b@clinic.test")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com")
	t.Setenv("SPEECH_ENABLED", "true")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.LLMProvider != "bedrock" {
		t.Fatalf("expected normalized provider, got %q", cfg.LLMProvider)
	}
	if cfg.LLMTimeout != 12*time.Second {
		t.Fatalf("expected timeout override, got %s", cfg.LLMTimeout)
	}
	if cfg.RetentionDays != 7 {
		t.Fatalf("expected retention override, got %d", cfg.RetentionDays)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit override, got %v", cfg.RateLimitRPS)
	}
	if len(cfg.ReviewerEmails) != 2 || cfg.ReviewerEmails[1] != "b@clinic.test" {
		t.Fatalf("unexpected reviewer emails %v", cfg.ReviewerEmails)
	}
	if len(cfg.CORSAllowedOrigins) != 1 {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.SpeechEnabled {
		t.Fatalf("expected speech enabled")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("LLM_TIMEOUT", "soon")
	t.Setenv("REDIS_TLS", "maybe")
	cfg := Load()
	if cfg.WorkerCount != 2 {
		t.Fatalf("expected default worker count, got %d", cfg.WorkerCount)
	}
	if cfg.LLMTimeout != 30*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.LLMTimeout)
	}
	if cfg.RedisTLS {
		t.Fatalf("expected redis tls default false")
	}
}
