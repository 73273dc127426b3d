package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	appconfig "github.com/wolfman30/medassist-platform/internal/config"
	"github.com/wolfman30/medassist-platform/internal/conversation"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

func memoryConfig() *appconfig.Config {
	return &appconfig.Config{
		StoreBackend:   StoreMemory,
		UseMemoryQueue: true,
		LLMTimeout:     5 * time.Second,
		WorkerCount:    1,
		JWTSecret:      "test-secret",
		RateLimitRPS:   10,
		RateLimitBurst: 10,
		RetentionDays:  30,
	}
}

func TestBuildAPIRequiresConfig(t *testing.T) {
	if _, err := BuildAPI(context.Background(), nil, aws.Config{}, nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestBuildAPIMemoryBackend(t *testing.T) {
	cfg := memoryConfig()
	app, err := BuildAPI(context.Background(), cfg, aws.Config{}, prometheus.NewRegistry(), logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer app.Close()

	if app.Service == nil {
		t.Fatalf("expected conversation service")
	}
	if app.InlineWorker == nil {
		t.Fatalf("expected inline review worker with the memory queue")
	}

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/wellness/conversations", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}
}

func TestBuildAPIWiresRedisAnalytics(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.RedisAddr = mr.Addr()

	app, err := BuildAPI(context.Background(), cfg, aws.Config{}, prometheus.NewRegistry(), logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer app.Close()

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestBuildAPIUnknownStore(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreBackend = "dynamo"
	if _, err := BuildAPI(context.Background(), cfg, aws.Config{}, prometheus.NewRegistry(), logging.New("error")); err == nil {
		t.Fatalf("expected error for unknown store backend")
	}
}

func TestBuildAPIPostgresRequiresURL(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreBackend = StorePostgres
	if _, err := BuildAPI(context.Background(), cfg, aws.Config{}, prometheus.NewRegistry(), logging.New("error")); err == nil {
		t.Fatalf("expected error when DATABASE_URL is empty")
	}
}

func TestBuildGatewayProviders(t *testing.T) {
	logger := logging.New("error")
	for _, provider := range []string{"", "openai", "bedrock", "gemini"} {
		cfg := memoryConfig()
		cfg.LLMProvider = provider
		gateway, cleanup, err := BuildGateway(context.Background(), cfg, aws.Config{Region: "us-east-1"}, nil, logger)
		if err != nil {
			t.Fatalf("provider %q: unexpected error: %v", provider, err)
		}
		if gateway == nil || cleanup == nil {
			t.Fatalf("provider %q: expected gateway and cleanup", provider)
		}
		cleanup()
	}
}

func TestBuildGatewayUnknownProvider(t *testing.T) {
	cfg := memoryConfig()
	cfg.LLMProvider = "watson"
	if _, _, err := BuildGateway(context.Background(), cfg, aws.Config{}, nil, nil); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestBuildReviewQueue(t *testing.T) {
	cfg := memoryConfig()
	queue, err := BuildReviewQueue(cfg, aws.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := queue.(*conversation.MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", queue)
	}

	cfg.UseMemoryQueue = false
	if _, err := BuildReviewQueue(cfg, aws.Config{}); err == nil {
		t.Fatalf("expected error without REVIEW_QUEUE_URL")
	}

	cfg.ReviewQueueURL = "https://sqs.us-east-1.amazonaws.com/123/reviews"
	queue, err = BuildReviewQueue(cfg, aws.Config{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := queue.(*conversation.SQSQueue); !ok {
		t.Fatalf("expected SQS queue, got %T", queue)
	}
}

func TestBuildArchiverWithoutBucket(t *testing.T) {
	if archiver := BuildArchiver(memoryConfig(), aws.Config{}, logging.New("error")); archiver != nil {
		t.Fatalf("expected nil archiver without ARCHIVE_BUCKET, got %T", archiver)
	}
}

func TestBuildArchiverWithBucket(t *testing.T) {
	cfg := memoryConfig()
	cfg.ArchiveBucket = "medassist-archive"
	if archiver := BuildArchiver(cfg, aws.Config{Region: "us-east-1"}, logging.New("error")); archiver == nil {
		t.Fatalf("expected archiver")
	}
}

func TestBuildSpeech(t *testing.T) {
	logger := logging.New("error")
	cfg := memoryConfig()

	transcriber, renderer := BuildSpeech(cfg, aws.Config{}, logger)
	if transcriber != nil || renderer != nil {
		t.Fatalf("expected speech disabled without an API key")
	}

	cfg.OpenAIAPIKey = "sk-test"
	transcriber, renderer = BuildSpeech(cfg, aws.Config{}, logger)
	if transcriber == nil {
		t.Fatalf("expected transcriber")
	}
	if renderer != nil {
		t.Fatalf("expected no renderer without SPEECH_ENABLED and AUDIO_BUCKET")
	}

	cfg.SpeechEnabled = true
	cfg.AudioBucket = "medassist-audio"
	_, renderer = BuildSpeech(cfg, aws.Config{Region: "us-east-1"}, logger)
	if renderer == nil {
		t.Fatalf("expected renderer")
	}
}

func TestBuildRedisClient(t *testing.T) {
	logger := logging.New("error")
	cfg := memoryConfig()
	if client := BuildRedisClient(context.Background(), cfg, logger, true); client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}

	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()
	client := BuildRedisClient(context.Background(), cfg, logger, true)
	if client == nil {
		t.Fatalf("expected client for running redis")
	}
	_ = client.Close()

	mr.Close()
	if client := BuildRedisClient(context.Background(), cfg, logger, true); client != nil {
		t.Fatalf("expected nil client when redis is unreachable")
	}
}

func TestBuildWorkerRejectsMemoryQueue(t *testing.T) {
	if _, err := BuildWorker(context.Background(), memoryConfig(), aws.Config{}, nil); err == nil {
		t.Fatalf("expected error for USE_MEMORY_QUEUE in the worker")
	}
}

func TestBuildWorkerWithSQS(t *testing.T) {
	cfg := memoryConfig()
	cfg.UseMemoryQueue = false
	cfg.ReviewQueueURL = "https://sqs.us-east-1.amazonaws.com/123/reviews"

	worker, err := BuildWorker(context.Background(), cfg, aws.Config{Region: "us-east-1"}, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer worker.Close()
	if worker.Reviews == nil || worker.Retention == nil {
		t.Fatalf("expected review worker and retention sweeper")
	}
}

func TestBuildAuditServiceDisabledWithoutDatabase(t *testing.T) {
	audit, db, err := BuildAuditService(context.Background(), memoryConfig(), logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if audit != nil || db != nil {
		t.Fatalf("expected audit trail disabled")
	}
}
