package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/medassist-platform/internal/analytics"
	"github.com/wolfman30/medassist-platform/internal/api/router"
	appconfig "github.com/wolfman30/medassist-platform/internal/config"
	"github.com/wolfman30/medassist-platform/internal/conversation"
	httpmiddleware "github.com/wolfman30/medassist-platform/internal/http/middleware"
	"github.com/wolfman30/medassist-platform/internal/observability/metrics"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

// API is the assembled HTTP process.
type API struct {
	Handler http.Handler
	Service *conversation.Service
	// InlineWorker drains the in-memory review queue inside the API process.
	// It is nil when reviews go through SQS to cmd/worker.
	InlineWorker *conversation.ReviewWorker

	closers []func()
}

// Close releases every connection opened by BuildAPI, in reverse order.
func (a *API) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// BuildAPI wires stores, the LLM gateway, side-effect collaborators and the
// router from cfg. reg receives every collector; nil means the default registry.
func BuildAPI(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, reg *prometheus.Registry, logger *logging.Logger) (*API, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; every /api request will be rejected")
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}

	app := &API{}
	fail := func(err error) (*API, error) {
		app.Close()
		return nil, err
	}
	checks := map[string]router.HealthCheck{}

	store, pool, err := BuildConversationStore(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	if pool != nil {
		app.closers = append(app.closers, pool.Close)
		checks["postgres"] = pool.Ping
	}

	gateway, closeGateway, err := BuildGateway(ctx, cfg, awsCfg, metrics.NewLLMMetrics(registerer), logger)
	if err != nil {
		return fail(err)
	}
	app.closers = append(app.closers, closeGateway)

	opts := []conversation.ServiceOption{
		conversation.WithMetrics(metrics.NewConversationMetrics(registerer)),
	}

	queue, err := BuildReviewQueue(cfg, awsCfg)
	if err != nil {
		return fail(err)
	}
	opts = append(opts, conversation.WithReviewPublisher(conversation.NewQueuePublisher(queue, logger.Component("review-queue"))))
	if cfg.UseMemoryQueue {
		app.InlineWorker = conversation.NewReviewWorker(queue, BuildReviewNotifier(cfg, awsCfg, logger), logger.Component("review-worker"),
			conversation.WithWorkerCount(cfg.WorkerCount),
			conversation.WithReceiveWaitSeconds(1),
		)
	}

	audit, auditDB, err := BuildAuditService(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	if audit != nil {
		app.closers = append(app.closers, func() { _ = auditDB.Close() })
		checks["audit_db"] = auditDB.PingContext
		opts = append(opts, conversation.WithAuditLogger(audit))
	}

	var analyticsHandler *analytics.Handler
	if redisClient := BuildRedisClient(ctx, cfg, logger, true); redisClient != nil {
		app.closers = append(app.closers, func() { _ = redisClient.Close() })
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		recorder := analytics.NewRecorder(redisClient, logger.Component("analytics"))
		opts = append(opts, conversation.WithResponseRecorder(recorder))
		analyticsHandler = analytics.NewHandler(recorder, logger)
	}

	transcriber, renderer := BuildSpeech(cfg, awsCfg, logger)
	if renderer != nil {
		opts = append(opts, conversation.WithAudioRenderer(renderer))
	}

	app.Service = conversation.NewService(store, gateway, logger.Component("conversation"), opts...)
	app.Handler = router.New(&router.Config{
		Logger:              logger,
		ConversationHandler: conversation.NewHandler(app.Service, transcriber, logger),
		AnalyticsHandler:    analyticsHandler,
		MetricsHandler:      promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		JWTSecret:           cfg.JWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimiter:         httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		HealthChecks:        checks,
	})
	return app, nil
}
