package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medassist-platform/internal/compliance"
	appconfig "github.com/wolfman30/medassist-platform/internal/config"
	"github.com/wolfman30/medassist-platform/internal/conversation"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; analytics disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildConversationStore returns the store selected by STORE_BACKEND. The pool
// is nil for the memory backend.
func BuildConversationStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.Store, *pgxpool.Pool, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.StoreBackend {
	case StoreMemory:
		logger.Warn("using in-memory conversation store; data is lost on restart")
		return conversation.NewMemoryStore(), nil, nil
	case "", StorePostgres:
		pool, err := ConnectPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("postgres conversation store connected")
		return conversation.NewPostgresStore(pool), pool, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// ConnectPostgresPool opens and pings a pgx pool.
func ConnectPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required for the postgres store")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildAuditService opens the database/sql handle used by the compliance
// audit trail. Both are nil when no database is configured.
func BuildAuditService(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*compliance.AuditService, *sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		if logger != nil {
			logger.Warn("DATABASE_URL not set; compliance audit trail disabled")
		}
		return nil, nil, nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: open audit db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping audit db: %w", err)
	}
	return compliance.NewAuditService(db), db, nil
}
