// Package analytics keeps daily per-portal aggregates of assistant replies in Redis.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/medassist-platform/internal/conversation"
	"github.com/wolfman30/medassist-platform/internal/portal"
	"github.com/wolfman30/medassist-platform/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("medassist.internal.analytics")

const (
	keyPrefix  = "medassist:analytics:"
	dateLayout = "2006-01-02"
	// Daily hashes are kept for a quarter so reports can be rebuilt after the fact.
	defaultTTL = 90 * 24 * time.Hour
)

const (
	fieldCount        = "count"
	fieldConfidence   = "confidence_sum"
	fieldTokens       = "tokens"
	fieldProcessingMS = "processing_ms"
	urgencyPrefix     = "urgency:"
)

// PortalStats is the aggregate for one portal on one day.
type PortalStats struct {
	Responses           int64   `json:"responses"`
	AverageConfidence   float64 `json:"averageConfidence"`
	AverageProcessingMS float64 `json:"averageProcessingMs"`
	TotalTokens         int64   `json:"totalTokens"`
}

// DailyReport summarizes every reply recorded on Date.
type DailyReport struct {
	Date                string                        `json:"date"`
	TotalResponses      int64                         `json:"totalResponses"`
	TotalTokens         int64                         `json:"totalTokens"`
	AverageConfidence   float64                       `json:"averageConfidence"`
	AverageProcessingMS float64                       `json:"averageProcessingMs"`
	Portals             map[portal.Portal]PortalStats `json:"portals"`
	Urgency             map[portal.Urgency]int64      `json:"urgency"`
}

// Recorder writes reply statistics into one Redis hash per UTC day.
type Recorder struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewRecorder wires a Recorder to the given client.
func NewRecorder(client *redis.Client, logger *logging.Logger) *Recorder {
	if client == nil {
		panic("analytics: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{redis: client, ttl: defaultTTL, logger: logger}
}

func dayKey(t time.Time) string {
	return keyPrefix + t.UTC().Format(dateLayout)
}

func portalField(p portal.Portal, name string) string {
	return string(p) + ":" + name
}

// RecordResponse adds stat to the hash for the day it was produced.
func (r *Recorder) RecordResponse(ctx context.Context, stat conversation.ResponseStat) error {
	ctx, span := tracer.Start(ctx, "analytics.record")
	defer span.End()
	span.SetAttributes(attribute.String("medassist.portal", string(stat.Portal)))

	if !stat.Portal.Valid() {
		return fmt.Errorf("analytics: unknown portal %q", stat.Portal)
	}
	at := stat.At
	if at.IsZero() {
		at = time.Now()
	}
	key := dayKey(at)

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, portalField(stat.Portal, fieldCount), 1)
		pipe.HIncrByFloat(ctx, key, portalField(stat.Portal, fieldConfidence), stat.Confidence)
		pipe.HIncrBy(ctx, key, portalField(stat.Portal, fieldTokens), int64(stat.Tokens))
		pipe.HIncrBy(ctx, key, portalField(stat.Portal, fieldProcessingMS), stat.ProcessingTime.Milliseconds())
		if stat.UrgencyLevel != "" {
			pipe.HIncrBy(ctx, key, urgencyPrefix+string(stat.UrgencyLevel), 1)
		}
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("analytics: record response: %w", err)
	}
	return nil
}

// DailyReport aggregates the hash for the UTC day containing date. A day with
// no traffic yields an empty report rather than an error.
func (r *Recorder) DailyReport(ctx context.Context, date time.Time) (DailyReport, error) {
	ctx, span := tracer.Start(ctx, "analytics.daily_report")
	defer span.End()

	report := DailyReport{
		Date:    date.UTC().Format(dateLayout),
		Portals: make(map[portal.Portal]PortalStats),
		Urgency: make(map[portal.Urgency]int64),
	}
	fields, err := r.redis.HGetAll(ctx, dayKey(date)).Result()
	if err != nil {
		span.RecordError(err)
		return DailyReport{}, fmt.Errorf("analytics: load daily report: %w", err)
	}

	type sums struct {
		count, tokens, processingMS int64
		confidence                  float64
	}
	perPortal := make(map[portal.Portal]*sums)
	for field, raw := range fields {
		if level, ok := strings.CutPrefix(field, urgencyPrefix); ok {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				r.logger.Warn("analytics: skipping malformed urgency counter", "field", field, "error", err)
				continue
			}
			report.Urgency[portal.Urgency(level)] = n
			continue
		}
		name, metric, ok := strings.Cut(field, ":")
		if !ok || !portal.Portal(name).Valid() {
			continue
		}
		p := portal.Portal(name)
		s := perPortal[p]
		if s == nil {
			s = &sums{}
			perPortal[p] = s
		}
		switch metric {
		case fieldConfidence:
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				r.logger.Warn("analytics: skipping malformed confidence sum", "field", field, "error", err)
				continue
			}
			s.confidence = v
		default:
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				r.logger.Warn("analytics: skipping malformed counter", "field", field, "error", err)
				continue
			}
			switch metric {
			case fieldCount:
				s.count = v
			case fieldTokens:
				s.tokens = v
			case fieldProcessingMS:
				s.processingMS = v
			}
		}
	}

	var confidenceSum float64
	var processingSum int64
	for p, s := range perPortal {
		if s.count == 0 {
			continue
		}
		report.Portals[p] = PortalStats{
			Responses:           s.count,
			AverageConfidence:   s.confidence / float64(s.count),
			AverageProcessingMS: float64(s.processingMS) / float64(s.count),
			TotalTokens:         s.tokens,
		}
		report.TotalResponses += s.count
		report.TotalTokens += s.tokens
		confidenceSum += s.confidence
		processingSum += s.processingMS
	}
	if report.TotalResponses > 0 {
		report.AverageConfidence = confidenceSum / float64(report.TotalResponses)
		report.AverageProcessingMS = float64(processingSum) / float64(report.TotalResponses)
	}
	return report, nil
}
