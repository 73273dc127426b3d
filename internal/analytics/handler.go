package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wolfman30/medassist-platform/pkg/logging"
)

// Reporter produces a daily report.
type Reporter interface {
	DailyReport(ctx context.Context, date time.Time) (DailyReport, error)
}

// Handler serves daily reports to clinicians.
type Handler struct {
	reporter Reporter
	logger   *logging.Logger
	now      func() time.Time
}

// NewHandler creates a report handler.
func NewHandler(reporter Reporter, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{reporter: reporter, logger: logger, now: time.Now}
}

// Daily handles GET /api/analytics/daily?date=YYYY-MM-DD. The date defaults to today (UTC).
func (h *Handler) Daily(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.reporter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "analytics not configured"})
		return
	}
	date := h.now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "date must be YYYY-MM-DD", "field": "date"})
			return
		}
		date = parsed
	}
	report, err := h.reporter.DailyReport(r.Context(), date)
	if err != nil {
		h.logger.Error("analytics: daily report failed", "error", err, "date", date.Format(dateLayout))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}
	_ = json.NewEncoder(w).Encode(report)
}
