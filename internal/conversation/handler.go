package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medassist-platform/internal/http/middleware"
	"github.com/wolfman30/medassist-platform/internal/llm"
	"github.com/wolfman30/medassist-platform/internal/portal"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

const (
	maxJSONBody  = 1 << 20
	maxAudioBody = 25 << 20
)

// Transcriber turns uploaded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Handler exposes the conversation service over HTTP. Routes read the portal
// from the {portal} URL parameter and the caller from the request principal.
type Handler struct {
	service     *Service
	transcriber Transcriber
	logger      *logging.Logger
}

func NewHandler(service *Service, transcriber Transcriber, logger *logging.Logger) *Handler {
	if service == nil {
		panic("conversation: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, transcriber: transcriber, logger: logger}
}

type sendMessageBody struct {
	ConversationID string         `json:"conversationId"`
	Message        string         `json:"message"`
	Language       string         `json:"language"`
	Profile        Profile        `json:"profile"`
	Context        portal.Context `json:"context"`
}

// SendMessage handles POST /api/{portal}/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.portalAndCaller(w, r)
	if !ok {
		return
	}
	var body sendMessageBody
	if !h.decode(w, r, &body) {
		return
	}
	caller.Profile = body.Profile
	caller.Language = body.Language

	reply, err := h.service.SendMessage(r.Context(), SendMessageRequest{
		ConversationID: body.ConversationID,
		Text:           body.Message,
		Portal:         p,
		Caller:         caller,
		Context:        body.Context,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reply)
}

// Voice handles POST /api/{portal}/voice with a raw audio body.
func (h *Handler) Voice(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.portalAndCaller(w, r)
	if !ok {
		return
	}
	if h.transcriber == nil {
		http.Error(w, "voice input is not enabled", http.StatusNotImplemented)
		return
	}
	audio := http.MaxBytesReader(w, r.Body, maxAudioBody)
	filename := "upload" + audioExtension(r.Header.Get("Content-Type"))
	text, err := h.transcriber.Transcribe(r.Context(), audio, filename)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "audio too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(w, err)
		return
	}
	caller.Language = r.URL.Query().Get("language")

	reply, err := h.service.SendMessage(r.Context(), SendMessageRequest{
		ConversationID: r.URL.Query().Get("conversationId"),
		Text:           text,
		Portal:         p,
		Caller:         caller,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		Transcript string `json:"transcript"`
		*Reply
	}{Transcript: text, Reply: reply})
}

// ListConversations handles GET /api/{portal}/conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.portalAndCaller(w, r)
	if !ok {
		return
	}
	page := pageFromQuery(r)
	items, total, err := h.service.ListConversations(r.Context(), caller, p, page)
	if err != nil {
		h.writeError(w, err)
		return
	}
	page = page.Normalize()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"conversations": items,
		"total":         total,
		"page":          page.Number,
		"limit":         page.Size,
	})
}

// GetConversation handles GET /api/{portal}/conversations/{id}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.portalAndCaller(w, r)
	if !ok {
		return
	}
	conv, err := h.service.GetConversation(r.Context(), caller, p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, conv)
}

// Rate handles POST /api/{portal}/conversations/{id}/rate.
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.portalAndCaller(w, r)
	if !ok {
		return
	}
	var body struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.service.RateConversation(r.Context(), caller, p, chi.URLParam(r, "id"), body.Rating, body.Feedback); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rated"})
}

// End handles POST /api/{portal}/conversations/{id}/end.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.portalAndCaller(w, r)
	if !ok {
		return
	}
	var body struct {
		Summary         string   `json:"summary"`
		Recommendations []string `json:"recommendations"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	conv, err := h.service.EndConversation(r.Context(), caller, p, chi.URLParam(r, "id"), body.Summary, body.Recommendations)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summarize(conv))
}

// AnalyzeSymptoms handles POST /api/wellness/symptoms.
func (h *Handler) AnalyzeSymptoms(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Symptoms []string `json:"symptoms"`
		Profile  Profile  `json:"profile"`
		Language string   `json:"language"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	caller.Profile = body.Profile
	caller.Language = body.Language
	report, err := h.service.AnalyzeSymptoms(r.Context(), caller, body.Symptoms)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// DifferentialDiagnosis handles POST /api/clinical_support/diagnosis.
func (h *Handler) DifferentialDiagnosis(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body struct {
		CaseDescription string         `json:"caseDescription"`
		PatientData     map[string]any `json:"patientData"`
		Profile         Profile        `json:"profile"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	caller.Profile = body.Profile
	report, err := h.service.DifferentialDiagnosis(r.Context(), caller, body.CaseDescription, body.PatientData)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// Research handles POST /api/clinical_support/research.
func (h *Handler) Research(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Query     string `json:"query"`
		Specialty string `json:"specialty"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	report, err := h.service.ResearchQuery(r.Context(), caller, body.Query, body.Specialty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// PendingReviews handles GET /api/reviews/pending.
func (h *Handler) PendingReviews(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	items, total, err := h.service.ListPendingReview(r.Context(), page)
	if err != nil {
		h.writeError(w, err)
		return
	}
	page = page.Normalize()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"reviews": items,
		"total":   total,
		"page":    page.Number,
		"limit":   page.Size,
	})
}

// Review handles POST /api/reviews/{conversationId}.
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body struct {
		MessageID string `json:"messageId"`
		Action    string `json:"action"`
		Feedback  string `json:"feedback"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	action, err := ParseReviewAction(body.Action)
	if err != nil {
		h.writeError(w, err)
		return
	}
	msg, err := h.service.ReviewMessage(r.Context(), chi.URLParam(r, "conversationId"), body.MessageID, caller.UserID, action, body.Feedback)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "reviewed", "message": msg})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || principal.UserID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return Caller{}, false
	}
	return Caller{UserID: principal.UserID, Role: principal.Role}, true
}

func (h *Handler) portalAndCaller(w http.ResponseWriter, r *http.Request) (portal.Portal, Caller, bool) {
	p, err := portal.Parse(chi.URLParam(r, "portal"))
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown portal"})
		return "", Caller{}, false
	}
	caller, ok := h.caller(w, r)
	return p, caller, ok
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		h.logger.Debug("failed to decode request body", "path", r.URL.Path, "error", err)
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps domain and provider failures onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Reason, Field: verr.Field})
	case errors.Is(err, ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: "conversation not found"})
	case errors.Is(err, ErrForbidden):
		h.writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, ErrReviewConflict):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "message is not awaiting review"})
	case errors.Is(err, ErrAlreadyRated):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "conversation already rated"})
	case errors.Is(err, ErrConversationEnded):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "conversation has ended"})
	case errors.Is(err, llm.ErrRateLimited):
		w.Header().Set("Retry-After", "30")
		h.writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests, try again later"})
	case errors.Is(err, llm.ErrNotConfigured), errors.Is(err, llm.ErrAuthFailure), errors.Is(err, llm.ErrProviderUnavailable):
		h.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "service temporarily unavailable"})
	default:
		h.logger.Error("request failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

func pageFromQuery(r *http.Request) Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("limit"))
	return Page{Number: number, Size: size}
}

func audioExtension(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch ct {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".webm"
	}
}
