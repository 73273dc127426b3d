package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medassist-platform/internal/analyzer"
	"github.com/wolfman30/medassist-platform/internal/llm"
	"github.com/wolfman30/medassist-platform/internal/observability/metrics"
	"github.com/wolfman30/medassist-platform/internal/portal"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

var serviceTracer = otel.Tracer("medassist.internal.conversation.service")

const (
	maxMessageRunes   = 10000
	audioRenderBudget = 60 * time.Second
)

// Generator produces a model answer for a transcript. *llm.Gateway implements it.
type Generator interface {
	Generate(ctx context.Context, turns []llm.Turn, p portal.Portal, userContext portal.Context) (llm.Result, error)
}

// ReviewPublisher announces replies that wait for clinician review.
type ReviewPublisher interface {
	PublishReviewRequested(ctx context.Context, evt ReviewEvent) error
}

// ResponseStat is one assistant reply as seen by analytics.
type ResponseStat struct {
	Portal         portal.Portal
	Confidence     float64
	Tokens         int
	ProcessingTime time.Duration
	UrgencyLevel   portal.Urgency
	At             time.Time
}

// ResponseRecorder aggregates reply statistics.
type ResponseRecorder interface {
	RecordResponse(ctx context.Context, stat ResponseStat) error
}

// AuditLogger writes compliance records for review decisions and emergency replies.
type AuditLogger interface {
	LogReviewDecision(ctx context.Context, conversationID, messageID, reviewerID, decision, feedback string) error
	LogEmergencyReply(ctx context.Context, conversationID, messageID, userID, portalName string) error
}

// AudioRenderer synthesizes a committed reply to audio for a separate delivery channel.
type AudioRenderer interface {
	RenderReply(ctx context.Context, conversationID, messageID, text string) error
}

// Caller is the authenticated principal sending a request.
type Caller struct {
	UserID   string
	Role     string
	Language string
	Profile  Profile
}

// SendMessageRequest is the input of SendMessage. ConversationID is optional.
type SendMessageRequest struct {
	ConversationID string
	Text           string
	Portal         portal.Portal
	Caller         Caller
	Context        portal.Context
	// Title names a conversation opened by a structured request. Conversations
	// opened by a free-text message take their title from that first message.
	Title string
}

// Reply is the result of a successful SendMessage.
type Reply struct {
	Content        string    `json:"content"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Metadata       *Metadata `json:"metadata"`
}

// Service orchestrates conversations across the three portals.
type Service struct {
	store     Store
	generator Generator
	logger    *logging.Logger
	publisher ReviewPublisher
	recorder  ResponseRecorder
	audit     AuditLogger
	audio     AudioRenderer
	metrics   *metrics.ConversationMetrics
	now       func() time.Time
}

type ServiceOption func(*Service)

func WithReviewPublisher(p ReviewPublisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

func WithResponseRecorder(r ResponseRecorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

func WithAuditLogger(a AuditLogger) ServiceOption {
	return func(s *Service) { s.audit = a }
}

func WithAudioRenderer(r AudioRenderer) ServiceOption {
	return func(s *Service) { s.audio = r }
}

func WithMetrics(m *metrics.ConversationMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, generator Generator, logger *logging.Logger, opts ...ServiceOption) *Service {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if generator == nil {
		panic("conversation: generator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:     store,
		generator: generator,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessage appends the caller's message to the addressed conversation (or a
// new one), asks the model for a reply and appends the analyzed reply.
func (s *Service) SendMessage(ctx context.Context, req SendMessageRequest) (*Reply, error) {
	text := strings.TrimSpace(req.Text)
	if err := validateSend(req, text); err != nil {
		return nil, err
	}
	update, err := requestContext(req.Portal, req.Caller.Profile, req.Context)
	if err == nil {
		err = update.Validate(req.Portal)
	}
	if err != nil {
		return nil, invalid("context", err.Error())
	}

	ctx, span := serviceTracer.Start(ctx, "conversation.send_message")
	defer span.End()
	span.SetAttributes(attribute.String("medassist.portal", req.Portal.String()))

	conv, err := s.resolve(ctx, req, update)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("medassist.conversation_id", conv.ID))

	reply, err := s.exchange(ctx, conv, text)
	if err != nil {
		return nil, err
	}

	return &Reply{
		Content:        reply.Content,
		ConversationID: conv.ID,
		MessageID:      reply.ID,
		Metadata:       reply.Metadata,
	}, nil
}

// exchange appends text as a user message, generates and analyzes the reply and
// appends it. When generation fails the user message stays recorded and no
// assistant message is written.
func (s *Service) exchange(ctx context.Context, conv *Conversation, text string) (Message, error) {
	userMsg, err := s.store.AppendMessage(ctx, conv.ID, Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		return Message{}, fmt.Errorf("conversation: append user message: %w", err)
	}
	conv.Messages = append(conv.Messages, userMsg)
	if conv.Title == "" {
		conv.Title = DeriveTitle(text)
	}

	result, err := s.generator.Generate(ctx, transcriptTurns(conv.Messages), conv.Portal, conv.Context)
	if err != nil {
		s.logger.Warn("assistant reply not generated",
			"conversation_id", conv.ID,
			"portal", conv.Portal,
			"outcome", llm.Outcome(err),
			"error", err,
		)
		return Message{}, err
	}

	analysis := analyzer.Analyze(result.Content, conv.Portal)
	meta := metadataFromAnalysis(analysis)
	meta.Tokens = result.Usage.Tokens
	meta.Model = result.Usage.Model
	meta.ProcessingTime = result.Latency.Milliseconds()
	if conv.Portal.RequiresReview() {
		meta.Review = &Review{NeedsReview: true, Status: ReviewPending}
	}

	reply, err := s.store.AppendMessage(ctx, conv.ID, Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   result.Content,
		Timestamp: s.now().UTC(),
		Metadata:  meta,
	})
	if err != nil {
		return Message{}, fmt.Errorf("conversation: append assistant message: %w", err)
	}
	conv.Messages = append(conv.Messages, reply)

	if promoted := flowFor(conv.Portal).promote(analysis); !promoted.IsZero() {
		merged, err := s.store.MergeContext(ctx, conv.ID, conv.Portal, promoted)
		if err != nil {
			s.logger.Error("failed to promote analysis into context", "conversation_id", conv.ID, "error", err)
		} else {
			conv.Context = merged
		}
	}
	s.afterReply(ctx, conv, reply)
	return reply, nil
}

func validateSend(req SendMessageRequest, text string) error {
	if strings.TrimSpace(req.Caller.UserID) == "" {
		return invalid("userId", "is required")
	}
	if !req.Portal.Valid() {
		return invalid("portal", fmt.Sprintf("unknown portal %q", req.Portal))
	}
	if text == "" {
		return invalid("message", "is required")
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return invalid("message", fmt.Sprintf("exceeds %d characters", maxMessageRunes))
	}
	return nil
}

// resolve loads the addressed conversation or creates a new one. Patient assist
// callers without an id continue their latest active conversation.
func (s *Service) resolve(ctx context.Context, req SendMessageRequest, update portal.Context) (*Conversation, error) {
	userID := req.Caller.UserID
	var conv *Conversation
	var err error
	switch {
	case req.ConversationID != "":
		conv, err = s.store.FindOwned(ctx, req.ConversationID, userID, req.Portal)
		if err != nil {
			return nil, err
		}
		if !conv.IsActive {
			return nil, ErrConversationEnded
		}
	case req.Portal == portal.PatientAssist:
		conv, err = s.store.LatestActive(ctx, userID, req.Portal)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("conversation: load latest conversation: %w", err)
		}
	}

	if conv == nil {
		return s.create(ctx, req, update)
	}
	if !update.IsZero() {
		merged, err := s.store.MergeContext(ctx, conv.ID, conv.Portal, update)
		if err != nil {
			return nil, fmt.Errorf("conversation: merge context: %w", err)
		}
		conv.Context = merged
	}
	return conv, nil
}

func (s *Service) create(ctx context.Context, req SendMessageRequest, initial portal.Context) (*Conversation, error) {
	now := s.now().UTC()
	language := strings.ToLower(strings.TrimSpace(req.Caller.Language))
	if language != "en" {
		language = defaultLanguage
	}
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    req.Caller.UserID,
		SessionID: NewSessionID(req.Portal, req.Caller.UserID, now),
		Portal:    req.Portal,
		Title:     DeriveTitle(req.Title),
		Context:   initial,
		IsActive:  true,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("conversation: create conversation: %w", err)
	}
	s.logger.Info("conversation created", "conversation_id", conv.ID, "portal", conv.Portal)
	return conv, nil
}

// afterReply runs best-effort side effects once the reply is committed.
func (s *Service) afterReply(ctx context.Context, conv *Conversation, reply Message) {
	meta := reply.Metadata
	s.metrics.ObserveAnalysis(conv.Portal.String(), meta.Confidence, string(meta.UrgencyLevel))

	if meta.NeedsReview() && s.publisher != nil {
		evt := ReviewEvent{
			ConversationID: conv.ID,
			MessageID:      reply.ID,
			PatientRef:     conv.UserID,
			Title:          conv.Title,
			UrgencyLevel:   meta.UrgencyLevel,
			Excerpt:        excerpt(reply.Content),
			RequestedAt:    reply.Timestamp,
		}
		if err := s.publisher.PublishReviewRequested(ctx, evt); err != nil {
			s.logger.Error("failed to publish review request", "conversation_id", conv.ID, "message_id", reply.ID, "error", err)
		}
	}

	if s.recorder != nil {
		stat := ResponseStat{
			Portal:         conv.Portal,
			Confidence:     meta.Confidence,
			Tokens:         meta.Tokens,
			ProcessingTime: time.Duration(meta.ProcessingTime) * time.Millisecond,
			UrgencyLevel:   meta.UrgencyLevel,
			At:             reply.Timestamp,
		}
		if err := s.recorder.RecordResponse(ctx, stat); err != nil {
			s.logger.Warn("failed to record response analytics", "conversation_id", conv.ID, "error", err)
		}
	}

	if meta.UrgencyLevel == portal.UrgencyEmergency && s.audit != nil {
		if err := s.audit.LogEmergencyReply(ctx, conv.ID, reply.ID, conv.UserID, conv.Portal.String()); err != nil {
			s.logger.Error("failed to audit emergency reply", "conversation_id", conv.ID, "error", err)
		}
	}

	if s.audio != nil {
		go s.renderAudio(context.WithoutCancel(ctx), conv.ID, reply.ID, reply.Content)
	}
}

func (s *Service) renderAudio(ctx context.Context, conversationID, messageID, text string) {
	ctx, cancel := context.WithTimeout(ctx, audioRenderBudget)
	defer cancel()
	if err := s.audio.RenderReply(ctx, conversationID, messageID, text); err != nil {
		s.logger.Warn("reply audio not rendered", "conversation_id", conversationID, "message_id", messageID, "error", err)
	}
}

// transcriptTurns converts stored messages into provider turns in transcript order.
func transcriptTurns(msgs []Message) []llm.Turn {
	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: m.Content})
		case RoleAssistant:
			turns = append(turns, llm.Turn{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	return turns
}

func excerpt(text string) string {
	const limit = 200
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit]) + titleEllipsis
}

// ListConversations returns the caller's conversations in p, most recently updated first.
func (s *Service) ListConversations(ctx context.Context, caller Caller, p portal.Portal, page Page) ([]Summary, int, error) {
	if caller.UserID == "" {
		return nil, 0, invalid("userId", "is required")
	}
	if !p.Valid() {
		return nil, 0, invalid("portal", fmt.Sprintf("unknown portal %q", p))
	}
	return s.store.List(ctx, caller.UserID, p, page.Normalize())
}

// GetConversation returns one of the caller's conversations with its transcript.
func (s *Service) GetConversation(ctx context.Context, caller Caller, p portal.Portal, id string) (*Conversation, error) {
	if caller.UserID == "" {
		return nil, invalid("userId", "is required")
	}
	return s.store.FindOwned(ctx, id, caller.UserID, p)
}

// RateConversation records the owner's 1-5 rating. It can only be set once.
func (s *Service) RateConversation(ctx context.Context, caller Caller, p portal.Portal, id string, rating int, feedback string) error {
	if rating < 1 || rating > 5 {
		return invalid("rating", "must be between 1 and 5")
	}
	if caller.UserID == "" {
		return invalid("userId", "is required")
	}
	return s.store.Rate(ctx, id, caller.UserID, p, rating, strings.TrimSpace(feedback))
}

// EndConversation closes the conversation and attaches a summary.
func (s *Service) EndConversation(ctx context.Context, caller Caller, p portal.Portal, id, summary string, recommendations []string) (*Conversation, error) {
	if caller.UserID == "" {
		return nil, invalid("userId", "is required")
	}
	if strings.TrimSpace(summary) == "" {
		return nil, invalid("summary", "is required")
	}
	conv, err := s.store.End(ctx, id, caller.UserID, p, strings.TrimSpace(summary), recommendations)
	if err != nil {
		return nil, err
	}
	s.logger.Info("conversation ended", "conversation_id", id, "portal", p)
	return conv, nil
}
