package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/medassist-platform/internal/conversation"
	"github.com/wolfman30/medassist-platform/internal/portal"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

const reviewCategory = "review-pending"

// Service emails clinicians when an assistant reply is waiting for review.
type Service struct {
	email      EmailSender
	recipients []string
	baseURL    string
	logger     *logging.Logger
}

// NewService creates a reviewer notification service. baseURL, when set, is
// used to build a link to the pending review queue.
func NewService(email EmailSender, recipients []string, baseURL string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:      email,
		recipients: recipients,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// SenderConfig selects and configures the outbound email provider.
type SenderConfig struct {
	Provider string // auto, sendgrid, ses or stub
	SendGrid SendGridConfig
	SES      SESConfig
}

// NewEmailSender picks a sender for cfg. "auto" prefers SendGrid, then SES,
// and falls back to the logging stub when neither is configured.
func NewEmailSender(cfg SenderConfig, ses sesAPI, logger *logging.Logger) EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}
	if provider == "sendgrid" || provider == "auto" {
		if cfg.SendGrid.FromEmail != "" {
			if sender := NewSendGridSender(cfg.SendGrid, logger); sender != nil {
				logger.Info("sendgrid email sender initialized for review notifications")
				return sender
			}
		}
	}
	if provider == "ses" || provider == "auto" {
		if sender := NewSESSender(ses, cfg.SES, logger); sender != nil {
			logger.Info("ses email sender initialized for review notifications")
			return sender
		}
	}
	logger.Warn("review email notifications disabled", "provider", provider)
	return NewStubEmailSender(logger)
}

// NotifyReviewPending emails every configured reviewer about evt. Any failed
// delivery is reported so the event stays on the queue for another attempt.
func (s *Service) NotifyReviewPending(ctx context.Context, evt conversation.ReviewEvent) error {
	if s.email == nil || len(s.recipients) == 0 {
		s.logger.Debug("notify: no reviewer recipients configured, skipping", "conversation_id", evt.ConversationID)
		return nil
	}

	subject := fmt.Sprintf("Review needed: %s", reviewTitle(evt))
	if evt.UrgencyLevel == portal.UrgencyEmergency || evt.UrgencyLevel == portal.UrgencyHigh {
		subject = fmt.Sprintf("[%s] %s", strings.ToUpper(string(evt.UrgencyLevel)), subject)
	}
	link := ""
	if s.baseURL != "" {
		link = s.baseURL + "/api/reviews/pending"
	}

	body := fmt.Sprintf(`An assistant reply to a patient is waiting for clinician review.

Conversation: %s
Message: %s
Urgency: %s
Requested: %s

%s
%s
MedAssist`, evt.ConversationID, evt.MessageID, urgencyLabel(evt.UrgencyLevel),
		evt.RequestedAt.UTC().Format("January 2, 2006 at 3:04 PM MST"), evt.Excerpt, linkLine(link))

	htmlBody := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>Review needed</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px;"><strong>Conversation:</strong></td><td style="padding: 8px;">%s</td></tr>
  <tr><td style="padding: 8px;"><strong>Urgency:</strong></td><td style="padding: 8px;">%s</td></tr>
</table>
<blockquote style="border-left: 4px solid #e5e7eb; padding-left: 12px;">%s</blockquote>
%s
</div>`, html.EscapeString(evt.ConversationID), html.EscapeString(urgencyLabel(evt.UrgencyLevel)),
		html.EscapeString(evt.Excerpt), linkHTML(link))

	urgent := evt.UrgencyLevel == portal.UrgencyEmergency || evt.UrgencyLevel == portal.UrgencyHigh
	tags := map[string]string{
		"conversation_id": evt.ConversationID,
		"message_id":      evt.MessageID,
		"urgency":         urgencyLabel(evt.UrgencyLevel),
	}

	var errs []error
	undeliverable := 0
	for _, recipient := range s.recipients {
		msg := EmailMessage{
			To:       recipient,
			Subject:  subject,
			Text:     body,
			HTML:     htmlBody,
			Category: reviewCategory,
			Tags:     tags,
			Urgent:   urgent,
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send review email", "error", err, "to", recipient, "conversation_id", evt.ConversationID)
			errs = append(errs, err)
			if errors.Is(err, ErrUndeliverable) {
				undeliverable++
			}
			continue
		}
		s.logger.Info("notify: review email sent", "to", recipient, "conversation_id", evt.ConversationID, "message_id", evt.MessageID)
	}
	if len(errs) == 0 {
		return nil
	}
	err := fmt.Errorf("notify: %d of %d review notification(s) failed: %w", len(errs), len(s.recipients), errors.Join(errs...))
	if undeliverable == len(errs) {
		// Every failure is final, so redelivering the event cannot help.
		return fmt.Errorf("%w: %w", conversation.ErrNotificationUndeliverable, err)
	}
	return err
}

func reviewTitle(evt conversation.ReviewEvent) string {
	if t := strings.TrimSpace(evt.Title); t != "" {
		return t
	}
	return "patient conversation"
}

func urgencyLabel(u portal.Urgency) string {
	if u == "" {
		return "unknown"
	}
	return string(u)
}

func linkLine(link string) string {
	if link == "" {
		return ""
	}
	return "Open the review queue: " + link + "\n"
}

func linkHTML(link string) string {
	if link == "" {
		return ""
	}
	return fmt.Sprintf(`<p><a href="%s">Open the review queue</a></p>`, html.EscapeString(link))
}

var _ conversation.ReviewNotifier = (*Service)(nil)
