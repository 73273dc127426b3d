package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

// ErrUndeliverable marks a send the provider rejected outright. Retrying the
// same message will fail the same way.
var ErrUndeliverable = errors.New("notify: email undeliverable")

// EmailSender delivers one message to one recipient.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a single outbound email.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string // optional; Text is reused when empty

	// Category groups messages in provider dashboards, e.g. "review-pending".
	Category string
	// Tags are attached as SendGrid custom args or SES message tags.
	Tags map[string]string
	// Urgent raises the X-Priority header where the provider supports it.
	Urgent bool
}

// DeliveryError carries the provider status of a failed send.
type DeliveryError struct {
	Provider   string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("notify: %s send failed", e.Provider)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s with status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is matches ErrUndeliverable for permanent failures.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrUndeliverable && e.Permanent
}

// sendgridAPI is the part of *sendgrid.Client the sender uses.
type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends email through the SendGrid v3 API.
type SendGridSender struct {
	client    sendgridAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	return newSendGridSender(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func newSendGridSender(client sendgridAPI, cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

const defaultFromName = "MedAssist"

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	htmlBody := msg.HTML
	if htmlBody == "" {
		htmlBody = msg.Text
	}
	message := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.fromEmail),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Text,
		htmlBody,
	)
	if msg.Category != "" {
		message.AddCategories(msg.Category)
	}
	for k, v := range msg.Tags {
		message.SetCustomArg(k, v)
	}
	if msg.Urgent {
		message.SetHeader("X-Priority", "1")
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return &DeliveryError{Provider: "sendgrid", Err: err}
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", msg.To)
		return &DeliveryError{
			Provider:   "sendgrid",
			StatusCode: response.StatusCode,
			Permanent:  permanentStatus(response.StatusCode),
		}
	}

	s.logger.Info("email sent via sendgrid", "to", msg.To, "category", msg.Category, "status", response.StatusCode)
	return nil
}

// permanentStatus treats client errors other than throttling as final.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// StubEmailSender logs instead of sending. It is used when no provider is configured.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject, "category", msg.Category)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
