package conversation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wolfman30/medassist-platform/internal/analyzer"
	"github.com/wolfman30/medassist-platform/internal/portal"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ReviewStatus is the clinician review state of a gated assistant reply.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"

	// ReviewSuperseded marks a pending reply that was followed by another message
	// before any clinician resolved it.
	ReviewSuperseded ReviewStatus = "superseded"
)

const (
	titleMaxRunes   = 50
	titleEllipsis   = "..."
	defaultLanguage = "ar"
)

// Review is present only on replies produced under a review-gated portal.
type Review struct {
	NeedsReview bool         `json:"needsReview"`
	Status      ReviewStatus `json:"status"`
	ReviewedBy  string       `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time   `json:"reviewedAt,omitempty"`
	Feedback    string       `json:"feedback,omitempty"`
}

// Metadata decorates assistant messages. ProcessingTime is the provider latency in milliseconds.
type Metadata struct {
	Confidence      float64        `json:"confidence"`
	Tokens          int            `json:"tokens"`
	ProcessingTime  int64          `json:"processingTime"`
	Model           string         `json:"model,omitempty"`
	Sources         []string       `json:"sources,omitempty"`
	UrgencyLevel    portal.Urgency `json:"urgencyLevel,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Diagnoses       []string       `json:"diagnoses,omitempty"`
	Codes           []string       `json:"codes,omitempty"`
	Review          *Review        `json:"review,omitempty"`
}

// NeedsReview reports whether the message is still waiting for a clinician.
func (m *Metadata) NeedsReview() bool {
	return m != nil && m.Review != nil && m.Review.NeedsReview
}

// Message is one entry of a transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// Conversation is the durable record of an exchange in one portal.
type Conversation struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	SessionID       string         `json:"sessionId"`
	Portal          portal.Portal  `json:"portal"`
	Title           string         `json:"title"`
	Messages        []Message      `json:"messages"`
	Context         portal.Context `json:"context"`
	IsActive        bool           `json:"isActive"`
	Summary         string         `json:"summary,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Rating          int            `json:"rating,omitempty"`
	Feedback        string         `json:"feedback,omitempty"`
	Language        string         `json:"language"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// LastMessage returns the trailing message, if any.
func (c *Conversation) LastMessage() (Message, bool) {
	if c == nil || len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Summary is the list view of a conversation.
type Summary struct {
	ID           string         `json:"id"`
	Portal       portal.Portal  `json:"portal"`
	Title        string         `json:"title"`
	IsActive     bool           `json:"isActive"`
	UrgencyLevel portal.Urgency `json:"urgencyLevel,omitempty"`
	MessageCount int            `json:"messageCount"`
	Rating       int            `json:"rating,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// PendingReview is one entry of the clinician review queue.
type PendingReview struct {
	ConversationID string    `json:"conversationId"`
	PatientRef     string    `json:"patientRef"`
	Title          string    `json:"title"`
	Message        Message   `json:"message"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ReviewDecision is applied by Store.ResolveReview. MessageID is optional; when
// set, the decision applies only if that message is still the pending trailing reply.
type ReviewDecision struct {
	MessageID  string
	ReviewerID string
	Status     ReviewStatus
	Feedback   string
	At         time.Time
}

// Page selects a 1-based page of results.
type Page struct {
	Number int
	Size   int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// DeriveTitle returns the first 50 runes of text, with an ellipsis when longer.
func DeriveTitle(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleMaxRunes]) + titleEllipsis
}

// NewSessionID builds the unique session token for a new conversation.
func NewSessionID(p portal.Portal, userID string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%d", p, userID, now.UnixNano())
}

// metadataFromAnalysis copies analyzer output into message metadata.
func metadataFromAnalysis(a analyzer.Analysis) *Metadata {
	return &Metadata{
		Confidence:      a.Confidence,
		UrgencyLevel:    a.UrgencyLevel,
		Recommendations: a.Recommendations,
		Diagnoses:       a.Diagnoses,
		Codes:           a.Codes,
	}
}

func cloneConversation(c *Conversation) *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Context = c.Context.Clone()
	out.Recommendations = append([]string(nil), c.Recommendations...)
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = cloneMessage(m)
	}
	return &out
}

func cloneMessage(m Message) Message {
	if m.Metadata == nil {
		return m
	}
	md := *m.Metadata
	md.Sources = append([]string(nil), md.Sources...)
	md.Recommendations = append([]string(nil), md.Recommendations...)
	md.Diagnoses = append([]string(nil), md.Diagnoses...)
	md.Codes = append([]string(nil), md.Codes...)
	if md.Review != nil {
		r := *md.Review
		if r.ReviewedAt != nil {
			at := *r.ReviewedAt
			r.ReviewedAt = &at
		}
		md.Review = &r
	}
	m.Metadata = &md
	return m
}

func summarize(c *Conversation) Summary {
	return Summary{
		ID:           c.ID,
		Portal:       c.Portal,
		Title:        c.Title,
		IsActive:     c.IsActive,
		UrgencyLevel: c.Context.UrgencyLevel,
		MessageCount: len(c.Messages),
		Rating:       c.Rating,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
