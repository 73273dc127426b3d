package archive

import (
	"time"

	"github.com/wolfman30/medassist-platform/internal/conversation"
	"github.com/wolfman30/medassist-platform/internal/portal"
)

const recordVersion = "1.0"

// ConversationRecord is the JSON document written to S3 before a conversation
// is removed by retention. Message content is scrubbed and the owner is hashed.
type ConversationRecord struct {
	Version         string         `json:"version"`
	ConversationID  string         `json:"conversation_id"`
	Portal          portal.Portal  `json:"portal"`
	UserHash        string         `json:"user_hash"`
	Title           string         `json:"title"`
	Language        string         `json:"language"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ArchivedAt      time.Time      `json:"archived_at"`
	DurationSeconds int            `json:"duration_seconds"`
	MessageCount    int            `json:"message_count"`
	UrgencyLevel    portal.Urgency `json:"urgency_level,omitempty"`
	Rating          int            `json:"rating,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Messages        []Message      `json:"messages"`
}

// Message is a single archived turn.
type Message struct {
	Role         conversation.Role         `json:"role"`
	Content      string                    `json:"content"`
	Timestamp    time.Time                 `json:"timestamp"`
	Confidence   float64                   `json:"confidence,omitempty"`
	UrgencyLevel portal.Urgency            `json:"urgency_level,omitempty"`
	ReviewStatus conversation.ReviewStatus `json:"review_status,omitempty"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	ConversationID string         `json:"conversation_id"`
	S3Key          string         `json:"s3_key"`
	Portal         portal.Portal  `json:"portal"`
	UrgencyLevel   portal.Urgency `json:"urgency_level,omitempty"`
	ArchivedAt     string         `json:"archived_at"`
	MessageCount   int            `json:"message_count"`
}

// NewRecord builds the archived form of conv. Message content is passed
// through ScrubPII.
func NewRecord(conv *conversation.Conversation, archivedAt time.Time) *ConversationRecord {
	msgs := make([]Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		out := Message{Role: m.Role, Content: ScrubPII(m.Content), Timestamp: m.Timestamp}
		if m.Metadata != nil {
			out.Confidence = m.Metadata.Confidence
			out.UrgencyLevel = m.Metadata.UrgencyLevel
			if m.Metadata.Review != nil {
				out.ReviewStatus = m.Metadata.Review.Status
			}
		}
		msgs = append(msgs, out)
	}

	var duration int
	if len(msgs) >= 2 {
		duration = int(msgs[len(msgs)-1].Timestamp.Sub(msgs[0].Timestamp).Seconds())
	}

	return &ConversationRecord{
		Version:         recordVersion,
		ConversationID:  conv.ID,
		Portal:          conv.Portal,
		UserHash:        HashUser(conv.UserID),
		Title:           ScrubPII(conv.Title),
		Language:        conv.Language,
		CreatedAt:       conv.CreatedAt,
		UpdatedAt:       conv.UpdatedAt,
		ArchivedAt:      archivedAt.UTC(),
		DurationSeconds: duration,
		MessageCount:    len(msgs),
		UrgencyLevel:    conv.Context.UrgencyLevel,
		Rating:          conv.Rating,
		Summary:         ScrubPII(conv.Summary),
		Recommendations: scrubAll(conv.Recommendations),
		Messages:        msgs,
	}
}
