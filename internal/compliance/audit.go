// Package compliance keeps an append-only audit trail of clinically relevant events.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType names an audited action.
type AuditEventType string

const (
	EventReviewApproved AuditEventType = "review.approved"
	EventReviewRejected AuditEventType = "review.rejected"
	// EventEmergencyReply is logged when a reply is classified at the emergency tier.
	EventEmergencyReply AuditEventType = "triage.emergency_reply"
)

// AuditEvent is an immutable audit record.
type AuditEvent struct {
	ID             string          `json:"id"`
	EventType      AuditEventType  `json:"eventType"`
	ConversationID string          `json:"conversationId"`
	MessageID      string          `json:"messageId,omitempty"`
	ActorID        string          `json:"actorId,omitempty"`
	Portal         string          `json:"portal,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// AuditDetails holds event-specific fields.
type AuditDetails struct {
	Decision   string `json:"decision,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
	PatientRef string `json:"patientRef,omitempty"`
}

// AuditService writes and reads compliance_audit_events.
type AuditService struct {
	db  *sql.DB
	now func() time.Time
}

func NewAuditService(db *sql.DB) *AuditService {
	if db == nil {
		panic("compliance: db cannot be nil")
	}
	return &AuditService{db: db, now: time.Now}
}

// LogEvent records event, filling in the id and timestamp when unset.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	details := []byte(event.Details)
	if len(details) == 0 {
		details = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compliance_audit_events (
			id, event_type, conversation_id, message_id, actor_id, portal, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		event.ID,
		string(event.EventType),
		event.ConversationID,
		nullString(event.MessageID),
		nullString(event.ActorID),
		nullString(event.Portal),
		details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// LogReviewDecision records a clinician approving or rejecting a reply.
func (s *AuditService) LogReviewDecision(ctx context.Context, conversationID, messageID, reviewerID, decision, feedback string) error {
	eventType := EventReviewRejected
	if decision == "approve" {
		eventType = EventReviewApproved
	}
	detailsJSON, _ := json.Marshal(AuditDetails{Decision: decision, Feedback: feedback})
	return s.LogEvent(ctx, AuditEvent{
		EventType:      eventType,
		ConversationID: conversationID,
		MessageID:      messageID,
		ActorID:        reviewerID,
		Portal:         "patient_assist",
		Details:        detailsJSON,
	})
}

// LogEmergencyReply records that a reply to userID was classified as an emergency.
func (s *AuditService) LogEmergencyReply(ctx context.Context, conversationID, messageID, userID, portalName string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{PatientRef: userID})
	return s.LogEvent(ctx, AuditEvent{
		EventType:      EventEmergencyReply,
		ConversationID: conversationID,
		MessageID:      messageID,
		Portal:         portalName,
		Details:        detailsJSON,
	})
}

// AuditFilter narrows QueryEvents. Zero fields are ignored.
type AuditFilter struct {
	ConversationID string
	EventType      AuditEventType
	StartTime      time.Time
	EndTime        time.Time
	Limit          int
	Offset         int
}

// QueryEvents returns matching events, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, conversation_id, message_id, actor_id, portal, details, created_at
		FROM compliance_audit_events
		WHERE 1 = 1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if filter.ConversationID != "" {
		add("conversation_id = $%d", filter.ConversationID)
	}
	if filter.EventType != "" {
		add("event_type = $%d", string(filter.EventType))
	}
	if !filter.StartTime.IsZero() {
		add("created_at >= $%d", filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		add("created_at <= $%d", filter.EndTime)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var eventType string
		var messageID, actorID, portalName sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &eventType, &e.ConversationID, &messageID, &actorID, &portalName, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.EventType = AuditEventType(eventType)
		e.MessageID = messageID.String
		e.ActorID = actorID.String
		e.Portal = portalName.String
		e.Details = json.RawMessage(details)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to iterate audit events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
