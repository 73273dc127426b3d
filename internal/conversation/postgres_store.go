package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/medassist-platform/internal/portal"
)

var storeTracer = otel.Tracer("medassist.internal.conversation.store")

// PgxPool is the subset of pgxpool.Pool used by PostgresStore.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists conversations in the conversations and
// conversation_messages tables.
type PostgresStore struct {
	pool PgxPool
}

func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("conversation: pgx pool cannot be nil")
	}
	return &PostgresStore{pool: pool}
}

const conversationColumns = `id::text, user_id, session_id, portal, title, context, is_active, summary,
	recommendations, COALESCE(rating, 0), COALESCE(feedback, ''), language, created_at, updated_at`

const messageColumns = `id::text, role, content, metadata, needs_review, COALESCE(review_status, ''),
	COALESCE(reviewed_by, ''), reviewed_at, COALESCE(review_feedback, ''), created_at`

const uniqueViolation = "23505"

func (s *PostgresStore) Create(ctx context.Context, conv *Conversation) error {
	ctx, span := s.span(ctx, "create", conv.ID)
	defer span.End()

	rawContext, err := json.Marshal(conv.Context)
	if err != nil {
		return fmt.Errorf("conversation: encode context: %w", err)
	}
	recs := conv.Recommendations
	if recs == nil {
		recs = []string{}
	}
	updatedAt := conv.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = conv.CreatedAt
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (id, user_id, session_id, portal, title, context, is_active, summary, recommendations, language, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, conv.ID, conv.UserID, conv.SessionID, string(conv.Portal), conv.Title, rawContext, conv.IsActive, conv.Summary, recs, conv.Language, conv.CreatedAt, updatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return invalid("sessionId", "already exists")
		}
		return fmt.Errorf("conversation: insert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Conversation, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return s.loadConversation(ctx, row)
}

func (s *PostgresStore) FindOwned(ctx context.Context, id, userID string, p portal.Portal) (*Conversation, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND user_id = $2 AND portal = $3`, id, userID, string(p))
	return s.loadConversation(ctx, row)
}

func (s *PostgresStore) LatestActive(ctx context.Context, userID string, p portal.Portal) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE user_id = $1 AND portal = $2 AND is_active = true
		ORDER BY updated_at DESC LIMIT 1`, userID, string(p))
	return s.loadConversation(ctx, row)
}

func (s *PostgresStore) AppendMessage(ctx context.Context, id string, msg Message) (Message, error) {
	if !validID(id) {
		return Message{}, ErrNotFound
	}
	ctx, span := s.span(ctx, "append", id)
	defer span.End()

	rawMeta, needsReview, reviewStatus, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return Message{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("conversation: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Locks the conversation row so appends to one conversation are serialized.
	tag, err := tx.Exec(ctx, `
		UPDATE conversations
		SET updated_at = now(),
		    title = CASE WHEN title = '' AND $2::text = 'user' THEN $3::text ELSE title END
		WHERE id = $1
	`, id, string(msg.Role), DeriveTitle(msg.Content))
	if err != nil {
		return Message{}, fmt.Errorf("conversation: touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Message{}, ErrNotFound
	}

	// Only the trailing message may wait for review.
	if _, err := tx.Exec(ctx, `
		UPDATE conversation_messages
		SET needs_review = false, review_status = 'superseded'
		WHERE conversation_id = $1 AND needs_review = true
	`, id); err != nil {
		return Message{}, fmt.Errorf("conversation: supersede pending reviews: %w", err)
	}

	var storedAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, role, content, metadata, needs_review, review_status, created_at)
		SELECT $1::uuid, $2::uuid, $3::text, $4::text, $5::jsonb, $6::boolean, $7::text,
		       GREATEST($8::timestamptz, COALESCE(MAX(created_at), $8::timestamptz))
		FROM conversation_messages WHERE conversation_id = $2::uuid
		RETURNING created_at
	`, msg.ID, id, string(msg.Role), msg.Content, rawMeta, needsReview, reviewStatus, msg.Timestamp).Scan(&storedAt)
	if err != nil {
		return Message{}, fmt.Errorf("conversation: insert message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("conversation: commit append: %w", err)
	}

	stored := cloneMessage(msg)
	stored.Timestamp = storedAt
	return stored, nil
}

func (s *PostgresStore) MergeContext(ctx context.Context, id string, p portal.Portal, update portal.Context) (portal.Context, error) {
	if !validID(id) {
		return portal.Context{}, ErrNotFound
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return portal.Context{}, fmt.Errorf("conversation: begin merge: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw []byte
	if err := tx.QueryRow(ctx, `SELECT context FROM conversations WHERE id = $1 FOR UPDATE`, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return portal.Context{}, ErrNotFound
		}
		return portal.Context{}, fmt.Errorf("conversation: load context: %w", err)
	}
	var current portal.Context
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &current); err != nil {
			return portal.Context{}, fmt.Errorf("conversation: decode context: %w", err)
		}
	}
	merged, err := current.Merge(p, update)
	if err != nil {
		return portal.Context{}, invalid("context", err.Error())
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return portal.Context{}, fmt.Errorf("conversation: encode context: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations SET context = $2, updated_at = now() WHERE id = $1`, id, encoded); err != nil {
		return portal.Context{}, fmt.Errorf("conversation: update context: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return portal.Context{}, fmt.Errorf("conversation: commit merge: %w", err)
	}
	return merged, nil
}

func (s *PostgresStore) ResolveReview(ctx context.Context, id string, decision ReviewDecision) (Message, error) {
	if !validID(id) {
		return Message{}, ErrNotFound
	}
	ctx, span := s.span(ctx, "resolve_review", id)
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("conversation: begin review: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Only the trailing message may be resolved, and only while it still needs review.
	row := tx.QueryRow(ctx, `
		UPDATE conversation_messages
		SET needs_review = false, review_status = $2, reviewed_by = $3, reviewed_at = $4, review_feedback = $5
		WHERE conversation_id = $1
		  AND needs_review = true
		  AND role = 'assistant'
		  AND seq = (SELECT MAX(seq) FROM conversation_messages WHERE conversation_id = $1)
		  AND ($6::text = '' OR id::text = $6::text)
		RETURNING `+messageColumns,
		id, string(decision.Status), decision.ReviewerID, decision.At, nullIfEmpty(decision.Feedback), decision.MessageID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrReviewConflict
		}
		return Message{}, fmt.Errorf("conversation: resolve review: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, id); err != nil {
		return Message{}, fmt.Errorf("conversation: touch conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("conversation: commit review: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, p portal.Portal, page Page) ([]Summary, int, error) {
	page = page.Normalize()
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE user_id = $1 AND portal = $2`, userID, string(p)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("conversation: count conversations: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c.id::text, c.portal, c.title, c.is_active, COALESCE(c.context->>'urgencyLevel', ''),
		       COALESCE(c.rating, 0), c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM conversation_messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE c.user_id = $1 AND c.portal = $2
		ORDER BY c.updated_at DESC
		LIMIT $3 OFFSET $4
	`, userID, string(p), page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("conversation: list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0, page.Size)
	for rows.Next() {
		var sum Summary
		var portalName, urgency string
		if err := rows.Scan(&sum.ID, &portalName, &sum.Title, &sum.IsActive, &urgency, &sum.Rating, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, 0, fmt.Errorf("conversation: scan summary: %w", err)
		}
		sum.Portal = portal.Portal(portalName)
		sum.UrgencyLevel = portal.Urgency(urgency)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("conversation: iterate summaries: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) ListPendingReview(ctx context.Context, page Page) ([]PendingReview, int, error) {
	page = page.Normalize()
	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversation_messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.portal = $1 AND m.needs_review = true
	`, string(portal.PatientAssist)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("conversation: count pending reviews: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c.id::text, c.user_id, c.title, c.updated_at,
		       m.id::text, m.role, m.content, m.metadata, m.needs_review, COALESCE(m.review_status, ''),
		       COALESCE(m.reviewed_by, ''), m.reviewed_at, COALESCE(m.review_feedback, ''), m.created_at
		FROM conversation_messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.portal = $1 AND m.needs_review = true
		ORDER BY c.updated_at DESC, m.seq ASC
		LIMIT $2 OFFSET $3
	`, string(portal.PatientAssist), page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("conversation: list pending reviews: %w", err)
	}
	defer rows.Close()

	out := make([]PendingReview, 0, page.Size)
	for rows.Next() {
		var item PendingReview
		var mr messageRow
		if err := rows.Scan(&item.ConversationID, &item.PatientRef, &item.Title, &item.UpdatedAt,
			&mr.id, &mr.role, &mr.content, &mr.metadata, &mr.needsReview, &mr.reviewStatus,
			&mr.reviewedBy, &mr.reviewedAt, &mr.reviewFeedback, &mr.createdAt); err != nil {
			return nil, 0, fmt.Errorf("conversation: scan pending review: %w", err)
		}
		msg, err := mr.toMessage()
		if err != nil {
			return nil, 0, err
		}
		item.Message = msg
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("conversation: iterate pending reviews: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) Rate(ctx context.Context, id, userID string, p portal.Portal, rating int, feedback string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET rating = $4, feedback = $5, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND portal = $3 AND rating IS NULL
	`, id, userID, string(p), rating, nullIfEmpty(feedback))
	if err != nil {
		return fmt.Errorf("conversation: rate conversation: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var rated bool
	err = s.pool.QueryRow(ctx, `SELECT rating IS NOT NULL FROM conversations WHERE id = $1 AND user_id = $2 AND portal = $3`, id, userID, string(p)).Scan(&rated)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("conversation: check rating: %w", err)
	case rated:
		return ErrAlreadyRated
	}
	return fmt.Errorf("conversation: rating not applied for %s", id)
}

func (s *PostgresStore) End(ctx context.Context, id, userID string, p portal.Portal, summary string, recommendations []string) (*Conversation, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	if recommendations == nil {
		recommendations = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET is_active = false, summary = $4, recommendations = $5, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND portal = $3
	`, id, userID, string(p), summary, recommendations)
	if err != nil {
		return nil, fmt.Errorf("conversation: end conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.FindOwned(ctx, id, userID, p)
}

func (s *PostgresStore) ListExpired(ctx context.Context, before time.Time, after *ExpiredCursor, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = maxPageSize
	}
	var afterAt *time.Time
	afterID := ""
	if after != nil {
		afterAt = &after.UpdatedAt
		afterID = after.ID
	}
	rows, err := s.pool.Query(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE is_active = false AND updated_at < $1
		  AND ($2::timestamptz IS NULL OR (updated_at, id::text) > ($2::timestamptz, $3::text))
		ORDER BY updated_at ASC, id::text ASC LIMIT $4`, before, afterAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: list expired: %w", err)
	}
	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, conv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate expired: %w", err)
	}
	for _, conv := range convs {
		msgs, err := s.loadMessages(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		conv.Messages = msgs
	}
	return convs, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("conversation: delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) loadConversation(ctx context.Context, row pgx.Row) (*Conversation, error) {
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	msgs, err := s.loadMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

func (s *PostgresStore) loadMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM conversation_messages WHERE conversation_id = $1 ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation: load messages: %w", err)
	}
	defer rows.Close()
	msgs := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate messages: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) span(ctx context.Context, op, id string) (context.Context, trace.Span) {
	ctx, span := storeTracer.Start(ctx, "conversation.store."+op)
	span.SetAttributes(attribute.String("medassist.conversation_id", id))
	return ctx, span
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var conv Conversation
	var portalName string
	var rawContext []byte
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.SessionID, &portalName, &conv.Title, &rawContext,
		&conv.IsActive, &conv.Summary, &conv.Recommendations, &conv.Rating, &conv.Feedback,
		&conv.Language, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("conversation: scan conversation: %w", err)
	}
	conv.Portal = portal.Portal(portalName)
	if len(rawContext) > 0 {
		if err := json.Unmarshal(rawContext, &conv.Context); err != nil {
			return nil, fmt.Errorf("conversation: decode context: %w", err)
		}
	}
	return &conv, nil
}

type messageRow struct {
	id             string
	role           string
	content        string
	metadata       []byte
	needsReview    bool
	reviewStatus   string
	reviewedBy     string
	reviewedAt     sql.NullTime
	reviewFeedback string
	createdAt      time.Time
}

func scanMessage(row pgx.Row) (Message, error) {
	var mr messageRow
	if err := row.Scan(&mr.id, &mr.role, &mr.content, &mr.metadata, &mr.needsReview, &mr.reviewStatus,
		&mr.reviewedBy, &mr.reviewedAt, &mr.reviewFeedback, &mr.createdAt); err != nil {
		return Message{}, err
	}
	return mr.toMessage()
}

func (mr messageRow) toMessage() (Message, error) {
	msg := Message{ID: mr.id, Role: Role(mr.role), Content: mr.content, Timestamp: mr.createdAt}
	if len(mr.metadata) > 0 {
		var md Metadata
		if err := json.Unmarshal(mr.metadata, &md); err != nil {
			return Message{}, fmt.Errorf("conversation: decode metadata: %w", err)
		}
		msg.Metadata = &md
	}
	if mr.reviewStatus != "" {
		if msg.Metadata == nil {
			msg.Metadata = &Metadata{}
		}
		review := &Review{
			NeedsReview: mr.needsReview,
			Status:      ReviewStatus(mr.reviewStatus),
			ReviewedBy:  mr.reviewedBy,
			Feedback:    mr.reviewFeedback,
		}
		if mr.reviewedAt.Valid {
			at := mr.reviewedAt.Time
			review.ReviewedAt = &at
		}
		msg.Metadata.Review = review
	}
	return msg, nil
}

// encodeMetadata splits the review block into its own columns so the review
// guard can be a plain conditional UPDATE.
func encodeMetadata(md *Metadata) ([]byte, bool, *string, error) {
	if md == nil {
		return nil, false, nil, nil
	}
	body := *md
	body.Review = nil
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, false, nil, fmt.Errorf("conversation: encode metadata: %w", err)
	}
	if md.Review == nil {
		return raw, false, nil, nil
	}
	status := string(md.Review.Status)
	return raw, md.Review.NeedsReview, &status, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
