package conversation

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medassist-platform/internal/portal"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock), mock
}

var (
	conversationCols = []string{"id", "user_id", "session_id", "portal", "title", "context", "is_active", "summary",
		"recommendations", "rating", "feedback", "language", "created_at", "updated_at"}
	messageCols = []string{"id", "role", "content", "metadata", "needs_review", "review_status",
		"reviewed_by", "reviewed_at", "review_feedback", "created_at"}
)

func TestPostgresStoreCreate(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	conv := &Conversation{ID: uuid.NewString(), UserID: "u1", SessionID: "wellness-u1-1", Portal: portal.Wellness, IsActive: true, Language: "ar", CreatedAt: now}

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(conv.ID, "u1", "wellness-u1-1", "wellness", "", pgxmock.AnyArg(), true, "", []string{}, "ar", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.Create(context.Background(), conv))

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(conv.ID, "u1", "wellness-u1-1", "wellness", "", pgxmock.AnyArg(), true, "", []string{}, "ar", now, now).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	err := store.Create(context.Background(), conv)
	assert.True(t, IsValidation(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreFindOwnedLoadsTranscript(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	reviewedAt := created.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id::text, user_id")).
		WithArgs(id, "u1", "patient_assist").
		WillReturnRows(pgxmock.NewRows(conversationCols).AddRow(
			id, "u1", "patient_assist-u1-1", "patient_assist", "Dosage", []byte(`{"patientAge":40}`), true, "",
			[]string{}, 0, "", "en", created, reviewedAt,
		))
	mock.ExpectQuery("FROM conversation_messages WHERE conversation_id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(messageCols).
			AddRow("m1", "user", "How much?", []byte(nil), false, "", "", sql.NullTime{}, "", created).
			AddRow("m2", "assistant", "Two tablets.", []byte(`{"confidence":0.7,"tokens":12}`), false, "approved",
				"clinician-1", sql.NullTime{Time: reviewedAt, Valid: true}, "ok", created.Add(time.Second)))

	conv, err := store.FindOwned(context.Background(), id, "u1", portal.PatientAssist)
	require.NoError(t, err)
	assert.Equal(t, portal.PatientAssist, conv.Portal)
	require.NotNil(t, conv.Context.PatientAge)
	assert.Equal(t, 40, *conv.Context.PatientAge)
	require.Len(t, conv.Messages, 2)
	assert.Nil(t, conv.Messages[0].Metadata)

	review := conv.Messages[1].Metadata.Review
	require.NotNil(t, review)
	assert.Equal(t, ReviewApproved, review.Status)
	assert.Equal(t, "clinician-1", review.ReviewedBy)
	require.NotNil(t, review.ReviewedAt)
	assert.True(t, reviewedAt.Equal(*review.ReviewedAt))
	assert.Equal(t, 12, conv.Messages[1].Metadata.Tokens)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreFindOwnedMismatchIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id::text, user_id")).
		WithArgs(id, "intruder", "wellness").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindOwned(context.Background(), id, "intruder", portal.Wellness)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindOwned(context.Background(), "not-a-uuid", "u1", portal.Wellness)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendMessage(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	sent := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	stored := sent.Add(time.Millisecond)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations").
		WithArgs(id, "assistant", "Rest and hydrate.").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE conversation_messages").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO conversation_messages").
		WithArgs("m1", id, "assistant", "Rest and hydrate.", pgxmock.AnyArg(), true, pgxmock.AnyArg(), sent).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(stored))
	mock.ExpectCommit()

	msg, err := store.AppendMessage(context.Background(), id, Message{
		ID:        "m1",
		Role:      RoleAssistant,
		Content:   "Rest and hydrate.",
		Timestamp: sent,
		Metadata:  &Metadata{Confidence: 0.7, Review: &Review{NeedsReview: true, Status: ReviewPending}},
	})
	require.NoError(t, err)
	assert.Equal(t, stored, msg.Timestamp, "the store clamps the timestamp")
	assert.True(t, msg.Metadata.NeedsReview())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendMessageUnknownConversation(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations").
		WithArgs(id, "user", "hi").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := store.AppendMessage(context.Background(), id, Message{ID: "m1", Role: RoleUser, Content: "hi", Timestamp: time.Now()})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreResolveReview(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE conversation_messages").
		WithArgs(id, "approved", "clinician-1", at, pgxmock.AnyArg(), "").
		WillReturnRows(pgxmock.NewRows(messageCols).AddRow(
			"m2", "assistant", "Two tablets.", []byte(`{"confidence":0.7}`), false, "approved",
			"clinician-1", sql.NullTime{Time: at, Valid: true}, "", at.Add(-time.Minute)))
	mock.ExpectExec("UPDATE conversations SET updated_at").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	msg, err := store.ResolveReview(context.Background(), id, ReviewDecision{ReviewerID: "clinician-1", Status: ReviewApproved, At: at})
	require.NoError(t, err)
	assert.Equal(t, ReviewApproved, msg.Metadata.Review.Status)
	assert.False(t, msg.Metadata.Review.NeedsReview)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE conversation_messages").
		WithArgs(id, "rejected", "clinician-2", at, pgxmock.AnyArg(), "").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = store.ResolveReview(context.Background(), id, ReviewDecision{ReviewerID: "clinician-2", Status: ReviewRejected, At: at})
	assert.ErrorIs(t, err, ErrReviewConflict)

	// A decision pinned to a reply that is no longer the pending trailing one matches no row.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE conversation_messages").
		WithArgs(id, "approved", "clinician-2", at, pgxmock.AnyArg(), "m1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = store.ResolveReview(context.Background(), id, ReviewDecision{MessageID: "m1", ReviewerID: "clinician-2", Status: ReviewApproved, At: at})
	assert.ErrorIs(t, err, ErrReviewConflict)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRate(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	ctx := context.Background()

	mock.ExpectExec("UPDATE conversations SET rating").
		WithArgs(id, "u1", "wellness", 5, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.Rate(ctx, id, "u1", portal.Wellness, 5, "great"))

	mock.ExpectExec("UPDATE conversations SET rating").
		WithArgs(id, "u1", "wellness", 4, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT rating IS NOT NULL").WithArgs(id, "u1", "wellness").
		WillReturnRows(pgxmock.NewRows([]string{"rated"}).AddRow(true))
	assert.ErrorIs(t, store.Rate(ctx, id, "u1", portal.Wellness, 4, ""), ErrAlreadyRated)

	mock.ExpectExec("UPDATE conversations SET rating").
		WithArgs(id, "u2", "wellness", 4, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT rating IS NOT NULL").
		WithArgs(id, "u2", "wellness").
		WillReturnError(pgx.ErrNoRows)
	assert.ErrorIs(t, store.Rate(ctx, id, "u2", portal.Wellness, 4, ""), ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreList(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT").WithArgs("u1", "wellness").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("SELECT c.id::text").WithArgs("u1", "wellness", 2, 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "portal", "title", "is_active", "urgency", "rating", "created_at", "updated_at", "count"}).
			AddRow("c3", "wellness", "Cough", true, "medium", 0, now, now, 4))

	items, total, err := store.List(context.Background(), "u1", portal.Wellness, Page{Number: 2, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, portal.UrgencyMedium, items[0].UrgencyLevel)
	assert.Equal(t, 4, items[0].MessageCount)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMergeContext(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT context FROM conversations").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"context"}).AddRow([]byte(`{"patientGender":"female"}`)))
	mock.ExpectExec("UPDATE conversations SET context").WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	merged, err := store.MergeContext(context.Background(), id, portal.Wellness, portal.Context{Base: portal.Base{UrgencyLevel: portal.UrgencyLow}})
	require.NoError(t, err)
	assert.Equal(t, "female", merged.PatientGender)
	assert.Equal(t, portal.UrgencyLow, merged.UrgencyLevel)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDelete(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	mock.ExpectExec("DELETE FROM conversations").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM conversations").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.Delete(context.Background(), id))
	assert.ErrorIs(t, store.Delete(context.Background(), id), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListExpiredUsesCursor(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.NewString()
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	updated := cutoff.Add(-48 * time.Hour)
	cursor := &ExpiredCursor{UpdatedAt: updated.Add(-time.Hour), ID: "0b7c9f0e-0000-4000-8000-000000000000"}

	mock.ExpectQuery("FROM conversations\\s+WHERE is_active = false").
		WithArgs(cutoff, pgxmock.AnyArg(), cursor.ID, 2).
		WillReturnRows(pgxmock.NewRows(conversationCols).AddRow(
			id, "u1", "wellness-u1-1", "wellness", "Cough", []byte(`{}`), false, "done",
			[]string{}, 0, "", "ar", updated, updated,
		))
	mock.ExpectQuery("FROM conversation_messages WHERE conversation_id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(messageCols))

	convs, err := store.ListExpired(context.Background(), cutoff, cursor, 2)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, id, convs[0].ID)
	assert.Empty(t, convs[0].Messages)

	require.NoError(t, mock.ExpectationsWereMet())
}
