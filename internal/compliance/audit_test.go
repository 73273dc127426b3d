package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockService(t *testing.T) (*AuditService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := NewAuditService(db)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }
	return svc, mock
}

func TestLogReviewDecision(t *testing.T) {
	svc, mock := newMockService(t)
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO compliance_audit_events").
		WithArgs(sqlmock.AnyArg(), "review.approved", "conv-1", "msg-1", "clinician-1", "patient_assist", sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO compliance_audit_events").
		WithArgs(sqlmock.AnyArg(), "review.rejected", "conv-1", "msg-2", "clinician-2", "patient_assist", sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, svc.LogReviewDecision(context.Background(), "conv-1", "msg-1", "clinician-1", "approve", "fine"))
	require.NoError(t, svc.LogReviewDecision(context.Background(), "conv-1", "msg-2", "clinician-2", "reject", "unclear"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogEmergencyReply(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectExec("INSERT INTO compliance_audit_events").
		WithArgs(sqlmock.AnyArg(), "triage.emergency_reply", "conv-9", "msg-9", nil, "wellness", []byte(`{"patientRef":"user-9"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, svc.LogEmergencyReply(context.Background(), "conv-9", "msg-9", "user-9", "wellness"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogEventWrapsDatabaseErrors(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectExec("INSERT INTO compliance_audit_events").WillReturnError(errors.New("connection reset"))

	err := svc.LogEvent(context.Background(), AuditEvent{EventType: EventEmergencyReply, ConversationID: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compliance: failed to log audit event")
}

func TestQueryEvents(t *testing.T) {
	svc, mock := newMockService(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "event_type", "conversation_id", "message_id", "actor_id", "portal", "details", "created_at"}).
		AddRow("evt-1", "review.approved", "conv-1", "msg-1", "clinician-1", "patient_assist", []byte(`{"decision":"approve"}`), now).
		AddRow("evt-2", "triage.emergency_reply", "conv-1", "msg-0", nil, "patient_assist", []byte(`{}`), now.Add(-time.Minute))
	mock.ExpectQuery(`SELECT (.+) FROM compliance_audit_events WHERE 1 = 1 AND conversation_id = \$1 AND created_at >= \$2 ORDER BY created_at DESC LIMIT 50`).
		WithArgs("conv-1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	events, err := svc.QueryEvents(context.Background(), AuditFilter{
		ConversationID: "conv-1",
		StartTime:      now.Add(-time.Hour),
		Limit:          50,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventReviewApproved, events[0].EventType)
	assert.Equal(t, "clinician-1", events[0].ActorID)
	assert.Empty(t, events[1].ActorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
