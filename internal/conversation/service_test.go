package conversation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medassist-platform/internal/llm"
	"github.com/wolfman30/medassist-platform/internal/portal"
)

func TestSendMessageWellnessEndToEnd(t *testing.T) {
	gen := &stubGenerator{replies: []string{"You should see doctor this week.\n1. Rest well\n- Drink fluids"}}
	stats := &recordingStats{}
	svc, _ := newTestService(t, gen, WithResponseRecorder(stats))
	ctx := context.Background()

	reply, err := svc.SendMessage(ctx, SendMessageRequest{
		Text:   "I have had a headache for three days",
		Portal: portal.Wellness,
		Caller: patient("user-1"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, reply.ConversationID)
	assert.Equal(t, portal.UrgencyMedium, reply.Metadata.UrgencyLevel)
	assert.Equal(t, []string{"1. Rest well", "- Drink fluids"}, reply.Metadata.Recommendations)
	assert.Nil(t, reply.Metadata.Review, "wellness replies carry no review block")
	assert.Equal(t, 42, reply.Metadata.Tokens)
	assert.Equal(t, int64(120), reply.Metadata.ProcessingTime)

	conv, err := svc.GetConversation(ctx, patient("user-1"), portal.Wellness, reply.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, RoleUser, conv.Messages[0].Role)
	assert.Equal(t, RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "I have had a headache for three days", conv.Title)
	assert.Equal(t, portal.UrgencyMedium, conv.Context.UrgencyLevel)
	assert.Equal(t, "ar", conv.Language)
	assert.True(t, strings.HasPrefix(conv.SessionID, "wellness-user-1-"))

	require.Len(t, stats.stats, 1)
	assert.Equal(t, portal.Wellness, stats.stats[0].Portal)
	assert.Equal(t, 120*time.Millisecond, stats.stats[0].ProcessingTime)
}

func TestSendMessagePassesFullTranscript(t *testing.T) {
	gen := &stubGenerator{}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()
	caller := patient("user-1")

	first, err := svc.SendMessage(ctx, SendMessageRequest{Text: "first", Portal: portal.Wellness, Caller: caller})
	require.NoError(t, err)
	require.Len(t, gen.lastTurns(), 1)

	for i := 2; i <= 4; i++ {
		_, err := svc.SendMessage(ctx, SendMessageRequest{
			ConversationID: first.ConversationID,
			Text:           fmt.Sprintf("message %d", i),
			Portal:         portal.Wellness,
			Caller:         caller,
		})
		require.NoError(t, err)
		turns := gen.lastTurns()
		require.Len(t, turns, 2*i-1, "history plus the new user message")
		assert.Equal(t, llm.RoleUser, turns[len(turns)-1].Role)
		assert.Equal(t, fmt.Sprintf("message %d", i), turns[len(turns)-1].Content)
	}

	conv, err := svc.GetConversation(ctx, caller, portal.Wellness, first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 8)
	assert.Equal(t, "first", conv.Title, "title is derived once")
	for i := 1; i < len(conv.Messages); i++ {
		assert.False(t, conv.Messages[i].Timestamp.Before(conv.Messages[i-1].Timestamp))
	}
}

func TestSendMessagePatientAssistNeedsReview(t *testing.T) {
	gen := &stubGenerator{replies: []string{"Take the medication with food."}}
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, gen, WithReviewPublisher(pub))

	reply, err := svc.SendMessage(context.Background(), SendMessageRequest{
		Text:   "When should I take my pills?",
		Portal: portal.PatientAssist,
		Caller: patient("patient-1"),
	})
	require.NoError(t, err)
	require.NotNil(t, reply.Metadata.Review)
	assert.True(t, reply.Metadata.Review.NeedsReview)
	assert.Equal(t, ReviewPending, reply.Metadata.Review.Status)

	require.Len(t, pub.events, 1)
	assert.Equal(t, reply.ConversationID, pub.events[0].ConversationID)
	assert.Equal(t, reply.MessageID, pub.events[0].MessageID)
	assert.Equal(t, "patient-1", pub.events[0].PatientRef)
}

func TestSendMessagePatientAssistContinuesLatestConversation(t *testing.T) {
	svc, _ := newTestService(t, &stubGenerator{})
	ctx := context.Background()
	caller := patient("patient-1")

	first, err := svc.SendMessage(ctx, SendMessageRequest{Text: "hello", Portal: portal.PatientAssist, Caller: caller})
	require.NoError(t, err)
	second, err := svc.SendMessage(ctx, SendMessageRequest{Text: "again", Portal: portal.PatientAssist, Caller: caller})
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID)
}

func TestSendMessageProviderFailureKeepsUserMessage(t *testing.T) {
	cases := []error{
		llm.ErrNotConfigured,
		&llm.ProviderError{Provider: "openai", StatusCode: 429, Kind: llm.ErrRateLimited},
		&llm.ProviderError{Provider: "openai", Kind: llm.ErrProviderUnavailable, Err: context.DeadlineExceeded},
	}
	for _, genErr := range cases {
		t.Run(llm.Outcome(genErr), func(t *testing.T) {
			svc, store := newTestService(t, &stubGenerator{err: genErr})
			ctx := context.Background()

			_, err := svc.SendMessage(ctx, SendMessageRequest{Text: "hello", Portal: portal.Wellness, Caller: patient("u")})
			require.Error(t, err)
			assert.ErrorIs(t, err, genErr)

			list, total, err := store.List(ctx, "u", portal.Wellness, Page{})
			require.NoError(t, err)
			require.Equal(t, 1, total)
			conv, err := store.Get(ctx, list[0].ID)
			require.NoError(t, err)
			require.Len(t, conv.Messages, 1)
			assert.Equal(t, RoleUser, conv.Messages[0].Role)
		})
	}
}

func TestSendMessageValidation(t *testing.T) {
	gen := &stubGenerator{}
	svc, store := newTestService(t, gen)
	ctx := context.Background()

	cases := map[string]SendMessageRequest{
		"empty text":    {Text: "   ", Portal: portal.Wellness, Caller: patient("u")},
		"long text":     {Text: strings.Repeat("a", maxMessageRunes+1), Portal: portal.Wellness, Caller: patient("u")},
		"bad portal":    {Text: "hi", Portal: "billing", Caller: patient("u")},
		"missing user":  {Text: "hi", Portal: portal.Wellness},
		"foreign ctx":   {Text: "hi", Portal: portal.Wellness, Caller: patient("u"), Context: portal.Context{Clinical: &portal.ClinicalContext{Specialty: "cardiology"}}},
		"negative age":  {Text: "hi", Portal: portal.Wellness, Caller: Caller{UserID: "u", Profile: Profile{Age: intPtr(-3)}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, req)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}
	assert.Empty(t, gen.calls, "validation happens before any provider call")
	_, total, err := store.List(ctx, "u", portal.Wellness, Page{})
	require.NoError(t, err)
	assert.Zero(t, total, "validation happens before any store mutation")
}

func TestSendMessageOwnershipAndPortalMismatch(t *testing.T) {
	svc, _ := newTestService(t, &stubGenerator{})
	ctx := context.Background()

	reply, err := svc.SendMessage(ctx, SendMessageRequest{Text: "hi", Portal: portal.Wellness, Caller: patient("owner")})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendMessageRequest{ConversationID: reply.ConversationID, Text: "hi", Portal: portal.Wellness, Caller: patient("intruder")})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.SendMessage(ctx, SendMessageRequest{ConversationID: reply.ConversationID, Text: "hi", Portal: portal.ClinicalSupport, Caller: patient("owner")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessageRejectsEndedConversation(t *testing.T) {
	svc, _ := newTestService(t, &stubGenerator{})
	ctx := context.Background()
	caller := patient("u")

	reply, err := svc.SendMessage(ctx, SendMessageRequest{Text: "hi", Portal: portal.Wellness, Caller: caller})
	require.NoError(t, err)
	_, err = svc.EndConversation(ctx, caller, portal.Wellness, reply.ConversationID, "resolved", []string{"rest"})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendMessageRequest{ConversationID: reply.ConversationID, Text: "more", Portal: portal.Wellness, Caller: caller})
	assert.ErrorIs(t, err, ErrConversationEnded)
}

func TestSendMessageClinicalPromotesDiagnoses(t *testing.T) {
	gen := &stubGenerator{replies: []string{"1. Migraine\n2. Tension headache\nICD-10: G43.9, G44.2"}}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()
	caller := Caller{UserID: "doc", Role: "clinician", Profile: Profile{Specialty: "neurology"}}

	reply, err := svc.SendMessage(ctx, SendMessageRequest{Text: "Recurring headaches", Portal: portal.ClinicalSupport, Caller: caller})
	require.NoError(t, err)
	assert.Equal(t, []string{"1. Migraine", "2. Tension headache"}, reply.Metadata.Diagnoses)
	assert.Equal(t, []string{"G43.9", "G44.2"}, reply.Metadata.Codes)
	assert.Empty(t, reply.Metadata.UrgencyLevel)

	conv, err := svc.GetConversation(ctx, caller, portal.ClinicalSupport, reply.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv.Context.Clinical)
	assert.Equal(t, "neurology", conv.Context.Clinical.Specialty)
	assert.Equal(t, []string{"1. Migraine", "2. Tension headache"}, conv.Context.Clinical.RelevantConditions)
}

func TestSendMessageAuditsEmergencyReplies(t *testing.T) {
	audit := &recordingAudit{}
	gen := &stubGenerator{replies: []string{"This is an emergency. Call 911."}}
	svc, _ := newTestService(t, gen, WithAuditLogger(audit))

	reply, err := svc.SendMessage(context.Background(), SendMessageRequest{Text: "chest pain", Portal: portal.Wellness, Caller: patient("u")})
	require.NoError(t, err)
	assert.Equal(t, portal.UrgencyEmergency, reply.Metadata.UrgencyLevel)
	assert.Equal(t, []string{reply.ConversationID}, audit.emergency)
}

type chanRenderer struct{ done chan string }

func (r chanRenderer) RenderReply(_ context.Context, _, messageID, _ string) error {
	r.done <- messageID
	return nil
}

func TestSendMessageRendersAudioAfterCommit(t *testing.T) {
	renderer := chanRenderer{done: make(chan string, 1)}
	svc, _ := newTestService(t, &stubGenerator{}, WithAudioRenderer(renderer))

	reply, err := svc.SendMessage(context.Background(), SendMessageRequest{Text: "hi", Portal: portal.Wellness, Caller: patient("u")})
	require.NoError(t, err)

	select {
	case id := <-renderer.done:
		assert.Equal(t, reply.MessageID, id)
	case <-time.After(time.Second):
		t.Fatal("audio renderer was not invoked")
	}
}

func TestRateConversation(t *testing.T) {
	svc, _ := newTestService(t, &stubGenerator{})
	ctx := context.Background()
	caller := patient("u")
	reply, err := svc.SendMessage(ctx, SendMessageRequest{Text: "hi", Portal: portal.Wellness, Caller: caller})
	require.NoError(t, err)

	err = svc.RateConversation(ctx, caller, portal.Wellness, reply.ConversationID, 6, "")
	assert.True(t, IsValidation(err))

	require.NoError(t, svc.RateConversation(ctx, caller, portal.Wellness, reply.ConversationID, 5, "helpful"))
	err = svc.RateConversation(ctx, caller, portal.Wellness, reply.ConversationID, 4, "")
	assert.ErrorIs(t, err, ErrAlreadyRated)

	conv, err := svc.GetConversation(ctx, caller, portal.Wellness, reply.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 5, conv.Rating)
	assert.Equal(t, "helpful", conv.Feedback)
}

func TestEndConversationRequiresSummary(t *testing.T) {
	svc, _ := newTestService(t, &stubGenerator{})
	_, err := svc.EndConversation(context.Background(), patient("u"), portal.Wellness, "missing", " ", nil)
	assert.True(t, IsValidation(err))
}

func TestListConversationsOrdersByUpdatedAt(t *testing.T) {
	svc, _ := newTestService(t, &stubGenerator{})
	ctx := context.Background()
	caller := patient("u")

	var ids []string
	for i := 0; i < 3; i++ {
		reply, err := svc.SendMessage(ctx, SendMessageRequest{Text: fmt.Sprintf("topic %d", i), Portal: portal.Wellness, Caller: caller})
		require.NoError(t, err)
		ids = append(ids, reply.ConversationID)
	}
	_, err := svc.SendMessage(ctx, SendMessageRequest{ConversationID: ids[0], Text: "follow up", Portal: portal.Wellness, Caller: caller})
	require.NoError(t, err)

	items, total, err := svc.ListConversations(ctx, caller, portal.Wellness, Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, ids[0], items[0].ID)
	assert.Equal(t, ids[2], items[1].ID)
	assert.Equal(t, 4, items[0].MessageCount)
}

func intPtr(v int) *int { return &v }
