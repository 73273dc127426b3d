package conversation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medassist-platform/internal/portal"
)

func TestAnalyzeSymptoms(t *testing.T) {
	gen := &stubGenerator{replies: []string{"1. Viral infection\nSee doctor today if fever persists.\n- Rest"}}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()
	age := 34
	caller := Caller{UserID: "u1", Profile: Profile{Age: &age, Gender: "male"}}

	report, err := svc.AnalyzeSymptoms(ctx, caller, []string{" fever ", "cough", ""})
	require.NoError(t, err)
	assert.Equal(t, portal.UrgencyHigh, report.UrgencyLevel)
	assert.Equal(t, []string{"1. Viral infection", "- Rest"}, report.Recommendations)

	turns := gen.lastTurns()
	require.Len(t, turns, 1)
	assert.Contains(t, turns[0].Content, "Symptoms: fever, cough")
	assert.Contains(t, turns[0].Content, "34")

	conv, err := svc.GetConversation(ctx, caller, portal.Wellness, report.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Symptom Analysis: fever, cough", conv.Title)
	require.NotNil(t, conv.Context.Wellness)
	assert.Equal(t, []string{"fever", "cough"}, conv.Context.Wellness.CurrentSymptoms)
	assert.Equal(t, portal.UrgencyHigh, conv.Context.UrgencyLevel)
}

func TestAnalyzeSymptomsRejectsEmptyList(t *testing.T) {
	gen := &stubGenerator{}
	svc, _ := newTestService(t, gen)
	_, err := svc.AnalyzeSymptoms(context.Background(), patient("u1"), []string{" ", ""})
	assert.True(t, IsValidation(err))
	assert.Empty(t, gen.calls)
}

func TestDifferentialDiagnosisOpensClinicalConversation(t *testing.T) {
	gen := &stubGenerator{replies: []string{"1. Pneumonia\n2. Bronchitis\nICD-10: J18.9 J40. This follows evidence-based guidance."}}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()
	caller := Caller{UserID: "doc", Role: "clinician"}

	report, err := svc.DifferentialDiagnosis(ctx, caller, "Fever and productive cough for 5 days", map[string]any{"temp": 39.1})
	require.NoError(t, err)
	assert.Equal(t, []string{"1. Pneumonia", "2. Bronchitis"}, report.Diagnoses)
	assert.Equal(t, []string{"J18.9", "J40"}, report.Codes)
	assert.Equal(t, 0.9, report.Confidence)

	conv, err := svc.GetConversation(ctx, caller, portal.ClinicalSupport, report.ConversationID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(conv.Title, "Differential Diagnosis: "))
	assert.Len(t, conv.Messages, 2)

	_, err = svc.DifferentialDiagnosis(ctx, caller, " ", nil)
	assert.True(t, IsValidation(err))
}

func TestResearchQueryUsesSpecialty(t *testing.T) {
	gen := &stubGenerator{}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()
	caller := Caller{UserID: "doc"}

	report, err := svc.ResearchQuery(ctx, caller, "SGLT2 inhibitors in heart failure", "cardiology")
	require.NoError(t, err)
	conv, err := svc.GetConversation(ctx, caller, portal.ClinicalSupport, report.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv.Context.Clinical)
	assert.Equal(t, "cardiology", conv.Context.Clinical.Specialty)
	assert.Contains(t, gen.lastTurns()[0].Content, "cardiology")
}
