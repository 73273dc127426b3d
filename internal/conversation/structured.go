package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/medassist-platform/internal/portal"
	"github.com/wolfman30/medassist-platform/internal/prompts"
)

// SymptomReport is the result of a wellness symptom analysis.
type SymptomReport struct {
	ConversationID  string         `json:"conversationId"`
	Analysis        string         `json:"analysis"`
	UrgencyLevel    portal.Urgency `json:"urgencyLevel"`
	Recommendations []string       `json:"recommendations"`
}

// ClinicalReport is the result of a differential diagnosis or research query.
type ClinicalReport struct {
	ConversationID string   `json:"conversationId"`
	Content        string   `json:"content"`
	Diagnoses      []string `json:"diagnoses,omitempty"`
	Codes          []string `json:"codes,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// AnalyzeSymptoms opens a wellness conversation around a structured symptom
// request and returns the triage answer.
func (s *Service) AnalyzeSymptoms(ctx context.Context, caller Caller, symptoms []string) (*SymptomReport, error) {
	cleaned := make([]string, 0, len(symptoms))
	for _, sym := range symptoms {
		if sym = strings.TrimSpace(sym); sym != "" {
			cleaned = append(cleaned, sym)
		}
	}
	if len(cleaned) == 0 {
		return nil, invalid("symptoms", "at least one symptom is required")
	}
	if caller.UserID == "" {
		return nil, invalid("userId", "is required")
	}

	profile := caller.Profile
	profile.CurrentSymptoms = cleaned
	initial, err := requestContext(portal.Wellness, profile, portal.Context{})
	if err == nil {
		err = initial.Validate(portal.Wellness)
	}
	if err != nil {
		return nil, invalid("profile", err.Error())
	}

	conv, err := s.create(ctx, SendMessageRequest{
		Portal: portal.Wellness,
		Caller: caller,
		Title:  "Symptom Analysis: " + strings.Join(cleaned, ", "),
	}, initial)
	if err != nil {
		return nil, err
	}

	prompt := prompts.SymptomAnalysis(cleaned, prompts.PatientInfo{
		Age:            caller.Profile.Age,
		Gender:         caller.Profile.Gender,
		MedicalHistory: caller.Profile.MedicalHistory,
	})
	reply, err := s.exchange(ctx, conv, prompt)
	if err != nil {
		return nil, err
	}
	return &SymptomReport{
		ConversationID:  conv.ID,
		Analysis:        reply.Content,
		UrgencyLevel:    reply.Metadata.UrgencyLevel,
		Recommendations: reply.Metadata.Recommendations,
	}, nil
}

// DifferentialDiagnosis opens a clinical support conversation for a case description.
func (s *Service) DifferentialDiagnosis(ctx context.Context, caller Caller, caseDescription string, patientData map[string]any) (*ClinicalReport, error) {
	caseDescription = strings.TrimSpace(caseDescription)
	if caseDescription == "" {
		return nil, invalid("caseDescription", "is required")
	}
	return s.clinicalRequest(ctx, caller, "Differential Diagnosis: "+caseDescription,
		prompts.DifferentialDiagnosis(caseDescription, patientData))
}

// ResearchQuery opens a clinical support conversation for a literature question.
func (s *Service) ResearchQuery(ctx context.Context, caller Caller, query, specialty string) (*ClinicalReport, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid("query", "is required")
	}
	if specialty = strings.TrimSpace(specialty); specialty != "" && caller.Profile.Specialty == "" {
		caller.Profile.Specialty = specialty
	}
	return s.clinicalRequest(ctx, caller, "Research: "+query, prompts.Research(query, specialty))
}

func (s *Service) clinicalRequest(ctx context.Context, caller Caller, title, prompt string) (*ClinicalReport, error) {
	if caller.UserID == "" {
		return nil, invalid("userId", "is required")
	}
	initial, err := requestContext(portal.ClinicalSupport, caller.Profile, portal.Context{})
	if err != nil {
		return nil, invalid("profile", err.Error())
	}
	conv, err := s.create(ctx, SendMessageRequest{
		Portal: portal.ClinicalSupport,
		Caller: caller,
		Title:  title,
	}, initial)
	if err != nil {
		return nil, fmt.Errorf("conversation: open clinical request: %w", err)
	}
	reply, err := s.exchange(ctx, conv, prompt)
	if err != nil {
		return nil, err
	}
	return &ClinicalReport{
		ConversationID: conv.ID,
		Content:        reply.Content,
		Diagnoses:      reply.Metadata.Diagnoses,
		Codes:          reply.Metadata.Codes,
		Confidence:     reply.Metadata.Confidence,
	}, nil
}
