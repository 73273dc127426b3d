package conversation

import (
	"github.com/wolfman30/medassist-platform/internal/analyzer"
	"github.com/wolfman30/medassist-platform/internal/portal"
)

// Profile is the caller profile supplied with a request. Each portal picks the
// fields it feeds into the prompt context.
type Profile struct {
	Age             *int     `json:"age,omitempty"`
	Gender          string   `json:"gender,omitempty"`
	MedicalHistory  []string `json:"medicalHistory,omitempty"`
	CurrentSymptoms []string `json:"currentSymptoms,omitempty"`
	Specialty       string   `json:"specialty,omitempty"`
	Experience      string   `json:"experience,omitempty"`
}

// flow is the per-portal composition used by the orchestrator.
type flow struct {
	profileContext func(Profile) portal.Context
	promote        func(analyzer.Analysis) portal.Context
}

var flows = map[portal.Portal]flow{
	portal.Wellness: {
		profileContext: func(p Profile) portal.Context {
			ctx := portal.Context{Base: portal.Base{PatientAge: p.Age, PatientGender: p.Gender}}
			if len(p.CurrentSymptoms) > 0 || len(p.MedicalHistory) > 0 {
				ctx.Wellness = &portal.WellnessContext{
					CurrentSymptoms: nonEmpty(p.CurrentSymptoms),
					MedicalHistory:  nonEmpty(p.MedicalHistory),
				}
			}
			return ctx
		},
		promote: func(a analyzer.Analysis) portal.Context {
			return portal.Context{Base: portal.Base{UrgencyLevel: a.UrgencyLevel}}
		},
	},
	portal.ClinicalSupport: {
		profileContext: func(p Profile) portal.Context {
			if p.Specialty == "" && p.Experience == "" {
				return portal.Context{}
			}
			return portal.Context{Clinical: &portal.ClinicalContext{Specialty: p.Specialty, Experience: p.Experience}}
		},
		promote: func(a analyzer.Analysis) portal.Context {
			if len(a.Diagnoses) == 0 {
				return portal.Context{}
			}
			return portal.Context{Clinical: &portal.ClinicalContext{RelevantConditions: a.Diagnoses}}
		},
	},
	portal.PatientAssist: {
		profileContext: func(p Profile) portal.Context {
			ctx := portal.Context{Base: portal.Base{PatientAge: p.Age, PatientGender: p.Gender}}
			if len(p.MedicalHistory) > 0 {
				ctx.PatientAssist = &portal.PatientAssistContext{MedicalHistory: nonEmpty(p.MedicalHistory)}
			}
			return ctx
		},
		promote: func(analyzer.Analysis) portal.Context { return portal.Context{} },
	},
}

func flowFor(p portal.Portal) flow {
	if f, ok := flows[p]; ok {
		return f
	}
	return flows[portal.Wellness]
}

// requestContext combines profile-derived fields with an explicit context update.
// Explicit fields win.
func requestContext(p portal.Portal, profile Profile, explicit portal.Context) (portal.Context, error) {
	base := flowFor(p).profileContext(profile)
	return base.Merge(p, explicit)
}

func nonEmpty(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return in
}
