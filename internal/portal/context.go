package portal

import (
	"errors"
	"fmt"
)

// ErrVariantMismatch is returned when a context carries fields for a portal other
// than the conversation's own.
var ErrVariantMismatch = errors.New("portal: context variant does not match portal")

// Base holds the caller fields shared by every portal.
type Base struct {
	PatientAge    *int    `json:"patientAge,omitempty"`
	PatientGender string  `json:"patientGender,omitempty"`
	UrgencyLevel  Urgency `json:"urgencyLevel,omitempty"`
}

// WellnessContext is the self-service patient profile.
type WellnessContext struct {
	CurrentSymptoms []string `json:"currentSymptoms,omitempty"`
	MedicalHistory  []string `json:"medicalHistory,omitempty"`
}

// ClinicalContext describes the clinician and the case hints promoted from replies.
type ClinicalContext struct {
	Specialty          string   `json:"specialty,omitempty"`
	Experience         string   `json:"experience,omitempty"`
	RelevantConditions []string `json:"relevantConditions,omitempty"`
}

// PatientAssistContext is the profile of a patient waiting on a clinician.
type PatientAssistContext struct {
	MedicalHistory []string `json:"medicalHistory,omitempty"`
}

// Context is the tagged per-portal context of a conversation. At most the variant
// matching the conversation's portal is set; Base fields are always allowed.
// Base is embedded so its fields serialize at the top level.
type Context struct {
	Base
	Wellness      *WellnessContext      `json:"wellness,omitempty"`
	Clinical      *ClinicalContext      `json:"clinical,omitempty"`
	PatientAssist *PatientAssistContext `json:"patientAssist,omitempty"`
}

// Validate checks that only the variant for p is populated.
func (c Context) Validate(p Portal) error {
	if c.PatientAge != nil && (*c.PatientAge < 0 || *c.PatientAge > 150) {
		return fmt.Errorf("portal: patient age %d out of range", *c.PatientAge)
	}
	if c.UrgencyLevel != "" && !c.UrgencyLevel.Valid() {
		return fmt.Errorf("portal: unknown urgency level %q", c.UrgencyLevel)
	}
	if c.Wellness != nil && p != Wellness {
		return fmt.Errorf("%w: wellness fields on %s", ErrVariantMismatch, p)
	}
	if c.Clinical != nil && p != ClinicalSupport {
		return fmt.Errorf("%w: clinical fields on %s", ErrVariantMismatch, p)
	}
	if c.PatientAssist != nil && p != PatientAssist {
		return fmt.Errorf("%w: patient assist fields on %s", ErrVariantMismatch, p)
	}
	return nil
}

// IsZero reports whether c carries no fields at all.
func (c Context) IsZero() bool {
	return c.PatientAge == nil && c.PatientGender == "" && c.UrgencyLevel == "" &&
		c.Wellness == nil && c.Clinical == nil && c.PatientAssist == nil
}

// Merge overlays update onto c for portal p. Set fields in update win; unset
// fields keep their current value. The receiver is not modified.
func (c Context) Merge(p Portal, update Context) (Context, error) {
	if err := update.Validate(p); err != nil {
		return c, err
	}
	out := c.Clone()
	if update.PatientAge != nil {
		age := *update.PatientAge
		out.PatientAge = &age
	}
	if update.PatientGender != "" {
		out.PatientGender = update.PatientGender
	}
	if update.UrgencyLevel != "" {
		out.UrgencyLevel = update.UrgencyLevel
	}
	if w := update.Wellness; w != nil {
		if out.Wellness == nil {
			out.Wellness = &WellnessContext{}
		}
		if w.CurrentSymptoms != nil {
			out.Wellness.CurrentSymptoms = cloneStrings(w.CurrentSymptoms)
		}
		if w.MedicalHistory != nil {
			out.Wellness.MedicalHistory = cloneStrings(w.MedicalHistory)
		}
	}
	if cl := update.Clinical; cl != nil {
		if out.Clinical == nil {
			out.Clinical = &ClinicalContext{}
		}
		if cl.Specialty != "" {
			out.Clinical.Specialty = cl.Specialty
		}
		if cl.Experience != "" {
			out.Clinical.Experience = cl.Experience
		}
		if cl.RelevantConditions != nil {
			out.Clinical.RelevantConditions = cloneStrings(cl.RelevantConditions)
		}
	}
	if pa := update.PatientAssist; pa != nil {
		if out.PatientAssist == nil {
			out.PatientAssist = &PatientAssistContext{}
		}
		if pa.MedicalHistory != nil {
			out.PatientAssist.MedicalHistory = cloneStrings(pa.MedicalHistory)
		}
	}
	return out, nil
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := Context{Base: c.Base}
	if c.PatientAge != nil {
		age := *c.PatientAge
		out.PatientAge = &age
	}
	if c.Wellness != nil {
		out.Wellness = &WellnessContext{
			CurrentSymptoms: cloneStrings(c.Wellness.CurrentSymptoms),
			MedicalHistory:  cloneStrings(c.Wellness.MedicalHistory),
		}
	}
	if c.Clinical != nil {
		out.Clinical = &ClinicalContext{
			Specialty:          c.Clinical.Specialty,
			Experience:         c.Clinical.Experience,
			RelevantConditions: cloneStrings(c.Clinical.RelevantConditions),
		}
	}
	if c.PatientAssist != nil {
		out.PatientAssist = &PatientAssistContext{MedicalHistory: cloneStrings(c.PatientAssist.MedicalHistory)}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
