package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
)

const notSpecified = "Not specified"

// PatientInfo is the subset of a patient profile quoted in structured requests.
type PatientInfo struct {
	Age            *int
	Gender         string
	MedicalHistory []string
}

// SymptomAnalysis formats a symptom list into a request for a structured triage answer.
func SymptomAnalysis(symptoms []string, info PatientInfo) string {
	var b strings.Builder
	writePatientInfo(&b, info)
	fmt.Fprintf(&b, "\nSymptoms: %s\n\n", strings.Join(symptoms, ", "))
	b.WriteString(`Please provide:
1. Possible conditions (with likelihood)
2. Urgency level (low/medium/high/emergency)
3. Recommended actions
4. When to seek immediate care
5. Self-care recommendations

Format your response in a clear, structured way for a patient to understand.`)
	return b.String()
}

// DifferentialDiagnosis formats a clinical case for a ranked differential.
func DifferentialDiagnosis(caseDescription string, patientData map[string]any) string {
	data := "{}"
	if len(patientData) > 0 {
		if raw, err := json.MarshalIndent(patientData, "", "  "); err == nil {
			data = string(raw)
		}
	}
	return fmt.Sprintf(`Clinical Case:
%s

Patient Data:
%s

Please provide:
1. Differential diagnosis (ranked by likelihood)
2. Recommended investigations
3. Treatment considerations
4. ICD-10 codes for top diagnoses
5. Red flags to watch for
6. Follow-up recommendations

Provide evidence-based reasoning for each diagnosis.`, strings.TrimSpace(caseDescription), data)
}

// Research formats a literature query, optionally scoped to a specialty.
func Research(query, specialty string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Medical Knowledge Search Query: %s\n", strings.TrimSpace(query))
	if s := strings.TrimSpace(specialty); s != "" {
		fmt.Fprintf(&b, "Specialty Focus: %s\n", s)
	}
	b.WriteString(`
Please provide:
1. Current evidence-based information
2. Recent research findings
3. Clinical guidelines
4. Treatment protocols
5. Relevant medical literature references

Focus on practical, actionable medical information.`)
	return b.String()
}

func writePatientInfo(b *strings.Builder, info PatientInfo) {
	b.WriteString("Patient Information:\n")
	if info.Age != nil {
		fmt.Fprintf(b, "Age: %d\n", *info.Age)
	} else {
		fmt.Fprintf(b, "Age: %s\n", notSpecified)
	}
	gender := strings.TrimSpace(info.Gender)
	if gender == "" {
		gender = notSpecified
	}
	fmt.Fprintf(b, "Gender: %s\n", gender)
	history := "None provided"
	if len(info.MedicalHistory) > 0 {
		history = strings.Join(info.MedicalHistory, ", ")
	}
	fmt.Fprintf(b, "Medical History: %s\n", history)
}
