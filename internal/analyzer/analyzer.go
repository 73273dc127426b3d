// Package analyzer turns raw model text into structured triage signals using
// fixed keyword and pattern tables. Changing a table changes behavior.
package analyzer

import (
	"math"
	"regexp"
	"strings"

	"github.com/wolfman30/medassist-platform/internal/portal"
)

const (
	baseConfidence  = 0.7
	confidenceDelta = 0.1
	maxConfidence   = 1.0
	maxListItems    = 5
)

// Confidence boosts. Matching is case-sensitive.
var (
	evidencePhrases  = []string{"evidence-based", "research shows"}
	emergencyPhrases = []string{"seek immediate medical attention", "emergency"}
	codedMarker      = "ICD-10"
)

type urgencyTier struct {
	level    portal.Urgency
	keywords []string
}

// urgencyTiers is scanned in order against lower-cased text; the first hit wins.
var urgencyTiers = []urgencyTier{
	{portal.UrgencyEmergency, []string{"emergency", "urgent", "immediate", "call 911", "call emergency services", "hospital now"}},
	{portal.UrgencyHigh, []string{"high priority", "see doctor today", "urgent care"}},
	{portal.UrgencyMedium, []string{"see doctor", "medical attention", "consult physician"}},
	{portal.UrgencyLow, []string{"monitor", "self-care", "home remedies"}},
}

var (
	numberedLine     = regexp.MustCompile(`^\d+\.`)
	bulletLine       = regexp.MustCompile(`^[-*]`)
	codePattern      = regexp.MustCompile(`[A-Z]\d{2}(?:\.\d+)?`)
	recommendKeyword = "recommend"
	diagnosisExclude = "ICD"
)

// Analysis is the structured output attached to an assistant message.
// Fields not produced for the portal are left empty.
type Analysis struct {
	Confidence      float64
	UrgencyLevel    portal.Urgency
	Recommendations []string
	Diagnoses       []string
	Codes           []string
}

// Analyze extracts the signals relevant to p from raw.
func Analyze(raw string, p portal.Portal) Analysis {
	out := Analysis{Confidence: Confidence(raw, p)}
	switch p {
	case portal.ClinicalSupport:
		out.Diagnoses = Diagnoses(raw)
		out.Codes = Codes(raw)
	default:
		out.UrgencyLevel = Urgency(raw)
		out.Recommendations = Recommendations(raw)
	}
	return out
}

// Confidence scores raw between 0.7 and 1.0.
func Confidence(raw string, p portal.Portal) float64 {
	score := baseConfidence
	if containsAny(raw, evidencePhrases) {
		score += confidenceDelta
	}
	if containsAny(raw, emergencyPhrases) {
		score += confidenceDelta
	}
	if p == portal.ClinicalSupport && strings.Contains(raw, codedMarker) {
		score += confidenceDelta
	}
	score = math.Round(score*100) / 100
	return math.Min(score, maxConfidence)
}

// Urgency returns the highest-priority tier whose keywords appear in raw.
func Urgency(raw string) portal.Urgency {
	lower := strings.ToLower(raw)
	for _, tier := range urgencyTiers {
		if containsAny(lower, tier.keywords) {
			return tier.level
		}
	}
	return portal.UrgencyLow
}

// Recommendations returns up to five numbered, bulleted or "recommend" lines.
func Recommendations(raw string) []string {
	return collectLines(raw, func(line string) bool {
		return numberedLine.MatchString(line) || bulletLine.MatchString(line) || strings.Contains(line, recommendKeyword)
	})
}

// Diagnoses returns up to five numbered lines that are not code references.
func Diagnoses(raw string) []string {
	return collectLines(raw, func(line string) bool {
		return numberedLine.MatchString(line) && !strings.Contains(line, diagnosisExclude)
	})
}

// Codes returns distinct ICD-style identifiers in order of first appearance.
func Codes(raw string) []string {
	matches := codePattern.FindAllString(raw, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func collectLines(raw string, match func(string) bool) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if !match(line) {
			continue
		}
		out = append(out, strings.TrimSpace(line))
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
