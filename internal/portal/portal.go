// Package portal defines the closed set of usage contexts a conversation can
// belong to and the per-portal caller context attached to it.
package portal

import (
	"fmt"
	"strings"
)

// Portal selects the prompt template, generation parameters, context shape and
// review policy for a conversation.
type Portal string

const (
	Wellness        Portal = "wellness"
	ClinicalSupport Portal = "clinical_support"
	PatientAssist   Portal = "patient_assist"
)

// legacyAssist is the older name of the clinician portal still sent by some clients.
const legacyAssist = "assist"

// All returns every portal in a stable order.
func All() []Portal {
	return []Portal{Wellness, ClinicalSupport, PatientAssist}
}

// Parse normalizes a portal name. The legacy "assist" name maps to ClinicalSupport.
func Parse(raw string) (Portal, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == legacyAssist {
		return ClinicalSupport, nil
	}
	p := Portal(name)
	if !p.Valid() {
		return "", fmt.Errorf("portal: unknown portal %q", raw)
	}
	return p, nil
}

// Valid reports whether p is one of the known portals.
func (p Portal) Valid() bool {
	switch p {
	case Wellness, ClinicalSupport, PatientAssist:
		return true
	}
	return false
}

// RequiresReview reports whether assistant replies in p must pass clinician review.
func (p Portal) RequiresReview() bool {
	return p == PatientAssist
}

// PatientFacing reports whether replies in p are read by patients rather than clinicians.
func (p Portal) PatientFacing() bool {
	return p != ClinicalSupport
}

func (p Portal) String() string { return string(p) }

// Urgency is the triage tier assigned to an assistant reply.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// Rank orders tiers from low (1) to emergency (4). Unknown values rank 0.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyEmergency:
		return 4
	}
	return 0
}

// Valid reports whether u is a known tier.
func (u Urgency) Valid() bool { return u.Rank() > 0 }
