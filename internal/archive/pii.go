package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// Applied in order: labelled identifiers first so their digits are not
// consumed by the looser phone pattern.
var scrubbers = []struct {
	re   *regexp.Regexp
	mask string
}{
	{regexp.MustCompile(`(?i)\b(?:MRN|medical record(?: number| no\.?)?)\s*[:#]?\s*[A-Z]*\d[A-Z0-9-]{3,}`), "[MRN]"},
	{regexp.MustCompile(`(?i)\b(?:DOB|date of birth|born on)\s*[:]?\s*\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}`), "[DOB]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`), "[PHONE]"},
}

// HashUser returns the hex SHA-256 of a user id so archived records can be
// grouped per patient without naming them.
func HashUser(userID string) string {
	h := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(h[:])
}

// ScrubPII masks direct identifiers. Symptoms, medications and other
// clinical content are kept.
func ScrubPII(text string) string {
	for _, s := range scrubbers {
		text = s.re.ReplaceAllString(text, s.mask)
	}
	return text
}

func scrubAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = ScrubPII(v)
	}
	return out
}
