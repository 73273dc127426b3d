package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown conversations and for owner or portal mismatches.
	ErrNotFound = errors.New("conversation: not found")
	// ErrForbidden is returned when a principal may not perform the action.
	ErrForbidden = errors.New("conversation: forbidden")
	// ErrReviewConflict is returned when the target is not a pending trailing assistant reply.
	ErrReviewConflict = errors.New("conversation: review conflict")
	// ErrAlreadyRated is returned on a second rating attempt.
	ErrAlreadyRated = errors.New("conversation: already rated")
	// ErrConversationEnded is returned when appending to an inactive conversation.
	ErrConversationEnded = errors.New("conversation: conversation has ended")
)

// ValidationError reports a missing or malformed input. It is raised before any
// external call or store mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("conversation: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
