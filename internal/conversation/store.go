package conversation

import (
	"context"
	"time"

	"github.com/wolfman30/medassist-platform/internal/portal"
)

// ExpiredCursor is the position of the last conversation returned by ListExpired.
type ExpiredCursor struct {
	UpdatedAt time.Time
	ID        string
}

// cursorFor positions a listing after conv.
func cursorFor(conv *Conversation) *ExpiredCursor {
	return &ExpiredCursor{UpdatedAt: conv.UpdatedAt, ID: conv.ID}
}

// Store is the durable conversation record. Every mutation is atomic on its own;
// concurrent appends to one conversation interleave without loss.
type Store interface {
	Create(ctx context.Context, conv *Conversation) error
	// Get loads a conversation regardless of owner. Used only by the review workflow.
	Get(ctx context.Context, id string) (*Conversation, error)
	// FindOwned loads a conversation keyed on id, owner and portal. Any mismatch is ErrNotFound.
	FindOwned(ctx context.Context, id, userID string, p portal.Portal) (*Conversation, error)
	// LatestActive returns the most recently updated active conversation of the owner in p.
	LatestActive(ctx context.Context, userID string, p portal.Portal) (*Conversation, error)
	// AppendMessage stores msg at the end of the transcript. The timestamp is clamped so it
	// never precedes the previous message, and the title is derived from the first user message.
	AppendMessage(ctx context.Context, id string, msg Message) (Message, error)
	// MergeContext overlays update onto the stored context and returns the result.
	MergeContext(ctx context.Context, id string, p portal.Portal, update portal.Context) (portal.Context, error)
	// ResolveReview moves the trailing assistant message out of pending review. It fails with
	// ErrReviewConflict unless that message still has needsReview set and, when the decision
	// names a message, is that message. Appending any message supersedes earlier pending replies.
	ResolveReview(ctx context.Context, id string, decision ReviewDecision) (Message, error)
	List(ctx context.Context, userID string, p portal.Portal, page Page) ([]Summary, int, error)
	ListPendingReview(ctx context.Context, page Page) ([]PendingReview, int, error)
	// Rate sets rating and feedback once. A second call fails with ErrAlreadyRated.
	Rate(ctx context.Context, id, userID string, p portal.Portal, rating int, feedback string) error
	End(ctx context.Context, id, userID string, p portal.Portal, summary string, recommendations []string) (*Conversation, error)
	// ListExpired returns inactive conversations not updated since before, oldest first.
	// A non-nil after resumes the listing past that conversation.
	ListExpired(ctx context.Context, before time.Time, after *ExpiredCursor, limit int) ([]*Conversation, error)
	Delete(ctx context.Context, id string) error
}
