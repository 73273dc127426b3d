package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medassist-platform/internal/portal"
)

// ReviewAction is a clinician decision on a pending reply.
type ReviewAction string

const (
	ReviewApprove ReviewAction = "approve"
	ReviewReject  ReviewAction = "reject"
)

// ParseReviewAction accepts approve or reject, case-insensitively.
func ParseReviewAction(raw string) (ReviewAction, error) {
	switch ReviewAction(strings.ToLower(strings.TrimSpace(raw))) {
	case ReviewApprove:
		return ReviewApprove, nil
	case ReviewReject:
		return ReviewReject, nil
	}
	return "", invalid("action", fmt.Sprintf("must be %q or %q", ReviewApprove, ReviewReject))
}

func (a ReviewAction) status() ReviewStatus {
	if a == ReviewApprove {
		return ReviewApproved
	}
	return ReviewRejected
}

// ReviewMessage resolves the pending trailing reply of a patient assist
// conversation. The reviewer must not own the conversation, and a reply can be
// resolved only once; later attempts fail with ErrReviewConflict. A non-empty
// messageID pins the decision to the reply the reviewer read: if the
// conversation has moved on, the review fails with ErrReviewConflict.
func (s *Service) ReviewMessage(ctx context.Context, conversationID, messageID, reviewerID string, action ReviewAction, feedback string) (Message, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return Message{}, invalid("reviewerId", "is required")
	}
	if action != ReviewApprove && action != ReviewReject {
		return Message{}, invalid("action", fmt.Sprintf("must be %q or %q", ReviewApprove, ReviewReject))
	}

	ctx, span := serviceTracer.Start(ctx, "conversation.review_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("medassist.conversation_id", conversationID),
		attribute.String("medassist.review_action", string(action)),
		attribute.String("medassist.message_id", messageID),
	)

	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}
	if conv.Portal != portal.PatientAssist {
		s.metrics.ObserveReview(string(action), "conflict")
		return Message{}, ErrReviewConflict
	}
	if conv.UserID == reviewerID {
		s.metrics.ObserveReview(string(action), "forbidden")
		return Message{}, ErrForbidden
	}

	feedback = strings.TrimSpace(feedback)
	msg, err := s.store.ResolveReview(ctx, conversationID, ReviewDecision{
		MessageID:  strings.TrimSpace(messageID),
		ReviewerID: reviewerID,
		Status:     action.status(),
		Feedback:   feedback,
		At:         s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrReviewConflict) {
			s.metrics.ObserveReview(string(action), "conflict")
		}
		return Message{}, err
	}
	s.metrics.ObserveReview(string(action), "success")

	if s.audit != nil {
		if err := s.audit.LogReviewDecision(ctx, conversationID, msg.ID, reviewerID, string(action), feedback); err != nil {
			s.logger.Error("failed to audit review decision", "conversation_id", conversationID, "message_id", msg.ID, "error", err)
		}
	}
	s.logger.Info("assistant reply reviewed",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"reviewer_id", reviewerID,
		"action", action,
	)
	return msg, nil
}

// ListPendingReview returns replies awaiting review across all owners, most
// recently updated conversations first.
func (s *Service) ListPendingReview(ctx context.Context, page Page) ([]PendingReview, int, error) {
	items, total, err := s.store.ListPendingReview(ctx, page.Normalize())
	if err != nil {
		return nil, 0, err
	}
	s.metrics.SetPendingReviews(total)
	return items, total, nil
}
