package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/medassist-platform/internal/portal"
)

// MemoryStore is a Store kept in process memory. It backs local runs and tests.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	now           func() time.Time
	lastTouch     time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		now:           time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return invalid("conversation", "id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; exists {
		return invalid("conversation", "id already exists")
	}
	for _, existing := range s.conversations {
		if existing.SessionID == conv.SessionID {
			return invalid("sessionId", "already exists")
		}
	}
	stored := cloneConversation(conv)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.conversations[conv.ID] = stored
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) FindOwned(_ context.Context, id, userID string, p portal.Portal) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.ownedLocked(id, userID, p)
	if err != nil {
		return nil, err
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) LatestActive(_ context.Context, userID string, p portal.Portal) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Conversation
	for _, conv := range s.conversations {
		if conv.UserID != userID || conv.Portal != p || !conv.IsActive {
			continue
		}
		if latest == nil || conv.UpdatedAt.After(latest.UpdatedAt) {
			latest = conv
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneConversation(latest), nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, id string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	if last, ok := conv.LastMessage(); ok && msg.Timestamp.Before(last.Timestamp) {
		msg.Timestamp = last.Timestamp
	}
	if conv.Title == "" && msg.Role == RoleUser {
		conv.Title = DeriveTitle(msg.Content)
	}
	supersedePending(conv.Messages)
	stored := cloneMessage(msg)
	conv.Messages = append(conv.Messages, stored)
	conv.UpdatedAt = s.touch(conv.UpdatedAt)
	return cloneMessage(stored), nil
}

func (s *MemoryStore) MergeContext(_ context.Context, id string, p portal.Portal, update portal.Context) (portal.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return portal.Context{}, ErrNotFound
	}
	merged, err := conv.Context.Merge(p, update)
	if err != nil {
		return portal.Context{}, invalid("context", err.Error())
	}
	conv.Context = merged
	conv.UpdatedAt = s.touch(conv.UpdatedAt)
	return merged.Clone(), nil
}

func (s *MemoryStore) ResolveReview(_ context.Context, id string, decision ReviewDecision) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	n := len(conv.Messages)
	if n == 0 {
		return Message{}, ErrReviewConflict
	}
	last := &conv.Messages[n-1]
	if last.Role != RoleAssistant || !last.Metadata.NeedsReview() {
		return Message{}, ErrReviewConflict
	}
	if decision.MessageID != "" && last.ID != decision.MessageID {
		return Message{}, ErrReviewConflict
	}
	at := decision.At
	last.Metadata.Review = &Review{
		NeedsReview: false,
		Status:      decision.Status,
		ReviewedBy:  decision.ReviewerID,
		ReviewedAt:  &at,
		Feedback:    decision.Feedback,
	}
	conv.UpdatedAt = s.touch(conv.UpdatedAt)
	return cloneMessage(*last), nil
}

func (s *MemoryStore) List(_ context.Context, userID string, p portal.Portal, page Page) ([]Summary, int, error) {
	page = page.Normalize()
	s.mu.Lock()
	var matched []*Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID && conv.Portal == p {
			matched = append(matched, conv)
		}
	}
	sortByUpdatedDesc(matched)
	out := make([]Summary, 0, page.Size)
	for _, conv := range paginate(matched, page) {
		out = append(out, summarize(conv))
	}
	s.mu.Unlock()
	return out, len(matched), nil
}

func (s *MemoryStore) ListPendingReview(_ context.Context, page Page) ([]PendingReview, int, error) {
	page = page.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*Conversation
	for _, conv := range s.conversations {
		if conv.Portal != portal.PatientAssist {
			continue
		}
		for _, msg := range conv.Messages {
			if msg.Metadata.NeedsReview() {
				matched = append(matched, conv)
				break
			}
		}
	}
	sortByUpdatedDesc(matched)

	var pending []PendingReview
	for _, conv := range matched {
		for _, msg := range conv.Messages {
			if !msg.Metadata.NeedsReview() {
				continue
			}
			pending = append(pending, PendingReview{
				ConversationID: conv.ID,
				PatientRef:     conv.UserID,
				Title:          conv.Title,
				Message:        cloneMessage(msg),
				UpdatedAt:      conv.UpdatedAt,
			})
		}
	}
	total := len(pending)
	start := page.Offset()
	if start >= total {
		return []PendingReview{}, total, nil
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return pending[start:end], total, nil
}

func (s *MemoryStore) Rate(_ context.Context, id, userID string, p portal.Portal, rating int, feedback string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.ownedLocked(id, userID, p)
	if err != nil {
		return err
	}
	if conv.Rating != 0 {
		return ErrAlreadyRated
	}
	conv.Rating = rating
	conv.Feedback = feedback
	conv.UpdatedAt = s.touch(conv.UpdatedAt)
	return nil
}

func (s *MemoryStore) End(_ context.Context, id, userID string, p portal.Portal, summary string, recommendations []string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.ownedLocked(id, userID, p)
	if err != nil {
		return nil, err
	}
	conv.IsActive = false
	conv.Summary = summary
	conv.Recommendations = append([]string(nil), recommendations...)
	conv.UpdatedAt = s.touch(conv.UpdatedAt)
	return cloneConversation(conv), nil
}

func (s *MemoryStore) ListExpired(_ context.Context, before time.Time, after *ExpiredCursor, limit int) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*Conversation
	for _, conv := range s.conversations {
		if conv.IsActive || !conv.UpdatedAt.Before(before) {
			continue
		}
		if after != nil && !expiredAfter(conv, after) {
			continue
		}
		matched = append(matched, conv)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*Conversation, 0, len(matched))
	for _, conv := range matched {
		out = append(out, cloneConversation(conv))
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) ownedLocked(id, userID string, p portal.Portal) (*Conversation, error) {
	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID || conv.Portal != p {
		return nil, ErrNotFound
	}
	return conv, nil
}

// touch returns a timestamp strictly after prev and after every earlier touch,
// so updatedAt ordering across conversations follows mutation order.
func (s *MemoryStore) touch(prev time.Time) time.Time {
	now := s.now()
	if s.lastTouch.After(prev) {
		prev = s.lastTouch
	}
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	s.lastTouch = now
	return now
}

// expiredAfter orders conversations by (UpdatedAt, ID).
func expiredAfter(conv *Conversation, cursor *ExpiredCursor) bool {
	if conv.UpdatedAt.Equal(cursor.UpdatedAt) {
		return conv.ID > cursor.ID
	}
	return conv.UpdatedAt.After(cursor.UpdatedAt)
}

// supersedePending closes out replies still waiting for review. Only the
// trailing message of a conversation may be pending.
func supersedePending(msgs []Message) {
	for i := range msgs {
		if msgs[i].Metadata.NeedsReview() {
			msgs[i].Metadata.Review = &Review{Status: ReviewSuperseded}
		}
	}
}

func sortByUpdatedDesc(convs []*Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}

func paginate(convs []*Conversation, page Page) []*Conversation {
	start := page.Offset()
	if start >= len(convs) {
		return nil
	}
	end := start + page.Size
	if end > len(convs) {
		end = len(convs)
	}
	return convs[start:end]
}
